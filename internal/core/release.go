package core

import (
	"context"
	"errors"
	"net/http"

	"pkt.systems/reservd/internal/ledger"
)

// ReleaseCommand returns a reservation's units to the free pool.
type ReleaseCommand struct {
	ReservationID string
}

// ReleaseResult reports which units were freed and the item version that
// recorded the release.
type ReleaseResult struct {
	ReservationID string
	ItemID        string
	Units         []int
	Version       int64
}

// Release frees the reservation's units and marks the reservation released.
// Releasing an already released or unknown reservation fails without
// touching the item.
func (s *Service) Release(ctx context.Context, cmd ReleaseCommand) (*ReleaseResult, error) {
	if err := validateID("reservation_id", cmd.ReservationID); err != nil {
		return nil, err
	}

	logger := s.contextLogger(ctx)

	reservation, err := s.store.Reservation(ctx, cmd.ReservationID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, Failure{
				Code:       CodeNotFound,
				Detail:     "reservation not found",
				HTTPStatus: http.StatusNotFound,
			}
		}
		return nil, err
	}
	if reservation.Released() {
		return nil, Failure{
			Code:       CodeAlreadyReleased,
			Detail:     "reservation already released",
			HTTPStatus: http.StatusConflict,
		}
	}

	var version int64
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, Failure{
				Code:       CodeDeadlineExceeded,
				Detail:     "caller deadline reached before release",
				HTTPStatus: http.StatusRequestTimeout,
			}
		}

		item, err := s.store.Item(ctx, reservation.ItemID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return nil, Failure{
					Code:       CodeNotFound,
					Detail:     "item not found",
					HTTPStatus: http.StatusNotFound,
				}
			}
			return nil, err
		}

		// A concurrent duplicate release may already have freed these
		// units, and a later reservation may even hold them again. Re-read
		// the reservation and require every unit to still be occupied
		// before committing the removal; otherwise the removal would strip
		// units that no longer belong to this reservation.
		current, err := s.store.Reservation(ctx, cmd.ReservationID)
		if err != nil {
			return nil, err
		}
		if current.Released() || !unitsOccupied(item.Occupied, reservation.Units) {
			return nil, Failure{
				Code:       CodeAlreadyReleased,
				Detail:     "reservation already released",
				HTTPStatus: http.StatusConflict,
			}
		}

		version, err = s.store.ReleaseOccupied(ctx, reservation.ItemID, reservation.Units, item.Version)
		if err == nil {
			break
		}
		if !errors.Is(err, ledger.ErrCASMismatch) {
			return nil, err
		}
		if attempt == s.retry.MaxAttempts {
			return nil, Failure{
				Code:       CodeDeadlineExceeded,
				Detail:     "conflict retry budget exhausted",
				RetryAfter: 1,
				HTTPStatus: http.StatusServiceUnavailable,
			}
		}
		delay := s.retry.Delay(attempt)
		logger.Debug("release.conflict",
			"reservation", cmd.ReservationID,
			"item", reservation.ItemID,
			"attempt", attempt,
			"retry_in", delay,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, Failure{
				Code:       CodeDeadlineExceeded,
				Detail:     "caller deadline reached before release",
				HTTPStatus: http.StatusRequestTimeout,
			}
		}
	}

	if err := s.store.MarkReservationReleased(ctx, cmd.ReservationID, s.clock.Now().Unix()); err != nil {
		if errors.Is(err, ledger.ErrAlreadyReleased) {
			// A concurrent release won the mark.
			return nil, Failure{
				Code:       CodeAlreadyReleased,
				Detail:     "reservation already released",
				HTTPStatus: http.StatusConflict,
			}
		}
		return nil, err
	}

	logger.Info("release.committed",
		"reservation", cmd.ReservationID,
		"item", reservation.ItemID,
		"units", reservation.Units,
		"version", version,
	)
	return &ReleaseResult{
		ReservationID: cmd.ReservationID,
		ItemID:        reservation.ItemID,
		Units:         append([]int(nil), reservation.Units...),
		Version:       version,
	}, nil
}

// unitsOccupied reports whether every unit is present in the occupied set.
// Both slices are sorted ascending.
func unitsOccupied(occupied, units []int) bool {
	taken := make(map[int]struct{}, len(occupied))
	for _, unit := range occupied {
		taken[unit] = struct{}{}
	}
	for _, unit := range units {
		if _, ok := taken[unit]; !ok {
			return false
		}
	}
	return true
}
