package core

import (
	"context"
	"errors"
	"net/http"

	"pkt.systems/reservd/internal/allocator"
	"pkt.systems/reservd/internal/ledger"
	"pkt.systems/reservd/internal/uuidv7"
)

// ReserveCommand asks for quantity units of one item. RequestID is the
// caller-chosen idempotency key, unique per logical attempt.
type ReserveCommand struct {
	RequestID string
	ItemID    string
	Quantity  int
}

// ReserveResult is the successful outcome of a reservation.
type ReserveResult struct {
	ReservationID string
	ItemID        string
	Units         []int
	Version       int64
	// Replayed is true when the result was served from the idempotency
	// guard instead of a fresh allocation.
	Replayed bool
}

// Reserve runs one reservation end to end: guard check, ledger read, unit
// allocation, CAS commit, and bounded conflict retry. Exactly one terminal
// outcome is recorded per request ID before the caller sees it.
func (s *Service) Reserve(ctx context.Context, cmd ReserveCommand) (*ReserveResult, error) {
	if err := validateID("request_id", cmd.RequestID); err != nil {
		return nil, err
	}
	if err := validateID("item_id", cmd.ItemID); err != nil {
		return nil, err
	}
	if cmd.Quantity <= 0 {
		return nil, Failure{
			Code:       CodeInvalidQuantity,
			Detail:     "quantity must be positive",
			HTTPStatus: http.StatusBadRequest,
		}
	}

	logger := s.contextLogger(ctx)

	guard, created, err := s.store.BeginGuard(ctx, ledger.GuardRecord{
		RequestID:     cmd.RequestID,
		State:         ledger.GuardStatePending,
		CreatedAtUnix: s.clock.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	if !created {
		if guard.Terminal() {
			logger.Debug("reserve.replay", "request", cmd.RequestID, "outcome", guard.Outcome.Code)
			return outcomeToResult(*guard.Outcome, true)
		}
		// Another handler owns this request ID right now; the client will
		// observe its outcome on a later retry.
		return nil, Failure{
			Code:       CodeRequestInFlight,
			Detail:     "request is being processed",
			RetryAfter: 1,
			HTTPStatus: http.StatusConflict,
		}
	}

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, s.abortPending(ctx, cmd.RequestID, err)
		}

		item, err := s.store.Item(ctx, cmd.ItemID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return s.finishWith(ctx, cmd.RequestID, ledger.GuardOutcome{
					Code:   ledger.OutcomeNotFound,
					Detail: "item not found",
				})
			}
			return nil, s.abortPending(ctx, cmd.RequestID, err)
		}

		units, err := allocator.Allocate(item.Capacity, item.Occupied, cmd.Quantity)
		if err != nil {
			if errors.Is(err, allocator.ErrOutOfStock) {
				logger.Debug("reserve.out_of_stock",
					"request", cmd.RequestID,
					"item", cmd.ItemID,
					"quantity", cmd.Quantity,
					"free", allocator.Free(item.Capacity, item.Occupied),
				)
				return s.finishWith(ctx, cmd.RequestID, ledger.GuardOutcome{
					Code:   ledger.OutcomeOutOfStock,
					Detail: "insufficient free units",
				})
			}
			return nil, s.abortPending(ctx, cmd.RequestID, err)
		}

		occupied := ledger.NormalizeUnits(append(append([]int(nil), item.Occupied...), units...))
		newVersion, err := s.store.CommitOccupied(ctx, cmd.ItemID, item.Version, occupied)
		if err != nil {
			if errors.Is(err, ledger.ErrCASMismatch) {
				if attempt == s.retry.MaxAttempts {
					logger.Debug("reserve.deadline_exceeded",
						"request", cmd.RequestID,
						"item", cmd.ItemID,
						"attempts", attempt,
					)
					return s.finishWith(ctx, cmd.RequestID, ledger.GuardOutcome{
						Code:   ledger.OutcomeDeadlineExceeded,
						Detail: "conflict retry budget exhausted",
					})
				}
				delay := s.retry.Delay(attempt)
				logger.Debug("reserve.conflict",
					"request", cmd.RequestID,
					"item", cmd.ItemID,
					"attempt", attempt,
					"retry_in", delay,
				)
				if err := s.sleep(ctx, delay); err != nil {
					return nil, s.abortPending(ctx, cmd.RequestID, err)
				}
				continue
			}
			return nil, s.abortPending(ctx, cmd.RequestID, err)
		}

		return s.commitReservation(ctx, cmd, units, newVersion)
	}
	// Unreachable: the final conflicting attempt finishes the guard above.
	return s.finishWith(ctx, cmd.RequestID, ledger.GuardOutcome{
		Code:   ledger.OutcomeDeadlineExceeded,
		Detail: "conflict retry budget exhausted",
	})
}

// commitReservation persists the reservation record and records the terminal
// outcome. Units are already committed; every failure path from here must
// compensate by releasing them.
func (s *Service) commitReservation(ctx context.Context, cmd ReserveCommand, units []int, version int64) (*ReserveResult, error) {
	logger := s.contextLogger(ctx)
	reservation := ledger.ReservationRecord{
		ReservationID:    uuidv7.NewString(),
		ItemID:           cmd.ItemID,
		Units:            units,
		CommittedVersion: version,
		CreatedAtUnix:    s.clock.Now().Unix(),
	}
	if err := s.store.PutReservation(ctx, reservation); err != nil {
		s.compensate(ctx, cmd.ItemID, units, version)
		return nil, s.abortPending(ctx, cmd.RequestID, err)
	}

	winner, err := s.store.FinishGuard(ctx, cmd.RequestID, ledger.GuardOutcome{
		Code:        ledger.OutcomeReserved,
		Reservation: &reservation,
	}, s.clock.Now().Unix())
	if err != nil {
		s.compensate(ctx, cmd.ItemID, units, version)
		return nil, err
	}
	if winner.Outcome == nil || winner.Outcome.Code != ledger.OutcomeReserved ||
		winner.Outcome.Reservation == nil ||
		winner.Outcome.Reservation.ReservationID != reservation.ReservationID {
		// A competing handler recorded the terminal outcome first. Our
		// units must not stay allocated; free them and adopt the record.
		logger.Warn("reserve.lost_guard_race", "request", cmd.RequestID, "item", cmd.ItemID)
		s.compensate(ctx, cmd.ItemID, units, version)
		return outcomeToResult(*winner.Outcome, true)
	}

	logger.Info("reserve.committed",
		"request", cmd.RequestID,
		"item", cmd.ItemID,
		"reservation", reservation.ReservationID,
		"units", units,
		"version", version,
	)
	return &ReserveResult{
		ReservationID: reservation.ReservationID,
		ItemID:        cmd.ItemID,
		Units:         append([]int(nil), units...),
		Version:       version,
	}, nil
}

// compensate releases units committed by an attempt whose outcome was
// superseded. Best effort: the CAS loop is bounded and failures are logged,
// not surfaced, because the caller-visible outcome is already decided.
func (s *Service) compensate(ctx context.Context, itemID string, units []int, version int64) {
	// The attempt is often being unwound because ctx was cancelled; the
	// release must still reach the store or the units leak.
	ctx = context.WithoutCancel(ctx)
	logger := s.contextLogger(ctx)
	expected := version
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		if _, err := s.store.ReleaseOccupied(ctx, itemID, units, expected); err == nil {
			logger.Debug("reserve.compensated", "item", itemID, "units", units)
			return
		} else if !errors.Is(err, ledger.ErrCASMismatch) {
			logger.Error("reserve.compensate_failed", "item", itemID, "units", units, "error", err)
			return
		}
		item, err := s.store.Item(ctx, itemID)
		if err != nil {
			logger.Error("reserve.compensate_failed", "item", itemID, "units", units, "error", err)
			return
		}
		expected = item.Version
	}
	logger.Error("reserve.compensate_failed", "item", itemID, "units", units, "error", "retry budget exhausted")
}

// finishWith records a terminal failure outcome and returns it as the
// caller-visible error.
func (s *Service) finishWith(ctx context.Context, requestID string, outcome ledger.GuardOutcome) (*ReserveResult, error) {
	winner, err := s.store.FinishGuard(ctx, requestID, outcome, s.clock.Now().Unix())
	if err != nil {
		return nil, err
	}
	return outcomeToResult(*winner.Outcome, false)
}

// abortPending deletes the pending guard record so a later client retry
// re-executes instead of being stuck behind an orphaned claim. The original
// error is returned unchanged.
func (s *Service) abortPending(ctx context.Context, requestID string, cause error) error {
	// Abort must proceed even when cause is the caller's cancellation.
	if err := s.store.AbortGuard(context.WithoutCancel(ctx), requestID); err != nil &&
		!errors.Is(err, ledger.ErrNotFound) && !errors.Is(err, ledger.ErrGuardPending) {
		s.contextLogger(ctx).Warn("reserve.abort_guard_failed", "request", requestID, "error", err)
	}
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return Failure{
			Code:       CodeDeadlineExceeded,
			Detail:     "caller deadline reached before commit",
			HTTPStatus: http.StatusRequestTimeout,
		}
	}
	return cause
}

// outcomeToResult converts a terminal guard outcome into the caller-visible
// result or Failure. Replays return exactly what the first execution
// returned.
func outcomeToResult(outcome ledger.GuardOutcome, replayed bool) (*ReserveResult, error) {
	switch outcome.Code {
	case ledger.OutcomeReserved:
		res := outcome.Reservation
		return &ReserveResult{
			ReservationID: res.ReservationID,
			ItemID:        res.ItemID,
			Units:         append([]int(nil), res.Units...),
			Version:       res.CommittedVersion,
			Replayed:      replayed,
		}, nil
	case ledger.OutcomeOutOfStock:
		return nil, Failure{
			Code:       CodeOutOfStock,
			Detail:     outcome.Detail,
			HTTPStatus: http.StatusConflict,
		}
	case ledger.OutcomeDeadlineExceeded:
		return nil, Failure{
			Code:       CodeDeadlineExceeded,
			Detail:     outcome.Detail,
			RetryAfter: 1,
			HTTPStatus: http.StatusServiceUnavailable,
		}
	case ledger.OutcomeNotFound:
		return nil, Failure{
			Code:       CodeNotFound,
			Detail:     outcome.Detail,
			HTTPStatus: http.StatusNotFound,
		}
	default:
		return nil, Failure{
			Code:   CodeInvalidRequest,
			Detail: "unknown recorded outcome " + outcome.Code,
		}
	}
}
