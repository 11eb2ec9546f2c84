// Package core orchestrates reservations end to end: idempotency guard,
// ledger read, unit allocation, CAS commit, and bounded conflict retry.
//
// The coordinator holds no item state between calls. The only mutable
// shared resource is the ledger, and it is only ever mutated through the
// store's CAS operations, so any number of coordinator instances in any
// number of processes can run against one store.
package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/reservd/internal/clock"
	"pkt.systems/reservd/internal/ledger"
	"pkt.systems/reservd/internal/loggingutil"
)

// Config carries the dependencies and behavioural knobs of the coordinator.
type Config struct {
	Store  ledger.Store
	Logger pslog.Logger
	Clock  clock.Clock
	Retry  RetryPolicy

	// GuardRetention is how long guard records are kept before the sweep
	// may evict them. Correctness does not depend on it; it bounds storage.
	GuardRetention time.Duration
}

// DefaultGuardRetention keeps guard records for a day, comfortably longer
// than any sane client retry horizon.
const DefaultGuardRetention = 24 * time.Hour

// Service executes reservation operations against one ledger store.
type Service struct {
	store     ledger.Store
	logger    pslog.Logger
	clock     clock.Clock
	retry     RetryPolicy
	retention time.Duration
}

// NewService wires a coordinator. Store is required; everything else
// defaults.
func NewService(cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	retention := cfg.GuardRetention
	if retention <= 0 {
		retention = DefaultGuardRetention
	}
	return &Service{
		store:     cfg.Store,
		logger:    loggingutil.EnsureLogger(cfg.Logger),
		clock:     clk,
		retry:     cfg.Retry.Normalize(),
		retention: retention,
	}
}

func (s *Service) contextLogger(ctx context.Context) pslog.Logger {
	if logger := pslog.LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return s.logger
}

// sleep blocks for d or until ctx is done, whichever comes first.
func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

func validateID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return Failure{
			Code:       CodeInvalidRequest,
			Detail:     field + " is required",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	return nil
}

// CreateItemCommand registers a new item with a fixed capacity.
type CreateItemCommand struct {
	ItemID   string
	Capacity int
}

// CreateItem installs an empty item at version 0.
func (s *Service) CreateItem(ctx context.Context, cmd CreateItemCommand) error {
	if err := validateID("item_id", cmd.ItemID); err != nil {
		return err
	}
	if cmd.Capacity <= 0 {
		return Failure{
			Code:       CodeInvalidRequest,
			Detail:     "capacity must be positive",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	rec := ledger.ItemRecord{
		ItemID:        cmd.ItemID,
		Capacity:      cmd.Capacity,
		UpdatedAtUnix: s.clock.Now().Unix(),
	}
	if err := s.store.CreateItem(ctx, rec); err != nil {
		if errors.Is(err, ledger.ErrItemExists) {
			return Failure{
				Code:       CodeItemExists,
				Detail:     "item already exists",
				HTTPStatus: http.StatusConflict,
			}
		}
		return err
	}
	s.contextLogger(ctx).Info("item.created", "item", cmd.ItemID, "capacity", cmd.Capacity)
	return nil
}

// AvailabilityResult is a point-in-time view of one item.
type AvailabilityResult struct {
	ItemID        string
	Capacity      int
	OccupiedCount int
	Version       int64
}

// Availability reports capacity and current occupancy for an item.
func (s *Service) Availability(ctx context.Context, itemID string) (*AvailabilityResult, error) {
	if err := validateID("item_id", itemID); err != nil {
		return nil, err
	}
	rec, err := s.store.Item(ctx, itemID)
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
	return &AvailabilityResult{
		ItemID:        rec.ItemID,
		Capacity:      rec.Capacity,
		OccupiedCount: len(rec.Occupied),
		Version:       rec.Version,
	}, nil
}

// SweepGuards evicts guard records older than the retention window and
// returns how many were removed. Retention is storage hygiene, not
// correctness: a record must outlive any client that might still retry its
// request ID.
func (s *Service) SweepGuards(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.retention).Unix()
	evicted, err := s.store.SweepGuards(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if evicted > 0 {
		s.contextLogger(ctx).Info("guard.sweep", "evicted", evicted, "cutoff_unix", cutoff)
	}
	return evicted, nil
}
