// Package memory implements ledger.Store in process memory; intended for
// tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/reservd/internal/ledger"
)

// Store holds all ledger state behind one RWMutex. Every accessor returns
// deep copies so callers can never mutate shared state.
type Store struct {
	mu           sync.RWMutex
	items        map[string]*ledger.ItemRecord
	guards       map[string]*ledger.GuardRecord
	reservations map[string]*ledger.ReservationRecord
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		items:        make(map[string]*ledger.ItemRecord),
		guards:       make(map[string]*ledger.GuardRecord),
		reservations: make(map[string]*ledger.ReservationRecord),
	}
}

// Close satisfies ledger.Store; the in-memory store has nothing to release.
func (s *Store) Close() error {
	return nil
}

// CreateItem installs a new item record.
func (s *Store) CreateItem(_ context.Context, rec ledger.ItemRecord) error {
	if err := ledger.ValidateOccupied(rec.Capacity, rec.Occupied); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[rec.ItemID]; exists {
		return ledger.ErrItemExists
	}
	clone := rec.Clone()
	s.items[rec.ItemID] = &clone
	return nil
}

// Item returns a copy of the stored item record.
func (s *Store) Item(_ context.Context, itemID string) (ledger.ItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[itemID]
	if !ok {
		return ledger.ItemRecord{}, ledger.ErrNotFound
	}
	return rec.Clone(), nil
}

// CommitOccupied replaces the occupied set when the stored version matches.
func (s *Store) CommitOccupied(_ context.Context, itemID string, expectedVersion int64, occupied []int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[itemID]
	if !ok {
		return 0, ledger.ErrNotFound
	}
	if rec.Version != expectedVersion {
		return 0, ledger.ErrCASMismatch
	}
	next := ledger.NormalizeUnits(append([]int(nil), occupied...))
	if err := ledger.ValidateOccupied(rec.Capacity, next); err != nil {
		return 0, err
	}
	rec.Occupied = next
	rec.Version++
	rec.UpdatedAtUnix = time.Now().Unix()
	return rec.Version, nil
}

// ReleaseOccupied removes units from the occupied set under CAS.
func (s *Store) ReleaseOccupied(_ context.Context, itemID string, units []int, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[itemID]
	if !ok {
		return 0, ledger.ErrNotFound
	}
	if rec.Version != expectedVersion {
		return 0, ledger.ErrCASMismatch
	}
	rec.Occupied = ledger.RemoveUnits(rec.Occupied, ledger.NormalizeUnits(append([]int(nil), units...)))
	rec.Version++
	rec.UpdatedAtUnix = time.Now().Unix()
	return rec.Version, nil
}

// BeginGuard installs rec unless a record already exists for the request ID.
func (s *Store) BeginGuard(_ context.Context, rec ledger.GuardRecord) (ledger.GuardRecord, bool, error) {
	if rec.RequestID == "" {
		return ledger.GuardRecord{}, false, fmt.Errorf("memory: guard request id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.guards[rec.RequestID]; ok {
		return existing.Clone(), false, nil
	}
	clone := rec.Clone()
	s.guards[rec.RequestID] = &clone
	return clone.Clone(), true, nil
}

// FinishGuard flips a pending guard record to terminal; first writer wins.
func (s *Store) FinishGuard(_ context.Context, requestID string, outcome ledger.GuardOutcome, finishedAtUnix int64) (ledger.GuardRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.guards[requestID]
	if !ok {
		return ledger.GuardRecord{}, ledger.ErrNotFound
	}
	if rec.Terminal() {
		return rec.Clone(), nil
	}
	clone := outcome.Clone()
	rec.State = ledger.GuardStateTerminal
	rec.Outcome = &clone
	rec.FinishedAtUnix = finishedAtUnix
	return rec.Clone(), nil
}

// AbortGuard deletes a pending guard record.
func (s *Store) AbortGuard(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.guards[requestID]
	if !ok {
		return ledger.ErrNotFound
	}
	if rec.Terminal() {
		return ledger.ErrGuardPending
	}
	delete(s.guards, requestID)
	return nil
}

// SweepGuards evicts guard records created before cutoffUnix.
func (s *Store) SweepGuards(_ context.Context, cutoffUnix int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, rec := range s.guards {
		if rec.CreatedAtUnix < cutoffUnix {
			delete(s.guards, id)
			evicted++
		}
	}
	return evicted, nil
}

// PutReservation installs a reservation record.
func (s *Store) PutReservation(_ context.Context, rec ledger.ReservationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reservations[rec.ReservationID]; exists {
		return ledger.ErrReservationExists
	}
	clone := rec.Clone()
	s.reservations[rec.ReservationID] = &clone
	return nil
}

// Reservation returns a copy of the stored reservation record.
func (s *Store) Reservation(_ context.Context, reservationID string) (ledger.ReservationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.reservations[reservationID]
	if !ok {
		return ledger.ReservationRecord{}, ledger.ErrNotFound
	}
	return rec.Clone(), nil
}

// MarkReservationReleased stamps the release time exactly once.
func (s *Store) MarkReservationReleased(_ context.Context, reservationID string, releasedAtUnix int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.reservations[reservationID]
	if !ok {
		return ledger.ErrNotFound
	}
	if rec.Released() {
		return ledger.ErrAlreadyReleased
	}
	rec.ReleasedAtUnix = releasedAtUnix
	return nil
}
