// Package ledger defines the authoritative store for item, reservation, and
// idempotency-guard state.
//
// The store's compare-and-swap commit is the single linearization point per
// item: every cross-process coordination problem in the engine reduces to
// one atomic version check inside CommitOccupied or ReleaseOccupied. No
// other synchronization primitive exists, and no caller may cache occupied
// state between calls.
package ledger

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("ledger: not found")
	// ErrCASMismatch indicates the stored version no longer matches the
	// caller's expectation; a concurrent commit won.
	ErrCASMismatch = errors.New("ledger: cas mismatch")
	// ErrItemExists indicates CreateItem hit an existing item ID.
	ErrItemExists = errors.New("ledger: item exists")
	// ErrReservationExists indicates PutReservation hit an existing ID.
	ErrReservationExists = errors.New("ledger: reservation exists")
	// ErrAlreadyReleased indicates the reservation was released earlier.
	ErrAlreadyReleased = errors.New("ledger: reservation already released")
	// ErrGuardPending indicates AbortGuard targeted a terminal record.
	ErrGuardPending = errors.New("ledger: guard record not pending")
)

// Guard record states.
const (
	GuardStatePending  = "pending"
	GuardStateTerminal = "terminal"
)

// Guard outcome codes. A terminal guard record carries exactly one of these.
const (
	OutcomeReserved         = "reserved"
	OutcomeOutOfStock       = "out_of_stock"
	OutcomeDeadlineExceeded = "deadline_exceeded"
	OutcomeNotFound         = "not_found"
)

// ItemRecord is the authoritative per-item state. Unit IDs run 1..Capacity;
// Occupied is kept sorted ascending. Version starts at 0 and increases by
// exactly 1 on every successful commit or release.
type ItemRecord struct {
	ItemID        string `json:"item_id"`
	Capacity      int    `json:"capacity"`
	Occupied      []int  `json:"occupied_units,omitempty"`
	Version       int64  `json:"version"`
	UpdatedAtUnix int64  `json:"updated_at_unix,omitempty"`
}

// Clone returns a deep copy so stores never hand out shared slices.
func (r ItemRecord) Clone() ItemRecord {
	clone := r
	if len(r.Occupied) > 0 {
		clone.Occupied = append([]int(nil), r.Occupied...)
	}
	return clone
}

// ReservationRecord captures one committed reservation. Immutable after
// creation except ReleasedAtUnix, which is set exactly once by an explicit
// release.
type ReservationRecord struct {
	ReservationID    string `json:"reservation_id"`
	ItemID           string `json:"item_id"`
	Units            []int  `json:"units"`
	CommittedVersion int64  `json:"committed_version"`
	CreatedAtUnix    int64  `json:"created_at_unix,omitempty"`
	ReleasedAtUnix   int64  `json:"released_at_unix,omitempty"`
}

// Released reports whether the reservation's units have been freed.
func (r ReservationRecord) Released() bool {
	return r.ReleasedAtUnix != 0
}

// Clone returns a deep copy of the reservation record.
func (r ReservationRecord) Clone() ReservationRecord {
	clone := r
	if len(r.Units) > 0 {
		clone.Units = append([]int(nil), r.Units...)
	}
	return clone
}

// GuardOutcome is the terminal result recorded for a request ID.
type GuardOutcome struct {
	Code        string             `json:"code"`
	Detail      string             `json:"detail,omitempty"`
	Reservation *ReservationRecord `json:"reservation,omitempty"`
}

// Clone returns a deep copy of the outcome.
func (o GuardOutcome) Clone() GuardOutcome {
	clone := o
	if o.Reservation != nil {
		res := o.Reservation.Clone()
		clone.Reservation = &res
	}
	return clone
}

// GuardRecord maps a caller-supplied request ID to its processing state.
// Records begin pending, flip to terminal exactly once, and are evicted by
// the retention sweep.
type GuardRecord struct {
	RequestID      string        `json:"request_id"`
	State          string        `json:"state"`
	Outcome        *GuardOutcome `json:"outcome,omitempty"`
	CreatedAtUnix  int64         `json:"created_at_unix"`
	FinishedAtUnix int64         `json:"finished_at_unix,omitempty"`
}

// Terminal reports whether the record carries a terminal outcome.
func (g GuardRecord) Terminal() bool {
	return g.State == GuardStateTerminal
}

// Clone returns a deep copy of the guard record.
func (g GuardRecord) Clone() GuardRecord {
	clone := g
	if g.Outcome != nil {
		outcome := g.Outcome.Clone()
		clone.Outcome = &outcome
	}
	return clone
}

// Store is the authoritative ledger backing the reservation engine.
//
// CommitOccupied and ReleaseOccupied succeed only when the stored version
// equals expectedVersion; on success they atomically install the new
// occupied set and return expectedVersion+1. On mismatch they return
// ErrCASMismatch with no state change. Both must be atomic with respect to
// every other caller, in-process or not.
type Store interface {
	// CreateItem installs a new item record. ErrItemExists on duplicate ID.
	CreateItem(ctx context.Context, rec ItemRecord) error
	// Item returns a copy of the stored record, ErrNotFound when absent.
	Item(ctx context.Context, itemID string) (ItemRecord, error)
	// CommitOccupied replaces the occupied set under CAS.
	CommitOccupied(ctx context.Context, itemID string, expectedVersion int64, occupied []int) (int64, error)
	// ReleaseOccupied removes units from the occupied set under the same
	// CAS discipline.
	ReleaseOccupied(ctx context.Context, itemID string, units []int, expectedVersion int64) (int64, error)

	// BeginGuard installs rec when no record exists for its request ID and
	// reports created=true. When a record already exists the stored record
	// is returned with created=false and rec is ignored.
	BeginGuard(ctx context.Context, rec GuardRecord) (GuardRecord, bool, error)
	// FinishGuard flips a pending record to terminal. The first terminal
	// writer wins; later calls return the winning record untouched.
	// ErrNotFound when no record exists for requestID.
	FinishGuard(ctx context.Context, requestID string, outcome GuardOutcome, finishedAtUnix int64) (GuardRecord, error)
	// AbortGuard deletes a pending record so a later retry can re-execute.
	// ErrGuardPending when the record is already terminal, ErrNotFound when
	// absent.
	AbortGuard(ctx context.Context, requestID string) error
	// SweepGuards deletes guard records created before cutoffUnix and
	// returns how many were evicted.
	SweepGuards(ctx context.Context, cutoffUnix int64) (int, error)

	// PutReservation installs a reservation record (create-only).
	PutReservation(ctx context.Context, rec ReservationRecord) error
	// Reservation returns a copy of the stored record.
	Reservation(ctx context.Context, reservationID string) (ReservationRecord, error)
	// MarkReservationReleased stamps the release time exactly once.
	// ErrAlreadyReleased on repeat, ErrNotFound when absent.
	MarkReservationReleased(ctx context.Context, reservationID string, releasedAtUnix int64) error

	Close() error
}

// NormalizeUnits sorts units ascending and drops duplicates in place.
func NormalizeUnits(units []int) []int {
	if len(units) == 0 {
		return nil
	}
	sort.Ints(units)
	out := units[:1]
	for _, unit := range units[1:] {
		if unit != out[len(out)-1] {
			out = append(out, unit)
		}
	}
	return out
}

// RemoveUnits returns occupied minus units. Both inputs must be sorted.
func RemoveUnits(occupied, units []int) []int {
	if len(units) == 0 {
		return append([]int(nil), occupied...)
	}
	drop := make(map[int]struct{}, len(units))
	for _, unit := range units {
		drop[unit] = struct{}{}
	}
	out := make([]int, 0, len(occupied))
	for _, unit := range occupied {
		if _, ok := drop[unit]; ok {
			continue
		}
		out = append(out, unit)
	}
	return out
}

// ValidateOccupied rejects occupied sets that violate the capacity
// invariant. Backends call it as a final defense before committing.
func ValidateOccupied(capacity int, occupied []int) error {
	if len(occupied) > capacity {
		return errors.New("ledger: occupied exceeds capacity")
	}
	prev := 0
	for _, unit := range occupied {
		if unit < 1 || unit > capacity {
			return errors.New("ledger: unit outside 1..capacity")
		}
		if unit <= prev {
			return errors.New("ledger: occupied not strictly ascending")
		}
		prev = unit
	}
	return nil
}
