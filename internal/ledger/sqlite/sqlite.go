// Package sqlite implements ledger.Store on a SQLite database via the
// pure-Go modernc.org/sqlite driver. The version column provides CAS:
// UPDATE ... WHERE version = ? either moves exactly one row forward or
// reports a conflict.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pkt.systems/reservd/internal/ledger"
)

// Config controls the SQLite store.
type Config struct {
	// Path is the database file. ":memory:" is accepted for tests.
	Path string
	// BusyTimeout bounds how long concurrent writers wait on the SQLite
	// write lock before surfacing SQLITE_BUSY.
	BusyTimeout time.Duration
}

// DefaultBusyTimeout is applied when Config.BusyTimeout is zero.
const DefaultBusyTimeout = 5 * time.Second

// Store implements ledger.Store on one SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (creating when absent) the database and applies the schema.
func New(cfg Config) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite: database path required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// The modernc driver serializes all writes per connection; a single
	// connection avoids SQLITE_BUSY storms between pool members.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeUnits(units []int) (string, error) {
	if units == nil {
		units = []int{}
	}
	data, err := json.Marshal(units)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode units: %w", err)
	}
	return string(data), nil
}

func decodeUnits(raw string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	var units []int
	if err := json.Unmarshal([]byte(raw), &units); err != nil {
		return nil, fmt.Errorf("sqlite: decode units: %w", err)
	}
	if len(units) == 0 {
		return nil, nil
	}
	return units, nil
}

// CreateItem installs a new item record.
func (s *Store) CreateItem(ctx context.Context, rec ledger.ItemRecord) error {
	if err := ledger.ValidateOccupied(rec.Capacity, rec.Occupied); err != nil {
		return err
	}
	occupied, err := encodeUnits(rec.Occupied)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items (item_id, capacity, occupied_units, version, updated_at_unix)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (item_id) DO NOTHING`,
		rec.ItemID, rec.Capacity, occupied, rec.Version, rec.UpdatedAtUnix)
	if err != nil {
		return fmt.Errorf("sqlite: insert item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return ledger.ErrItemExists
	}
	return nil
}

// Item returns the stored item record.
func (s *Store) Item(ctx context.Context, itemID string) (ledger.ItemRecord, error) {
	return s.itemTx(ctx, s.db, itemID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) itemTx(ctx context.Context, q querier, itemID string) (ledger.ItemRecord, error) {
	var rec ledger.ItemRecord
	var occupied string
	err := q.QueryRowContext(ctx,
		`SELECT item_id, capacity, occupied_units, version, updated_at_unix
         FROM items WHERE item_id = ?`, itemID).
		Scan(&rec.ItemID, &rec.Capacity, &occupied, &rec.Version, &rec.UpdatedAtUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ItemRecord{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.ItemRecord{}, fmt.Errorf("sqlite: select item: %w", err)
	}
	rec.Occupied, err = decodeUnits(occupied)
	if err != nil {
		return ledger.ItemRecord{}, err
	}
	return rec, nil
}

// CommitOccupied replaces the occupied set when the stored version matches.
func (s *Store) CommitOccupied(ctx context.Context, itemID string, expectedVersion int64, occupied []int) (int64, error) {
	next := ledger.NormalizeUnits(append([]int(nil), occupied...))
	var newVersion int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := s.itemTx(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if rec.Version != expectedVersion {
			return ledger.ErrCASMismatch
		}
		if err := ledger.ValidateOccupied(rec.Capacity, next); err != nil {
			return err
		}
		encoded, err := encodeUnits(next)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE items SET occupied_units = ?, version = version + 1, updated_at_unix = ?
             WHERE item_id = ? AND version = ?`,
			encoded, time.Now().Unix(), itemID, expectedVersion)
		if err != nil {
			return fmt.Errorf("sqlite: update item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: rows affected: %w", err)
		}
		if affected == 0 {
			return ledger.ErrCASMismatch
		}
		newVersion = expectedVersion + 1
		return nil
	})
	return newVersion, err
}

// ReleaseOccupied removes units from the occupied set under CAS.
func (s *Store) ReleaseOccupied(ctx context.Context, itemID string, units []int, expectedVersion int64) (int64, error) {
	remove := ledger.NormalizeUnits(append([]int(nil), units...))
	var newVersion int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := s.itemTx(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if rec.Version != expectedVersion {
			return ledger.ErrCASMismatch
		}
		encoded, err := encodeUnits(ledger.RemoveUnits(rec.Occupied, remove))
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE items SET occupied_units = ?, version = version + 1, updated_at_unix = ?
             WHERE item_id = ? AND version = ?`,
			encoded, time.Now().Unix(), itemID, expectedVersion)
		if err != nil {
			return fmt.Errorf("sqlite: update item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: rows affected: %w", err)
		}
		if affected == 0 {
			return ledger.ErrCASMismatch
		}
		newVersion = expectedVersion + 1
		return nil
	})
	return newVersion, err
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit tx: %w", err)
	}
	return nil
}

func scanGuard(row *sql.Row) (ledger.GuardRecord, error) {
	var rec ledger.GuardRecord
	var outcome sql.NullString
	err := row.Scan(&rec.RequestID, &rec.State, &outcome, &rec.CreatedAtUnix, &rec.FinishedAtUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.GuardRecord{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.GuardRecord{}, fmt.Errorf("sqlite: select guard: %w", err)
	}
	if outcome.Valid && outcome.String != "" {
		var out ledger.GuardOutcome
		if err := json.Unmarshal([]byte(outcome.String), &out); err != nil {
			return ledger.GuardRecord{}, fmt.Errorf("sqlite: decode outcome: %w", err)
		}
		rec.Outcome = &out
	}
	return rec, nil
}

// BeginGuard installs rec unless a record already exists for the request ID.
func (s *Store) BeginGuard(ctx context.Context, rec ledger.GuardRecord) (ledger.GuardRecord, bool, error) {
	if rec.RequestID == "" {
		return ledger.GuardRecord{}, false, fmt.Errorf("sqlite: guard request id required")
	}
	var out ledger.GuardRecord
	created := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO guards (request_id, state, outcome, created_at_unix, finished_at_unix)
             VALUES (?, ?, NULL, ?, 0)
             ON CONFLICT (request_id) DO NOTHING`,
			rec.RequestID, rec.State, rec.CreatedAtUnix)
		if err != nil {
			return fmt.Errorf("sqlite: insert guard: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: rows affected: %w", err)
		}
		created = affected == 1
		out, err = scanGuard(tx.QueryRowContext(ctx,
			`SELECT request_id, state, outcome, created_at_unix, finished_at_unix
             FROM guards WHERE request_id = ?`, rec.RequestID))
		return err
	})
	return out, created, err
}

// FinishGuard flips a pending record to terminal; first writer wins.
func (s *Store) FinishGuard(ctx context.Context, requestID string, outcome ledger.GuardOutcome, finishedAtUnix int64) (ledger.GuardRecord, error) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return ledger.GuardRecord{}, fmt.Errorf("sqlite: encode outcome: %w", err)
	}
	var out ledger.GuardRecord
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE guards SET state = ?, outcome = ?, finished_at_unix = ?
             WHERE request_id = ? AND state = ?`,
			ledger.GuardStateTerminal, string(payload), finishedAtUnix,
			requestID, ledger.GuardStatePending); err != nil {
			return fmt.Errorf("sqlite: update guard: %w", err)
		}
		var scanErr error
		out, scanErr = scanGuard(tx.QueryRowContext(ctx,
			`SELECT request_id, state, outcome, created_at_unix, finished_at_unix
             FROM guards WHERE request_id = ?`, requestID))
		return scanErr
	})
	return out, err
}

// AbortGuard deletes a pending guard record.
func (s *Store) AbortGuard(ctx context.Context, requestID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := scanGuard(tx.QueryRowContext(ctx,
			`SELECT request_id, state, outcome, created_at_unix, finished_at_unix
             FROM guards WHERE request_id = ?`, requestID))
		if err != nil {
			return err
		}
		if rec.Terminal() {
			return ledger.ErrGuardPending
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM guards WHERE request_id = ?`, requestID); err != nil {
			return fmt.Errorf("sqlite: delete guard: %w", err)
		}
		return nil
	})
}

// SweepGuards deletes guard records created before cutoffUnix.
func (s *Store) SweepGuards(ctx context.Context, cutoffUnix int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM guards WHERE created_at_unix < ?`, cutoffUnix)
	if err != nil {
		return 0, fmt.Errorf("sqlite: sweep guards: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return int(affected), nil
}

// PutReservation installs a reservation record (create-only).
func (s *Store) PutReservation(ctx context.Context, rec ledger.ReservationRecord) error {
	units, err := encodeUnits(rec.Units)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reservations
         (reservation_id, item_id, units, committed_version, created_at_unix, released_at_unix)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (reservation_id) DO NOTHING`,
		rec.ReservationID, rec.ItemID, units, rec.CommittedVersion, rec.CreatedAtUnix, rec.ReleasedAtUnix)
	if err != nil {
		return fmt.Errorf("sqlite: insert reservation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return ledger.ErrReservationExists
	}
	return nil
}

// Reservation returns the stored reservation record.
func (s *Store) Reservation(ctx context.Context, reservationID string) (ledger.ReservationRecord, error) {
	var rec ledger.ReservationRecord
	var units string
	err := s.db.QueryRowContext(ctx,
		`SELECT reservation_id, item_id, units, committed_version, created_at_unix, released_at_unix
         FROM reservations WHERE reservation_id = ?`, reservationID).
		Scan(&rec.ReservationID, &rec.ItemID, &units, &rec.CommittedVersion, &rec.CreatedAtUnix, &rec.ReleasedAtUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ReservationRecord{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.ReservationRecord{}, fmt.Errorf("sqlite: select reservation: %w", err)
	}
	rec.Units, err = decodeUnits(units)
	if err != nil {
		return ledger.ReservationRecord{}, err
	}
	return rec, nil
}

// MarkReservationReleased stamps the release time exactly once.
func (s *Store) MarkReservationReleased(ctx context.Context, reservationID string, releasedAtUnix int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var released int64
		err := tx.QueryRowContext(ctx,
			`SELECT released_at_unix FROM reservations WHERE reservation_id = ?`, reservationID).
			Scan(&released)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("sqlite: select reservation: %w", err)
		}
		if released != 0 {
			return ledger.ErrAlreadyReleased
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE reservations SET released_at_unix = ? WHERE reservation_id = ?`,
			releasedAtUnix, reservationID); err != nil {
			return fmt.Errorf("sqlite: update reservation: %w", err)
		}
		return nil
	})
}
