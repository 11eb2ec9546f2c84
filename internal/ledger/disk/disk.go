// Package disk implements ledger.Store on a local filesystem. One JSON
// record per entity, written via temp file + rename so readers never see a
// torn record. Cross-process mutual exclusion uses an OS file lock on the
// store root; in-process callers additionally serialize on a mutex so the
// lock file is never double-acquired by one process.
package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pkt.systems/reservd/internal/ledger"
)

const (
	itemsDir        = "items"
	guardsDir       = "guards"
	reservationsDir = "reservations"
	lockFileName    = ".reservd.lock"
)

// Config controls the disk store.
type Config struct {
	// Root is the directory holding all ledger records. Created when absent.
	Root string
	// FsyncDisabled skips fsync after writes. Faster, but a crash can lose
	// the most recent commit. Tests only.
	FsyncDisabled bool
}

// Store implements ledger.Store on a directory tree.
type Store struct {
	cfg Config

	mu   sync.Mutex // serializes mutations within this process
	lock *fileLock
}

// New verifies the root directory and returns a ready store.
func New(cfg Config) (*Store, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("disk: root directory required")
	}
	cfg.Root = root
	for _, sub := range []string{itemsDir, guardsDir, reservationsDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("disk: create %s: %w", sub, err)
		}
	}
	lock, err := newFileLock(filepath.Join(root, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("disk: init lock file: %w", err)
	}
	return &Store{cfg: cfg, lock: lock}, nil
}

// Close releases the lock file handle.
func (s *Store) Close() error {
	return s.lock.Close()
}

func encodeID(id string) string {
	return url.QueryEscape(id)
}

func (s *Store) itemPath(itemID string) string {
	return filepath.Join(s.cfg.Root, itemsDir, encodeID(itemID)+".json")
}

func (s *Store) guardPath(requestID string) string {
	return filepath.Join(s.cfg.Root, guardsDir, encodeID(requestID)+".json")
}

func (s *Store) reservationPath(reservationID string) string {
	return filepath.Join(s.cfg.Root, reservationsDir, encodeID(reservationID)+".json")
}

// withLock runs fn while holding both the in-process mutex and the OS file
// lock, so mutations are exclusive across processes sharing the root.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("disk: acquire file lock: %w", err)
	}
	defer s.lock.Unlock()
	return fn()
}

func readRecord(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ledger.ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("disk: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *Store) writeRecordAtomic(path string, rec any) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("disk: encode record: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("disk: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("disk: write temp: %w", err)
	}
	if !s.cfg.FsyncDisabled {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("disk: fsync temp: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("disk: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("disk: rename: %w", err)
	}
	return nil
}

// CreateItem installs a new item record.
func (s *Store) CreateItem(_ context.Context, rec ledger.ItemRecord) error {
	if err := ledger.ValidateOccupied(rec.Capacity, rec.Occupied); err != nil {
		return err
	}
	return s.withLock(func() error {
		path := s.itemPath(rec.ItemID)
		if _, err := os.Stat(path); err == nil {
			return ledger.ErrItemExists
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("disk: stat item: %w", err)
		}
		return s.writeRecordAtomic(path, rec)
	})
}

// Item returns the stored item record.
func (s *Store) Item(_ context.Context, itemID string) (ledger.ItemRecord, error) {
	var rec ledger.ItemRecord
	if err := readRecord(s.itemPath(itemID), &rec); err != nil {
		return ledger.ItemRecord{}, err
	}
	return rec, nil
}

// CommitOccupied replaces the occupied set under CAS.
func (s *Store) CommitOccupied(_ context.Context, itemID string, expectedVersion int64, occupied []int) (int64, error) {
	var newVersion int64
	err := s.withLock(func() error {
		var rec ledger.ItemRecord
		if err := readRecord(s.itemPath(itemID), &rec); err != nil {
			return err
		}
		if rec.Version != expectedVersion {
			return ledger.ErrCASMismatch
		}
		next := ledger.NormalizeUnits(append([]int(nil), occupied...))
		if err := ledger.ValidateOccupied(rec.Capacity, next); err != nil {
			return err
		}
		rec.Occupied = next
		rec.Version++
		rec.UpdatedAtUnix = time.Now().Unix()
		if err := s.writeRecordAtomic(s.itemPath(itemID), rec); err != nil {
			return err
		}
		newVersion = rec.Version
		return nil
	})
	return newVersion, err
}

// ReleaseOccupied removes units from the occupied set under CAS.
func (s *Store) ReleaseOccupied(_ context.Context, itemID string, units []int, expectedVersion int64) (int64, error) {
	var newVersion int64
	err := s.withLock(func() error {
		var rec ledger.ItemRecord
		if err := readRecord(s.itemPath(itemID), &rec); err != nil {
			return err
		}
		if rec.Version != expectedVersion {
			return ledger.ErrCASMismatch
		}
		rec.Occupied = ledger.RemoveUnits(rec.Occupied, ledger.NormalizeUnits(append([]int(nil), units...)))
		rec.Version++
		rec.UpdatedAtUnix = time.Now().Unix()
		if err := s.writeRecordAtomic(s.itemPath(itemID), rec); err != nil {
			return err
		}
		newVersion = rec.Version
		return nil
	})
	return newVersion, err
}

// BeginGuard installs rec unless a record already exists.
func (s *Store) BeginGuard(_ context.Context, rec ledger.GuardRecord) (ledger.GuardRecord, bool, error) {
	if rec.RequestID == "" {
		return ledger.GuardRecord{}, false, fmt.Errorf("disk: guard request id required")
	}
	var out ledger.GuardRecord
	created := false
	err := s.withLock(func() error {
		path := s.guardPath(rec.RequestID)
		var existing ledger.GuardRecord
		switch err := readRecord(path, &existing); {
		case err == nil:
			out = existing
			return nil
		case errors.Is(err, ledger.ErrNotFound):
			if err := s.writeRecordAtomic(path, rec); err != nil {
				return err
			}
			out = rec.Clone()
			created = true
			return nil
		default:
			return err
		}
	})
	return out, created, err
}

// FinishGuard flips a pending record to terminal; first writer wins.
func (s *Store) FinishGuard(_ context.Context, requestID string, outcome ledger.GuardOutcome, finishedAtUnix int64) (ledger.GuardRecord, error) {
	var out ledger.GuardRecord
	err := s.withLock(func() error {
		path := s.guardPath(requestID)
		var rec ledger.GuardRecord
		if err := readRecord(path, &rec); err != nil {
			return err
		}
		if rec.Terminal() {
			out = rec
			return nil
		}
		clone := outcome.Clone()
		rec.State = ledger.GuardStateTerminal
		rec.Outcome = &clone
		rec.FinishedAtUnix = finishedAtUnix
		if err := s.writeRecordAtomic(path, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// AbortGuard deletes a pending guard record.
func (s *Store) AbortGuard(_ context.Context, requestID string) error {
	return s.withLock(func() error {
		path := s.guardPath(requestID)
		var rec ledger.GuardRecord
		if err := readRecord(path, &rec); err != nil {
			return err
		}
		if rec.Terminal() {
			return ledger.ErrGuardPending
		}
		return os.Remove(path)
	})
}

// SweepGuards deletes guard records created before cutoffUnix.
func (s *Store) SweepGuards(_ context.Context, cutoffUnix int64) (int, error) {
	evicted := 0
	err := s.withLock(func() error {
		dir := filepath.Join(s.cfg.Root, guardsDir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("disk: list guards: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			var rec ledger.GuardRecord
			if err := readRecord(path, &rec); err != nil {
				if errors.Is(err, ledger.ErrNotFound) {
					continue
				}
				return err
			}
			if rec.CreatedAtUnix >= cutoffUnix {
				continue
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("disk: remove guard: %w", err)
			}
			evicted++
		}
		return nil
	})
	return evicted, err
}

// PutReservation installs a reservation record (create-only).
func (s *Store) PutReservation(_ context.Context, rec ledger.ReservationRecord) error {
	return s.withLock(func() error {
		path := s.reservationPath(rec.ReservationID)
		if _, err := os.Stat(path); err == nil {
			return ledger.ErrReservationExists
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("disk: stat reservation: %w", err)
		}
		return s.writeRecordAtomic(path, rec)
	})
}

// Reservation returns the stored reservation record.
func (s *Store) Reservation(_ context.Context, reservationID string) (ledger.ReservationRecord, error) {
	var rec ledger.ReservationRecord
	if err := readRecord(s.reservationPath(reservationID), &rec); err != nil {
		return ledger.ReservationRecord{}, err
	}
	return rec, nil
}

// MarkReservationReleased stamps the release time exactly once.
func (s *Store) MarkReservationReleased(_ context.Context, reservationID string, releasedAtUnix int64) error {
	return s.withLock(func() error {
		path := s.reservationPath(reservationID)
		var rec ledger.ReservationRecord
		if err := readRecord(path, &rec); err != nil {
			return err
		}
		if rec.Released() {
			return ledger.ErrAlreadyReleased
		}
		rec.ReleasedAtUnix = releasedAtUnix
		return s.writeRecordAtomic(path, rec)
	})
}
