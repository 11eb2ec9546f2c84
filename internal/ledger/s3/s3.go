// Package s3 implements ledger.Store on S3-compatible object storage via
// minio-go. One JSON object per record; CAS rides on conditional writes:
// SetMatchETag for updates, SetMatchETagExcept("*") for create-only puts.
// The logical version lives inside the record, the physical ETag guards it.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/reservd/internal/ledger"
)

const contentTypeJSON = "application/json"

// finishGuardAttempts bounds the internal CAS loop inside FinishGuard and
// MarkReservationReleased; these records see far less contention than items.
const finishGuardAttempts = 16

// Config controls the S3 store.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	// CustomCreds overrides the default env/file/IAM credential chain.
	CustomCreds *credentials.Credentials
	Transport   http.RoundTripper
}

// Store implements ledger.Store backed by one S3 bucket.
type Store struct {
	client *minio.Client
	cfg    Config
}

// New builds the minio client and returns a ready store.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	creds := cfg.CustomCreds
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Store{client: client, cfg: cfg}, nil
}

// Close satisfies ledger.Store; the minio client holds no resources that
// need explicit teardown.
func (s *Store) Close() error {
	return nil
}

func (s *Store) objectKey(kind, id string) string {
	return path.Join(s.cfg.Prefix, kind, url.QueryEscape(id)+".json")
}

func stripETag(etag string) string {
	return strings.Trim(etag, "\"")
}

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}

func isPreconditionFailed(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		if errResp.StatusCode == http.StatusPreconditionFailed {
			return true
		}
		if errResp.StatusCode == http.StatusConflict {
			switch errResp.Code {
			case "ConditionalRequestConflict", "OperationAborted":
				return true
			}
		}
	}
	return false
}

// getRecord downloads and decodes one JSON record, returning its ETag.
func (s *Store) getRecord(ctx context.Context, key string, out any) (string, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return "", ledger.ErrNotFound
		}
		return "", fmt.Errorf("s3: get %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return "", ledger.ErrNotFound
		}
		return "", fmt.Errorf("s3: read %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		if isNotFound(err) {
			return "", ledger.ErrNotFound
		}
		return "", fmt.Errorf("s3: stat %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return "", fmt.Errorf("s3: decode %s: %w", key, err)
	}
	return stripETag(info.ETag), nil
}

// putRecord uploads a JSON record. expectedETag "" means create-only.
func (s *Store) putRecord(ctx context.Context, key string, rec any, expectedETag string) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("s3: encode %s: %w", key, err)
	}
	options := minio.PutObjectOptions{ContentType: contentTypeJSON}
	if expectedETag != "" {
		options.SetMatchETag(expectedETag)
	} else {
		options.SetMatchETagExcept("*")
	}
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(payload), int64(len(payload)), options)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", ledger.ErrCASMismatch
		}
		if isNotFound(err) {
			return "", ledger.ErrNotFound
		}
		return "", fmt.Errorf("s3: put %s: %w", key, err)
	}
	return stripETag(info.ETag), nil
}

// CreateItem installs a new item record.
func (s *Store) CreateItem(ctx context.Context, rec ledger.ItemRecord) error {
	if err := ledger.ValidateOccupied(rec.Capacity, rec.Occupied); err != nil {
		return err
	}
	_, err := s.putRecord(ctx, s.objectKey("items", rec.ItemID), rec, "")
	if errors.Is(err, ledger.ErrCASMismatch) {
		return ledger.ErrItemExists
	}
	return err
}

// Item returns the stored item record.
func (s *Store) Item(ctx context.Context, itemID string) (ledger.ItemRecord, error) {
	var rec ledger.ItemRecord
	if _, err := s.getRecord(ctx, s.objectKey("items", itemID), &rec); err != nil {
		return ledger.ItemRecord{}, err
	}
	return rec, nil
}

func (s *Store) commitItem(ctx context.Context, itemID string, expectedVersion int64, mutate func(rec *ledger.ItemRecord) error) (int64, error) {
	key := s.objectKey("items", itemID)
	var rec ledger.ItemRecord
	etag, err := s.getRecord(ctx, key, &rec)
	if err != nil {
		return 0, err
	}
	if rec.Version != expectedVersion {
		return 0, ledger.ErrCASMismatch
	}
	if err := mutate(&rec); err != nil {
		return 0, err
	}
	rec.Version++
	// The conditional put fails whenever a concurrent commit changed the
	// object since our read, so a stale logical version can never win.
	if _, err := s.putRecord(ctx, key, rec, etag); err != nil {
		return 0, err
	}
	return rec.Version, nil
}

// CommitOccupied replaces the occupied set under CAS.
func (s *Store) CommitOccupied(ctx context.Context, itemID string, expectedVersion int64, occupied []int) (int64, error) {
	next := ledger.NormalizeUnits(append([]int(nil), occupied...))
	return s.commitItem(ctx, itemID, expectedVersion, func(rec *ledger.ItemRecord) error {
		if err := ledger.ValidateOccupied(rec.Capacity, next); err != nil {
			return err
		}
		rec.Occupied = next
		return nil
	})
}

// ReleaseOccupied removes units from the occupied set under CAS.
func (s *Store) ReleaseOccupied(ctx context.Context, itemID string, units []int, expectedVersion int64) (int64, error) {
	remove := ledger.NormalizeUnits(append([]int(nil), units...))
	return s.commitItem(ctx, itemID, expectedVersion, func(rec *ledger.ItemRecord) error {
		rec.Occupied = ledger.RemoveUnits(rec.Occupied, remove)
		return nil
	})
}

// BeginGuard installs rec unless a record already exists.
func (s *Store) BeginGuard(ctx context.Context, rec ledger.GuardRecord) (ledger.GuardRecord, bool, error) {
	if rec.RequestID == "" {
		return ledger.GuardRecord{}, false, fmt.Errorf("s3: guard request id required")
	}
	key := s.objectKey("guards", rec.RequestID)
	if _, err := s.putRecord(ctx, key, rec, ""); err != nil {
		if !errors.Is(err, ledger.ErrCASMismatch) {
			return ledger.GuardRecord{}, false, err
		}
		var existing ledger.GuardRecord
		if _, err := s.getRecord(ctx, key, &existing); err != nil {
			return ledger.GuardRecord{}, false, err
		}
		return existing, false, nil
	}
	return rec.Clone(), true, nil
}

// FinishGuard flips a pending record to terminal; first writer wins.
func (s *Store) FinishGuard(ctx context.Context, requestID string, outcome ledger.GuardOutcome, finishedAtUnix int64) (ledger.GuardRecord, error) {
	key := s.objectKey("guards", requestID)
	for attempt := 0; attempt < finishGuardAttempts; attempt++ {
		var rec ledger.GuardRecord
		etag, err := s.getRecord(ctx, key, &rec)
		if err != nil {
			return ledger.GuardRecord{}, err
		}
		if rec.Terminal() {
			return rec, nil
		}
		clone := outcome.Clone()
		rec.State = ledger.GuardStateTerminal
		rec.Outcome = &clone
		rec.FinishedAtUnix = finishedAtUnix
		if _, err := s.putRecord(ctx, key, rec, etag); err != nil {
			if errors.Is(err, ledger.ErrCASMismatch) {
				continue
			}
			return ledger.GuardRecord{}, err
		}
		return rec, nil
	}
	return ledger.GuardRecord{}, fmt.Errorf("s3: finish guard %s: contention exceeded %d attempts", requestID, finishGuardAttempts)
}

// AbortGuard deletes a pending guard record.
//
// The read-then-delete is not conditional (minio's RemoveObject carries no
// If-Match), so it relies on the coordinator's ownership rule: only the
// handler that created a pending record ever finishes or aborts it, and the
// retention sweep only deletes. No other writer can flip the record terminal
// between the read and the delete.
func (s *Store) AbortGuard(ctx context.Context, requestID string) error {
	key := s.objectKey("guards", requestID)
	var rec ledger.GuardRecord
	if _, err := s.getRecord(ctx, key, &rec); err != nil {
		return err
	}
	if rec.Terminal() {
		return ledger.ErrGuardPending
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3: remove guard %s: %w", requestID, err)
	}
	return nil
}

// SweepGuards deletes guard records created before cutoffUnix.
func (s *Store) SweepGuards(ctx context.Context, cutoffUnix int64) (int, error) {
	prefix := path.Join(s.cfg.Prefix, "guards") + "/"
	evicted := 0
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return evicted, fmt.Errorf("s3: list guards: %w", object.Err)
		}
		var rec ledger.GuardRecord
		if _, err := s.getRecord(ctx, object.Key, &rec); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			return evicted, err
		}
		if rec.CreatedAtUnix >= cutoffUnix {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.cfg.Bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return evicted, fmt.Errorf("s3: remove guard %s: %w", object.Key, err)
		}
		evicted++
	}
	return evicted, nil
}

// PutReservation installs a reservation record (create-only).
func (s *Store) PutReservation(ctx context.Context, rec ledger.ReservationRecord) error {
	_, err := s.putRecord(ctx, s.objectKey("reservations", rec.ReservationID), rec, "")
	if errors.Is(err, ledger.ErrCASMismatch) {
		return ledger.ErrReservationExists
	}
	return err
}

// Reservation returns the stored reservation record.
func (s *Store) Reservation(ctx context.Context, reservationID string) (ledger.ReservationRecord, error) {
	var rec ledger.ReservationRecord
	if _, err := s.getRecord(ctx, s.objectKey("reservations", reservationID), &rec); err != nil {
		return ledger.ReservationRecord{}, err
	}
	return rec, nil
}

// MarkReservationReleased stamps the release time exactly once.
func (s *Store) MarkReservationReleased(ctx context.Context, reservationID string, releasedAtUnix int64) error {
	key := s.objectKey("reservations", reservationID)
	for attempt := 0; attempt < finishGuardAttempts; attempt++ {
		var rec ledger.ReservationRecord
		etag, err := s.getRecord(ctx, key, &rec)
		if err != nil {
			return err
		}
		if rec.Released() {
			return ledger.ErrAlreadyReleased
		}
		rec.ReleasedAtUnix = releasedAtUnix
		if _, err := s.putRecord(ctx, key, rec, etag); err != nil {
			if errors.Is(err, ledger.ErrCASMismatch) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("s3: mark released %s: contention exceeded %d attempts", reservationID, finishGuardAttempts)
}
