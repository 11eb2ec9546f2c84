package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"pkt.systems/reservd/internal/ledger"
	"pkt.systems/reservd/internal/ledger/ledgertest"
	"pkt.systems/reservd/internal/ledger/sqlite"
)

func newStore(t *testing.T) ledger.Store {
	t.Helper()
	store, err := sqlite.New(sqlite.Config{Path: filepath.Join(t.TempDir(), "ledger.db")})
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	ledgertest.Run(t, newStore)
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := sqlite.New(sqlite.Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	store, err := sqlite.New(sqlite.Config{Path: path})
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	if err := store.CreateItem(ctx, ledger.ItemRecord{ItemID: "bus-7", Capacity: 4}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := store.CommitOccupied(ctx, "bus-7", 0, []int{2, 4}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.PutReservation(ctx, ledger.ReservationRecord{
		ReservationID: "res-1", ItemID: "bus-7", Units: []int{2, 4}, CommittedVersion: 1,
	}); err != nil {
		t.Fatalf("put reservation: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := sqlite.New(sqlite.Config{Path: path})
	if err != nil {
		t.Fatalf("reopen sqlite store: %v", err)
	}
	defer reopened.Close()
	rec, err := reopened.Item(ctx, "bus-7")
	if err != nil {
		t.Fatalf("load item after reopen: %v", err)
	}
	if rec.Version != 1 || len(rec.Occupied) != 2 {
		t.Fatalf("unexpected record after reopen: %+v", rec)
	}
	res, err := reopened.Reservation(ctx, "res-1")
	if err != nil {
		t.Fatalf("load reservation after reopen: %v", err)
	}
	if res.ItemID != "bus-7" || res.Released() {
		t.Fatalf("unexpected reservation after reopen: %+v", res)
	}
}
