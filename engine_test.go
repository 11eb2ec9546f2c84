package reservd

import (
	"context"
	"path/filepath"
	"testing"

	"pkt.systems/reservd/internal/core"
	"pkt.systems/reservd/internal/ledger/memory"
)

func TestEngineEndToEndMemory(t *testing.T) {
	eng, err := New(Config{Store: "mem://"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()
	if err := eng.CreateItem(ctx, core.CreateItemCommand{ItemID: "flight-42", Capacity: 4}); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	res, err := eng.Reserve(ctx, core.ReserveCommand{RequestID: "o-1", ItemID: "flight-42", Quantity: 2})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(res.Units) != 2 {
		t.Fatalf("units = %v, want 2 units", res.Units)
	}

	avail, err := eng.Availability(ctx, "flight-42")
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if avail.OccupiedCount != 2 {
		t.Fatalf("occupied = %d, want 2", avail.OccupiedCount)
	}

	rel, err := eng.Release(ctx, core.ReleaseCommand{ReservationID: res.ReservationID})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rel.ItemID != "flight-42" {
		t.Fatalf("released item = %s", rel.ItemID)
	}

	if _, err := eng.SweepGuards(ctx); err != nil {
		t.Fatalf("SweepGuards: %v", err)
	}
}

func TestEngineEndToEndDisk(t *testing.T) {
	eng, err := New(Config{
		Store:             "disk://" + t.TempDir(),
		DiskFsyncDisabled: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()
	if err := eng.CreateItem(ctx, core.CreateItemCommand{ItemID: "van", Capacity: 2}); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	res, err := eng.Reserve(ctx, core.ReserveCommand{RequestID: "o-1", ItemID: "van", Quantity: 1})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Units[0] != 1 {
		t.Fatalf("units = %v, want [1]", res.Units)
	}
}

func TestEngineEndToEndSQLite(t *testing.T) {
	eng, err := New(Config{
		Store: "sqlite://" + filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()
	if err := eng.CreateItem(ctx, core.CreateItemCommand{ItemID: "van", Capacity: 2}); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if _, err := eng.Reserve(ctx, core.ReserveCommand{RequestID: "o-1", ItemID: "van", Quantity: 2}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	_, err = eng.Reserve(ctx, core.ReserveCommand{RequestID: "o-2", ItemID: "van", Quantity: 1})
	if !core.IsFailureCode(err, core.CodeOutOfStock) {
		t.Fatalf("error = %v, want %s", err, core.CodeOutOfStock)
	}
}

func TestNewWithStoreDoesNotCloseCallerStore(t *testing.T) {
	store := memory.New()
	eng := NewWithStore(Config{}, store)
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// The caller's store must still work after engine close.
	if err := eng.CreateItem(context.Background(), core.CreateItemCommand{ItemID: "x", Capacity: 1}); err != nil {
		t.Fatalf("CreateItem after Close: %v", err)
	}
}

func TestNewRejectsBadStoreURL(t *testing.T) {
	if _, err := New(Config{Store: "postgres://nope"}); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := New(Config{Store: "disk://"}); err == nil {
		t.Fatalf("expected error for missing disk path")
	}
}
