package memory_test

import (
	"context"
	"testing"

	"pkt.systems/reservd/internal/ledger"
	"pkt.systems/reservd/internal/ledger/ledgertest"
	"pkt.systems/reservd/internal/ledger/memory"
)

func TestStoreContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Store {
		return memory.New()
	})
}

func TestItemCopiesDoNotAlias(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	if err := store.CreateItem(ctx, ledger.ItemRecord{ItemID: "bus-7", Capacity: 4}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := store.CommitOccupied(ctx, "bus-7", 0, []int{1, 2}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rec, err := store.Item(ctx, "bus-7")
	if err != nil {
		t.Fatalf("load item: %v", err)
	}
	rec.Occupied[0] = 99
	reload, err := store.Item(ctx, "bus-7")
	if err != nil {
		t.Fatalf("reload item: %v", err)
	}
	if reload.Occupied[0] != 1 {
		t.Fatal("store handed out an aliased occupied slice")
	}
}

func TestCommitInputSliceNotRetained(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	if err := store.CreateItem(ctx, ledger.ItemRecord{ItemID: "bus-7", Capacity: 4}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	units := []int{1, 2}
	if _, err := store.CommitOccupied(ctx, "bus-7", 0, units); err != nil {
		t.Fatalf("commit: %v", err)
	}
	units[0] = 99
	rec, err := store.Item(ctx, "bus-7")
	if err != nil {
		t.Fatalf("load item: %v", err)
	}
	if rec.Occupied[0] != 1 {
		t.Fatal("store retained the caller's slice")
	}
}
