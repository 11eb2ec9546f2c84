package disk_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/reservd/internal/ledger"
	"pkt.systems/reservd/internal/ledger/disk"
	"pkt.systems/reservd/internal/ledger/ledgertest"
)

func newStore(t *testing.T) ledger.Store {
	t.Helper()
	store, err := disk.New(disk.Config{Root: t.TempDir(), FsyncDisabled: true})
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	ledgertest.Run(t, newStore)
}

func TestNewRequiresRoot(t *testing.T) {
	t.Parallel()

	if _, err := disk.New(disk.Config{}); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ctx := context.Background()

	store, err := disk.New(disk.Config{Root: root, FsyncDisabled: true})
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	if err := store.CreateItem(ctx, ledger.ItemRecord{ItemID: "bus-7", Capacity: 4}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := store.CommitOccupied(ctx, "bus-7", 0, []int{3}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := disk.New(disk.Config{Root: root, FsyncDisabled: true})
	if err != nil {
		t.Fatalf("reopen disk store: %v", err)
	}
	defer reopened.Close()
	rec, err := reopened.Item(ctx, "bus-7")
	if err != nil {
		t.Fatalf("load item after reopen: %v", err)
	}
	if rec.Version != 1 || len(rec.Occupied) != 1 || rec.Occupied[0] != 3 {
		t.Fatalf("unexpected record after reopen: %+v", rec)
	}
}

func TestUnsafeIDsAreEncoded(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ctx := context.Background()
	store, err := disk.New(disk.Config{Root: root, FsyncDisabled: true})
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	defer store.Close()

	id := "flight/LH 442"
	if err := store.CreateItem(ctx, ledger.ItemRecord{ItemID: id, Capacity: 2}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := store.Item(ctx, id); err != nil {
		t.Fatalf("load item: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "items"))
	if err != nil {
		t.Fatalf("read items dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one item file, got %d", len(entries))
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			t.Fatalf("unexpected file name: %s", entry.Name())
		}
	}
}

func TestCorruptRecordSurfacesError(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ctx := context.Background()
	store, err := disk.New(disk.Config{Root: root, FsyncDisabled: true})
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}
	defer store.Close()

	if err := store.CreateItem(ctx, ledger.ItemRecord{ItemID: "bus-7", Capacity: 4}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	path := filepath.Join(root, "items", "bus-7.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}
	if _, err := store.Item(ctx, "bus-7"); err == nil || errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
