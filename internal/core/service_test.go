package core

import (
	"context"
	"testing"
	"time"

	"pkt.systems/reservd/internal/clock"
	"pkt.systems/reservd/internal/ledger/memory"
)

func TestCreateItemDuplicate(t *testing.T) {
	svc := newTestService(t, nil)
	mustCreateItem(t, svc, "x", 3)
	err := svc.CreateItem(context.Background(), CreateItemCommand{ItemID: "x", Capacity: 5})
	if !IsFailureCode(err, CodeItemExists) {
		t.Fatalf("error = %v, want %s", err, CodeItemExists)
	}
}

func TestCreateItemValidation(t *testing.T) {
	svc := newTestService(t, nil)
	err := svc.CreateItem(context.Background(), CreateItemCommand{ItemID: "x", Capacity: 0})
	if !IsFailureCode(err, CodeInvalidRequest) {
		t.Fatalf("zero capacity: error = %v, want %s", err, CodeInvalidRequest)
	}
	err = svc.CreateItem(context.Background(), CreateItemCommand{Capacity: 3})
	if !IsFailureCode(err, CodeInvalidRequest) {
		t.Fatalf("empty id: error = %v, want %s", err, CodeInvalidRequest)
	}
}

func TestAvailability(t *testing.T) {
	svc := newTestService(t, nil)
	mustCreateItem(t, svc, "x", 5)

	if _, err := svc.Reserve(context.Background(), ReserveCommand{
		RequestID: "r1", ItemID: "x", Quantity: 3,
	}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	avail, err := svc.Availability(context.Background(), "x")
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if avail.Capacity != 5 || avail.OccupiedCount != 3 || avail.Version != 1 {
		t.Fatalf("availability = %+v, want capacity 5 occupied 3 version 1", avail)
	}

	if _, err := svc.Availability(context.Background(), "ghost"); !IsFailureCode(err, CodeNotFound) {
		t.Fatalf("unknown item: error = %v, want %s", err, CodeNotFound)
	}
}

func TestSweepGuardsHonorsRetention(t *testing.T) {
	store := memory.New()
	manual := clock.NewManual(time.Unix(1_700_000_000, 0))
	svc := NewService(Config{
		Store:          store,
		Clock:          manual,
		GuardRetention: time.Hour,
	})
	mustCreateItem(t, svc, "x", 5)

	if _, err := svc.Reserve(context.Background(), ReserveCommand{
		RequestID: "old", ItemID: "x", Quantity: 1,
	}); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// Inside the retention window nothing is evicted.
	evicted, err := svc.SweepGuards(context.Background())
	if err != nil {
		t.Fatalf("SweepGuards: %v", err)
	}
	if evicted != 0 {
		t.Fatalf("evicted = %d inside retention, want 0", evicted)
	}

	manual.Advance(2 * time.Hour)
	evicted, err = svc.SweepGuards(context.Background())
	if err != nil {
		t.Fatalf("SweepGuards: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("evicted = %d past retention, want 1", evicted)
	}

	// The evicted request ID executes fresh, not as a replay.
	res, err := svc.Reserve(context.Background(), ReserveCommand{
		RequestID: "old", ItemID: "x", Quantity: 1,
	})
	if err != nil {
		t.Fatalf("Reserve after sweep: %v", err)
	}
	if res.Replayed {
		t.Fatalf("swept request served a replay")
	}
}
