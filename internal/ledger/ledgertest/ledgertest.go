// Package ledgertest runs the ledger.Store contract against any backend.
package ledgertest

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"pkt.systems/reservd/internal/ledger"
)

// Factory returns a fresh, empty store for one subtest. The harness closes
// each store when the subtest ends.
type Factory func(t *testing.T) ledger.Store

// Run exercises the full store contract: item CAS lifecycle, guard
// begin/finish/abort, retention sweep, and reservation release marking.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("ItemLifecycle", func(t *testing.T) { testItemLifecycle(t, factory(t)) })
	t.Run("CommitCAS", func(t *testing.T) { testCommitCAS(t, factory(t)) })
	t.Run("ReleaseCAS", func(t *testing.T) { testReleaseCAS(t, factory(t)) })
	t.Run("ConcurrentCommits", func(t *testing.T) { testConcurrentCommits(t, factory(t)) })
	t.Run("GuardLifecycle", func(t *testing.T) { testGuardLifecycle(t, factory(t)) })
	t.Run("GuardFirstWriterWins", func(t *testing.T) { testGuardFirstWriterWins(t, factory(t)) })
	t.Run("GuardSweep", func(t *testing.T) { testGuardSweep(t, factory(t)) })
	t.Run("Reservations", func(t *testing.T) { testReservations(t, factory(t)) })
}

func closeLater(t *testing.T, store ledger.Store) {
	t.Helper()
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
}

func testItemLifecycle(t *testing.T, store ledger.Store) {
	t.Helper()
	closeLater(t, store)
	ctx := context.Background()

	if _, err := store.Item(ctx, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	rec := ledger.ItemRecord{ItemID: "bus-7", Capacity: 4}
	if err := store.CreateItem(ctx, rec); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if err := store.CreateItem(ctx, rec); !errors.Is(err, ledger.ErrItemExists) {
		t.Fatalf("expected ErrItemExists, got %v", err)
	}
	got, err := store.Item(ctx, "bus-7")
	if err != nil {
		t.Fatalf("load item: %v", err)
	}
	if got.Capacity != 4 || got.Version != 0 || len(got.Occupied) != 0 {
		t.Fatalf("unexpected initial record: %+v", got)
	}
}

func testCommitCAS(t *testing.T, store ledger.Store) {
	t.Helper()
	closeLater(t, store)
	ctx := context.Background()

	if err := store.CreateItem(ctx, ledger.ItemRecord{ItemID: "bus-7", Capacity: 4}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	version, err := store.CommitOccupied(ctx, "bus-7", 0, []int{1, 2})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected version 1, got %d", version)
	}
	if _, err := store.CommitOccupied(ctx, "bus-7", 0, []int{3}); !errors.Is(err, ledger.ErrCASMismatch) {
		t.Fatalf("expected ErrCASMismatch on stale version, got %v", err)
	}
	if _, err := store.CommitOccupied(ctx, "ghost", 0, []int{1}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.CommitOccupied(ctx, "bus-7", 1, []int{1, 2, 3, 4, 5}); err == nil {
		t.Fatal("expected capacity violation to be rejected")
	}
	got, err := store.Item(ctx, "bus-7")
	if err != nil {
		t.Fatalf("load item: %v", err)
	}
	if !reflect.DeepEqual(got.Occupied, []int{1, 2}) || got.Version != 1 {
		t.Fatalf("failed attempts must not change state: %+v", got)
	}
}

func testReleaseCAS(t *testing.T, store ledger.Store) {
	t.Helper()
	closeLater(t, store)
	ctx := context.Background()

	if err := store.CreateItem(ctx, ledger.ItemRecord{ItemID: "bus-7", Capacity: 4}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := store.CommitOccupied(ctx, "bus-7", 0, []int{1, 2, 3}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	version, err := store.ReleaseOccupied(ctx, "bus-7", []int{2}, 1)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2, got %d", version)
	}
	if _, err := store.ReleaseOccupied(ctx, "bus-7", []int{1}, 1); !errors.Is(err, ledger.ErrCASMismatch) {
		t.Fatalf("expected ErrCASMismatch, got %v", err)
	}
	got, err := store.Item(ctx, "bus-7")
	if err != nil {
		t.Fatalf("load item: %v", err)
	}
	if !reflect.DeepEqual(got.Occupied, []int{1, 3}) {
		t.Fatalf("unexpected occupied set after release: %v", got.Occupied)
	}
}

// testConcurrentCommits drives racing CAS commits and checks exactly one
// winner per version.
func testConcurrentCommits(t *testing.T, store ledger.Store) {
	t.Helper()
	closeLater(t, store)
	ctx := context.Background()

	if err := store.CreateItem(ctx, ledger.ItemRecord{ItemID: "sale-1", Capacity: 64}); err != nil {
		t.Fatalf("create item: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wins := make([]int, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				rec, err := store.Item(ctx, "sale-1")
				if err != nil {
					t.Errorf("worker %d load: %v", w, err)
					return
				}
				if len(rec.Occupied) >= 32 {
					return
				}
				next := append(append([]int(nil), rec.Occupied...), len(rec.Occupied)+1)
				if _, err := store.CommitOccupied(ctx, "sale-1", rec.Version, next); err != nil {
					if errors.Is(err, ledger.ErrCASMismatch) {
						continue
					}
					t.Errorf("worker %d commit: %v", w, err)
					return
				}
				wins[w]++
			}
		}(w)
	}
	wg.Wait()

	rec, err := store.Item(ctx, "sale-1")
	if err != nil {
		t.Fatalf("load item: %v", err)
	}
	total := 0
	for _, n := range wins {
		total += n
	}
	if int64(total) != rec.Version {
		t.Fatalf("expected %d wins to equal version %d", total, rec.Version)
	}
	if len(rec.Occupied) != int(rec.Version) {
		t.Fatalf("expected %d occupied units, got %d", rec.Version, len(rec.Occupied))
	}
}

func testGuardLifecycle(t *testing.T, store ledger.Store) {
	t.Helper()
	closeLater(t, store)
	ctx := context.Background()

	rec := ledger.GuardRecord{RequestID: "req-1", State: ledger.GuardStatePending, CreatedAtUnix: 100}
	stored, created, err := store.BeginGuard(ctx, rec)
	if err != nil {
		t.Fatalf("begin guard: %v", err)
	}
	if !created || stored.State != ledger.GuardStatePending {
		t.Fatalf("expected fresh pending record, got created=%v %+v", created, stored)
	}

	again, created, err := store.BeginGuard(ctx, rec)
	if err != nil {
		t.Fatalf("begin guard repeat: %v", err)
	}
	if created || again.RequestID != "req-1" {
		t.Fatalf("expected existing record, got created=%v %+v", created, again)
	}

	outcome := ledger.GuardOutcome{
		Code:        ledger.OutcomeReserved,
		Reservation: &ledger.ReservationRecord{ReservationID: "res-1", ItemID: "bus-7", Units: []int{1, 2}, CommittedVersion: 1},
	}
	finished, err := store.FinishGuard(ctx, "req-1", outcome, 200)
	if err != nil {
		t.Fatalf("finish guard: %v", err)
	}
	if !finished.Terminal() || finished.Outcome == nil || finished.Outcome.Code != ledger.OutcomeReserved {
		t.Fatalf("unexpected terminal record: %+v", finished)
	}
	if finished.Outcome.Reservation == nil || !reflect.DeepEqual(finished.Outcome.Reservation.Units, []int{1, 2}) {
		t.Fatalf("reservation payload lost: %+v", finished.Outcome)
	}

	if err := store.AbortGuard(ctx, "req-1"); !errors.Is(err, ledger.ErrGuardPending) {
		t.Fatalf("expected ErrGuardPending on terminal abort, got %v", err)
	}
	if err := store.AbortGuard(ctx, "ghost"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.FinishGuard(ctx, "ghost", outcome, 300); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	pending := ledger.GuardRecord{RequestID: "req-2", State: ledger.GuardStatePending, CreatedAtUnix: 100}
	if _, _, err := store.BeginGuard(ctx, pending); err != nil {
		t.Fatalf("begin guard: %v", err)
	}
	if err := store.AbortGuard(ctx, "req-2"); err != nil {
		t.Fatalf("abort pending guard: %v", err)
	}
	if _, created, err := store.BeginGuard(ctx, pending); err != nil || !created {
		t.Fatalf("expected re-begin after abort, created=%v err=%v", created, err)
	}
}

func testGuardFirstWriterWins(t *testing.T, store ledger.Store) {
	t.Helper()
	closeLater(t, store)
	ctx := context.Background()

	rec := ledger.GuardRecord{RequestID: "req-1", State: ledger.GuardStatePending, CreatedAtUnix: 100}
	if _, _, err := store.BeginGuard(ctx, rec); err != nil {
		t.Fatalf("begin guard: %v", err)
	}
	first, err := store.FinishGuard(ctx, "req-1", ledger.GuardOutcome{Code: ledger.OutcomeOutOfStock}, 150)
	if err != nil {
		t.Fatalf("finish guard: %v", err)
	}
	second, err := store.FinishGuard(ctx, "req-1", ledger.GuardOutcome{Code: ledger.OutcomeReserved}, 160)
	if err != nil {
		t.Fatalf("finish guard repeat: %v", err)
	}
	if second.Outcome.Code != first.Outcome.Code {
		t.Fatalf("second writer overwrote outcome: %q vs %q", second.Outcome.Code, first.Outcome.Code)
	}
	if second.FinishedAtUnix != first.FinishedAtUnix {
		t.Fatalf("finish stamp changed: %d vs %d", second.FinishedAtUnix, first.FinishedAtUnix)
	}
}

func testGuardSweep(t *testing.T, store ledger.Store) {
	t.Helper()
	closeLater(t, store)
	ctx := context.Background()

	for _, rec := range []ledger.GuardRecord{
		{RequestID: "old-terminal", State: ledger.GuardStatePending, CreatedAtUnix: 100},
		{RequestID: "old-pending", State: ledger.GuardStatePending, CreatedAtUnix: 150},
		{RequestID: "fresh", State: ledger.GuardStatePending, CreatedAtUnix: 900},
	} {
		if _, _, err := store.BeginGuard(ctx, rec); err != nil {
			t.Fatalf("begin guard %s: %v", rec.RequestID, err)
		}
	}
	if _, err := store.FinishGuard(ctx, "old-terminal", ledger.GuardOutcome{Code: ledger.OutcomeOutOfStock}, 120); err != nil {
		t.Fatalf("finish guard: %v", err)
	}

	evicted, err := store.SweepGuards(ctx, 500)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if evicted != 2 {
		t.Fatalf("expected 2 evictions, got %d", evicted)
	}
	if _, created, err := store.BeginGuard(ctx, ledger.GuardRecord{RequestID: "fresh", State: ledger.GuardStatePending, CreatedAtUnix: 901}); err != nil || created {
		t.Fatalf("fresh record should survive sweep, created=%v err=%v", created, err)
	}
	if _, created, err := store.BeginGuard(ctx, ledger.GuardRecord{RequestID: "old-terminal", State: ledger.GuardStatePending, CreatedAtUnix: 902}); err != nil || !created {
		t.Fatalf("swept record should be recreatable, created=%v err=%v", created, err)
	}
}

func testReservations(t *testing.T, store ledger.Store) {
	t.Helper()
	closeLater(t, store)
	ctx := context.Background()

	rec := ledger.ReservationRecord{
		ReservationID:    "res-1",
		ItemID:           "bus-7",
		Units:            []int{1, 2},
		CommittedVersion: 1,
		CreatedAtUnix:    100,
	}
	if err := store.PutReservation(ctx, rec); err != nil {
		t.Fatalf("put reservation: %v", err)
	}
	if err := store.PutReservation(ctx, rec); !errors.Is(err, ledger.ErrReservationExists) {
		t.Fatalf("expected ErrReservationExists, got %v", err)
	}
	got, err := store.Reservation(ctx, "res-1")
	if err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if got.Released() || !reflect.DeepEqual(got.Units, []int{1, 2}) {
		t.Fatalf("unexpected reservation: %+v", got)
	}
	if _, err := store.Reservation(ctx, "ghost"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.MarkReservationReleased(ctx, "res-1", 200); err != nil {
		t.Fatalf("mark released: %v", err)
	}
	if err := store.MarkReservationReleased(ctx, "res-1", 210); !errors.Is(err, ledger.ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}
	if err := store.MarkReservationReleased(ctx, "ghost", 220); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, err = store.Reservation(ctx, "res-1")
	if err != nil {
		t.Fatalf("reload reservation: %v", err)
	}
	if got.ReleasedAtUnix != 200 {
		t.Fatalf("expected release stamp 200, got %d", got.ReleasedAtUnix)
	}
}
