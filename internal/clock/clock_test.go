package clock_test

import (
	"testing"
	"time"

	"pkt.systems/reservd/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestRealAfterDelivers(t *testing.T) {
	t.Parallel()

	ch := clock.Real{}.After(10 * time.Millisecond)
	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("After did not trigger within timeout")
	}
}

func TestManualAdvanceWakesDueWaiters(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := clock.NewManual(start)

	first := m.After(100 * time.Millisecond)
	second := m.After(300 * time.Millisecond)
	if m.Pending() != 2 {
		t.Fatalf("expected 2 pending waiters, got %d", m.Pending())
	}

	m.Advance(100 * time.Millisecond)
	select {
	case at := <-first:
		if !at.Equal(start.Add(100 * time.Millisecond)) {
			t.Fatalf("unexpected wake time: %v", at)
		}
	default:
		t.Fatal("first waiter should have fired")
	}
	select {
	case <-second:
		t.Fatal("second waiter fired early")
	default:
	}

	m.Advance(200 * time.Millisecond)
	select {
	case <-second:
	default:
		t.Fatal("second waiter should have fired")
	}
	if m.Pending() != 0 {
		t.Fatalf("expected no pending waiters, got %d", m.Pending())
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(0, 0))
	select {
	case <-m.After(0):
	default:
		t.Fatal("zero-duration After should fire immediately")
	}
}

func TestManualSleepBlocksUntilAdvance(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		m.Sleep(time.Second)
		close(done)
	}()

	for m.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
		t.Fatal("sleep returned before the clock advanced")
	default:
	}
	m.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after advance")
	}
}
