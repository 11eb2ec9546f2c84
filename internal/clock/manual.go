package clock

import (
	"sync"
	"time"
)

// Manual is a hand-advanced clock for deterministic tests. Sleepers block
// until Advance moves the clock past their wake-up time.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	due time.Time
	ch  chan time.Time
}

// NewManual returns a Manual clock positioned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that fires once the clock has advanced by d.
// Non-positive durations fire immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	if d <= 0 {
		now := m.now
		m.mu.Unlock()
		ch <- now
		return ch
	}
	m.waiters = append(m.waiters, &waiter{due: m.now.Add(d), ch: ch})
	m.mu.Unlock()
	return ch
}

// Sleep blocks until the clock advances by at least d.
func (m *Manual) Sleep(d time.Duration) {
	<-m.After(d)
}

// Advance moves the clock forward by d and wakes every waiter whose due
// time has been reached. It returns the new current time.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.due.After(now) {
			kept = append(kept, w)
			continue
		}
		w.ch <- now
	}
	m.waiters = kept
	m.mu.Unlock()
	return now
}

// Pending reports how many sleepers are waiting on the clock.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
