package core

import (
	"math"
	"math/rand"
	"time"
)

// Retry policy defaults. Conflicts on a hot item resolve in a handful of
// attempts; anything still conflicting after the budget is surfaced as
// deadline_exceeded rather than retried forever.
const (
	DefaultRetryMaxAttempts = 8
	DefaultRetryBaseDelay   = 10 * time.Millisecond
	DefaultRetryMaxDelay    = 500 * time.Millisecond
	DefaultRetryJitter      = 0.2
)

// RetryPolicy bounds the conflict-retry loop. Delay for attempt k is
// min(MaxDelay, BaseDelay*2^(k-1)), randomized by ±Jitter to desynchronize
// competing retriers.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction in [0,1)
}

// Normalize fills zero fields with defaults and clamps nonsense values.
func (p RetryPolicy) Normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = DefaultRetryJitter
	}
	return p
}

// BaseForAttempt returns the un-jittered delay for attempt (1-based).
func (p RetryPolicy) BaseForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(backoff)
}

// Delay returns the jittered sleep before retrying attempt+1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BaseForAttempt(attempt)
	if p.Jitter == 0 || base <= 0 {
		return base
	}
	span := int64(float64(base) * p.Jitter)
	if span <= 0 {
		return base
	}
	// Uniform in [base-span, base+span].
	return base + time.Duration(rand.Int63n(2*span+1)-span)
}
