package ratelimit

import (
	"context"
	"time"
)

// FixedWindowLimiter implements the "Fixed Window" rate-limiting algorithm.
// This algorithm limits the number of requests (Limit) within a specific time
// frame (Window). It's simple and memory-efficient but can allow bursts of
// traffic at the edges of a window.
//
// The check is increment-then-check: the store's single atomic Observe both
// registers the request and returns the resulting count, so there is no
// check/increment race between concurrent callers. A request that ends up
// denied still counts against the window; retrying in a tight loop therefore
// cannot reset a caller's budget.
type FixedWindowLimiter struct {
	store  Store
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewFixedWindow creates a new limiter based on the Fixed Window algorithm.
// It requires a Store to persist the counts, a limit for the number of
// requests, and a window duration.
func NewFixedWindow(store Store, limit int64, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow checks if the request count for the given key is within the defined
// limit. Store failures are returned to the caller unresolved; use Checker
// for per-policy fail-open/fail-closed handling.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	state, err := l.store.Observe(ctx, key, l.window)
	if err != nil {
		return Decision{Allowed: false, Limit: l.limit}, err
	}
	return l.decide(state), nil
}

func (l *FixedWindowLimiter) decide(state WindowState) Decision {
	remaining := l.limit - state.Count
	if remaining < 0 {
		remaining = 0
	}

	dec := Decision{
		Allowed:   state.Count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   state.ResetAt,
	}
	if !dec.Allowed {
		dec.RetryAfter = state.ResetAt.Sub(l.now())
		if dec.RetryAfter < 0 {
			dec.RetryAfter = 0
		}
	}
	return dec
}
