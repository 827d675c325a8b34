package ratelimit

import (
	"context"
	"math"
	"time"
)

// WindowState is the per-key counter state held by a Store.
// Count is the number of observations registered in the current window and
// ResetAt is the absolute time at which the window ends.
type WindowState struct {
	Count   int64
	ResetAt time.Time
}

// Decision contains the outcome of a rate limit check.
// It provides the necessary data to populate standard rate-limiting HTTP headers.
type Decision struct {
	// Allowed indicates whether the request is permitted.
	Allowed bool
	// Limit is the total number of requests allowed in the current window.
	Limit int64
	// Remaining is the number of requests left in the current window.
	Remaining int64
	// ResetAt is the absolute time at which the current window ends.
	ResetAt time.Time
	// RetryAfter is how long the caller should wait before retrying.
	// It is zero when the request is allowed.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, suitable
// for a Retry-After header. Denied decisions never report less than 1 second.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter defines the interface for rate-limiting algorithms.
// It is the primary interface that middleware and users will interact with.
type Limiter interface {
	// Allow checks if a request is permitted for a given key.
	Allow(ctx context.Context, key string) (Decision, error)
}

// Store defines the interface for storing rate-limiting data.
// This abstraction allows for interchangeable backend implementations
// (in-memory for single-instance deployments, Redis for distributed ones).
//
// Implementations backed by a remote system must wrap transport failures and
// timeouts with ErrStoreUnavailable so callers can apply their fail-open or
// fail-closed policy.
type Store interface {
	// Observe atomically registers one observation for key and returns the
	// resulting window state. If no state exists for key, or the existing
	// window has expired, a fresh window is created with Count=1 and
	// ResetAt=now+window. Two simultaneous observations for the same key must
	// both be counted, never lost.
	Observe(ctx context.Context, key string, window time.Duration) (WindowState, error)

	// Peek returns the current state for key without registering an
	// observation. The second return value is false when no live window
	// exists. Peek is for diagnostics only; decisions never depend on it.
	Peek(ctx context.Context, key string) (WindowState, bool, error)

	// TakeToken is the primitive for token-based algorithms like Token Bucket.
	// It atomically refills tokens based on the rate and burst capacity,
	// then consumes one token if available. It returns true if a token was taken.
	TakeToken(ctx context.Context, key string, rate float64, burst int64) (bool, float64, error)
}
