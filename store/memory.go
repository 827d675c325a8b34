// Package store provides storage backends for github.com/replyhub/ratelimit.
//
// Currently supported backends:
//   - MemoryStore: in-memory store for single-instance applications
//   - RedisStore: Redis-based store for distributed applications
//
// Stores implement the ratelimit.Store interface, providing atomic
// observe-and-increment semantics for the fixed window algorithm and an
// atomic token-take primitive for the token bucket algorithm.
//
// Example usage:
//
//	ctx := context.Background()
//	st := store.NewMemory(ctx, time.Minute) // cleanup interval = 1 minute
//	checker := ratelimit.NewChecker(st, registry)
package store

import (
	"context"
	"sync"
	"time"

	"github.com/replyhub/ratelimit"
)

// bucketIdleTTL is how long a token bucket entry may go unobserved before the
// janitor drops it. Window entries carry their own expiry and need no TTL.
const bucketIdleTTL = time.Hour

// windowEntry stores the counter and expiration time for a fixed window key.
type windowEntry struct {
	count   int64
	resetAt time.Time
}

// bucketEntry stores the state of a token bucket key.
type bucketEntry struct {
	tokens      float64
	lastUpdated time.Time
}

// MemoryStore is an in-memory implementation of ratelimit.Store.
//
// All mutation goes through Observe and TakeToken under one mutex, so the
// final count for a key always equals the number of completed observations
// since the last window reset, no matter how many goroutines race.
//
// State is local to the process: with multiple replicas each instance
// enforces its own budget. Use RedisStore when a single global budget is
// required.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]windowEntry
	buckets map[string]bucketEntry

	// now is replaced in tests to step through window boundaries without
	// sleeping.
	now func() time.Time
}

// NewMemory creates a new MemoryStore.
//
// ctx owns the lifecycle of the background janitor goroutine: cancel it to
// stop eviction, typically via the same signal context that shuts down the
// server. cleanupInterval is how often expired entries are removed; pass 0
// to disable the janitor (Evict can still be called manually).
func NewMemory(ctx context.Context, cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string]windowEntry),
		buckets: make(map[string]bucketEntry),
		now:     time.Now,
	}

	if cleanupInterval > 0 {
		go s.runJanitor(ctx, cleanupInterval)
	}

	return s
}

// Observe atomically registers one observation for key.
//
// An expired entry is treated identically to an absent one: the window is
// replaced wholesale with count=1 and a fresh resetAt. This is the same
// outcome the janitor produces by deleting the entry, so eviction never
// changes the result of a subsequent observation.
func (s *MemoryStore) Observe(ctx context.Context, key string, window time.Duration) (ratelimit.WindowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, found := s.windows[key]
	if !found || !now.Before(e.resetAt) {
		e = windowEntry{count: 1, resetAt: now.Add(window)}
	} else {
		e.count++
	}

	s.windows[key] = e
	return ratelimit.WindowState{Count: e.count, ResetAt: e.resetAt}, nil
}

// Peek returns the live window state for key without counting an observation.
// Expired entries report as absent even if the janitor has not removed them yet.
func (s *MemoryStore) Peek(ctx context.Context, key string) (ratelimit.WindowState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.windows[key]
	if !found || !s.now().Before(e.resetAt) {
		return ratelimit.WindowState{}, false, nil
	}
	return ratelimit.WindowState{Count: e.count, ResetAt: e.resetAt}, true, nil
}

// TakeToken atomically consumes a token from the token bucket for the given key.
//
// Returns whether a token was taken and the number of tokens remaining.
// rate is the refill rate per second, burst the maximum number of tokens.
func (s *MemoryStore) TakeToken(ctx context.Context, key string, rate float64, burst int64) (bool, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, found := s.buckets[key]

	if !found {
		remaining := float64(burst) - 1
		s.buckets[key] = bucketEntry{tokens: remaining, lastUpdated: now}
		return true, remaining, nil
	}

	elapsed := now.Sub(entry.lastUpdated).Seconds()
	if elapsed > 0 {
		entry.tokens += elapsed * rate
	}
	if entry.tokens > float64(burst) {
		entry.tokens = float64(burst)
	}

	taken := false
	if entry.tokens >= 1 {
		entry.tokens--
		taken = true
	}
	entry.lastUpdated = now
	s.buckets[key] = entry
	return taken, entry.tokens, nil
}

// Evict removes every window entry whose resetAt is at or before now, plus
// token buckets left idle past their TTL. It only bounds memory; it never
// changes the outcome of a later observation, because Observe already treats
// expired entries as absent.
func (s *MemoryStore) Evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.windows {
		if !now.Before(e.resetAt) {
			delete(s.windows, key)
		}
	}
	for key, e := range s.buckets {
		if now.Sub(e.lastUpdated) > bucketIdleTTL {
			delete(s.buckets, key)
		}
	}
}

// Len reports the number of live window entries. Diagnostics only.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// runJanitor periodically evicts expired entries until ctx is canceled.
func (s *MemoryStore) runJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Evict(s.now())
		case <-ctx.Done():
			return
		}
	}
}
