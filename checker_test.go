package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock steps time manually so window boundaries can be crossed without
// sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stubStore is an in-memory Store driven by an injected clock. Setting err
// makes every operation fail, for exercising the fail-open/fail-closed paths.
type stubStore struct {
	mu      sync.Mutex
	windows map[string]WindowState
	tokens  map[string]bucket
	now     func() time.Time
	err     error
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newStubStore(now func() time.Time) *stubStore {
	return &stubStore{
		windows: make(map[string]WindowState),
		tokens:  make(map[string]bucket),
		now:     now,
	}
}

func (s *stubStore) Observe(ctx context.Context, key string, window time.Duration) (WindowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return WindowState{}, s.err
	}

	now := s.now()
	st, ok := s.windows[key]
	if !ok || !now.Before(st.ResetAt) {
		st = WindowState{Count: 1, ResetAt: now.Add(window)}
	} else {
		st.Count++
	}
	s.windows[key] = st
	return st, nil
}

func (s *stubStore) Peek(ctx context.Context, key string) (WindowState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return WindowState{}, false, s.err
	}
	st, ok := s.windows[key]
	if !ok || !s.now().Before(st.ResetAt) {
		return WindowState{}, false, nil
	}
	return st, true, nil
}

func (s *stubStore) TakeToken(ctx context.Context, key string, rate float64, burst int64) (bool, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, 0, s.err
	}

	now := s.now()
	b, ok := s.tokens[key]
	if !ok {
		b = bucket{tokens: float64(burst) - 1, last: now}
		s.tokens[key] = b
		return true, b.tokens, nil
	}
	b.tokens += now.Sub(b.last).Seconds() * rate
	if b.tokens > float64(burst) {
		b.tokens = float64(burst)
	}
	taken := false
	if b.tokens >= 1 {
		b.tokens--
		taken = true
	}
	b.last = now
	s.tokens[key] = b
	return taken, b.tokens, nil
}

func newTestChecker(t *testing.T, clk *fakeClock, policies ...Policy) (*Checker, *stubStore) {
	t.Helper()
	reg, err := NewRegistry(policies...)
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	st := newStubStore(clk.Now)
	return NewChecker(st, reg, withNow(clk.Now)), st
}

func TestChecker_FixedWindowScenario(t *testing.T) {
	clk := newFakeClock()
	checker, _ := newTestChecker(t, clk, Policy{
		Name: "api", Window: time.Minute, MaxRequests: 3, KeyPrefix: "api",
	})
	ctx := context.Background()
	start := clk.Now()

	// t=0, 10s, 20s: three allowed observations with strictly decreasing remaining.
	for i, wantRemaining := range []int64{2, 1, 0} {
		dec, err := checker.Check(ctx, "k1", "api")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !dec.Allowed {
			t.Fatalf("check %d: expected allowed", i)
		}
		if dec.Remaining != wantRemaining {
			t.Errorf("check %d: remaining = %d, want %d", i, dec.Remaining, wantRemaining)
		}
		if !dec.ResetAt.Equal(start.Add(time.Minute)) {
			t.Errorf("check %d: resetAt = %v, want %v", i, dec.ResetAt, start.Add(time.Minute))
		}
		clk.Advance(10 * time.Second)
	}

	// t=30s: fourth observation is denied with retryAfter ~30s.
	dec, err := checker.Check(ctx, "k1", "api")
	if err != nil {
		t.Fatalf("fourth check: %v", err)
	}
	if dec.Allowed {
		t.Fatal("fourth check within window should be denied")
	}
	if dec.Remaining != 0 {
		t.Errorf("denied remaining = %d, want 0", dec.Remaining)
	}
	if dec.RetryAfter != 30*time.Second {
		t.Errorf("retryAfter = %s, want 30s", dec.RetryAfter)
	}
	if got := dec.RetryAfterSeconds(); got != 30 {
		t.Errorf("retryAfterSeconds = %d, want 30", got)
	}

	// t=61s: the window has reset; allowed again with a fresh budget.
	clk.Advance(31 * time.Second)
	dec, err = checker.Check(ctx, "k1", "api")
	if err != nil {
		t.Fatalf("post-reset check: %v", err)
	}
	if !dec.Allowed {
		t.Fatal("observation after resetAt should be allowed")
	}
	if dec.Remaining != 2 {
		t.Errorf("post-reset remaining = %d, want 2 (count restarted at 1)", dec.Remaining)
	}
	if !dec.ResetAt.After(start.Add(time.Minute)) {
		t.Errorf("post-reset resetAt = %v, want a fresh window end", dec.ResetAt)
	}
}

func TestChecker_DeniedRequestsStillCount(t *testing.T) {
	clk := newFakeClock()
	checker, st := newTestChecker(t, clk, Policy{
		Name: "api", Window: time.Minute, MaxRequests: 2, KeyPrefix: "api",
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := checker.Check(ctx, "client", "api"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}

	state, ok, err := st.Peek(ctx, "api:client")
	if err != nil || !ok {
		t.Fatalf("peek: ok=%v err=%v", ok, err)
	}
	if state.Count != 5 {
		t.Errorf("count = %d, want 5: denied requests must count against the window", state.Count)
	}
}

func TestChecker_KeysAreIsolated(t *testing.T) {
	clk := newFakeClock()
	checker, _ := newTestChecker(t, clk, Policy{
		Name: "api", Window: time.Minute, MaxRequests: 1, KeyPrefix: "api",
	})
	ctx := context.Background()

	if dec, _ := checker.Check(ctx, "alice", "api"); !dec.Allowed {
		t.Fatal("alice's first request should be allowed")
	}
	if dec, _ := checker.Check(ctx, "alice", "api"); dec.Allowed {
		t.Fatal("alice's second request should be denied")
	}
	if dec, _ := checker.Check(ctx, "bob", "api"); !dec.Allowed {
		t.Error("bob must not share alice's window")
	}
}

func TestChecker_UnknownPolicy(t *testing.T) {
	clk := newFakeClock()
	checker, _ := newTestChecker(t, clk, Policy{
		Name: "api", Window: time.Minute, MaxRequests: 10, KeyPrefix: "api",
	})

	dec, err := checker.Check(context.Background(), "client", "no-such-policy")
	if !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("err = %v, want ErrUnknownPolicy", err)
	}
	if dec.Allowed {
		t.Error("unknown policy must never silently allow")
	}
}

func TestChecker_InvalidIdentity(t *testing.T) {
	clk := newFakeClock()
	checker, _ := newTestChecker(t, clk, Policy{
		Name: "api", Window: time.Minute, MaxRequests: 10, KeyPrefix: "api",
	})

	for _, identity := range []string{"", "two words", "line\nbreak", "tab\tchar"} {
		dec, err := checker.Check(context.Background(), identity, "api")
		if !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("identity %q: err = %v, want ErrInvalidIdentity", identity, err)
		}
		if dec.Allowed {
			t.Errorf("identity %q: must fail closed", identity)
		}
	}
}

func TestChecker_StoreFailureFailModes(t *testing.T) {
	clk := newFakeClock()
	checker, st := newTestChecker(t, clk,
		Policy{Name: "auth:login", Window: 15 * time.Minute, MaxRequests: 5, KeyPrefix: "auth:login", FailMode: FailClosed},
		Policy{Name: "api", Window: time.Minute, MaxRequests: 100, KeyPrefix: "api"},
	)
	st.err = fmt.Errorf("%w: connection refused", ErrStoreUnavailable)
	ctx := context.Background()

	t.Run("AuthFailsClosed", func(t *testing.T) {
		dec, err := checker.Check(ctx, "client", "auth:login")
		if err != nil {
			t.Fatalf("store failures must not surface as errors, got %v", err)
		}
		if dec.Allowed {
			t.Error("auth policy must fail closed when the store is down")
		}
		if dec.RetryAfter <= 0 {
			t.Error("fail-closed denial should carry a positive retryAfter")
		}
	})

	t.Run("GenericFailsOpen", func(t *testing.T) {
		dec, err := checker.Check(ctx, "client", "api")
		if err != nil {
			t.Fatalf("store failures must not surface as errors, got %v", err)
		}
		if !dec.Allowed {
			t.Error("generic policy must fail open when the store is down")
		}
	})
}

func TestChecker_TokenBucketPolicy(t *testing.T) {
	clk := newFakeClock()
	checker, _ := newTestChecker(t, clk, Policy{
		Name: "broadcast", Algorithm: AlgorithmTokenBucket,
		Window: time.Second, MaxRequests: 3, KeyPrefix: "broadcast",
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dec, err := checker.Check(ctx, "tenant-1", "broadcast")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !dec.Allowed {
			t.Fatalf("check %d: burst capacity should admit it", i)
		}
	}

	if dec, _ := checker.Check(ctx, "tenant-1", "broadcast"); dec.Allowed {
		t.Fatal("bucket should be empty after the burst")
	}

	clk.Advance(2 * time.Second)
	if dec, _ := checker.Check(ctx, "tenant-1", "broadcast"); !dec.Allowed {
		t.Error("bucket should refill over time")
	}
}

func TestChecker_ConcurrentExactness(t *testing.T) {
	const n, max = 50, 10

	clk := newFakeClock()
	checker, _ := newTestChecker(t, clk, Policy{
		Name: "api", Window: time.Minute, MaxRequests: max, KeyPrefix: "api",
	})

	var wg sync.WaitGroup
	results := make(chan bool, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			dec, err := checker.Check(context.Background(), "burst", "api")
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			results <- dec.Allowed
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for ok := range results {
		if ok {
			allowed++
		}
	}
	if allowed != max {
		t.Errorf("allowed = %d of %d concurrent requests, want exactly %d", allowed, n, max)
	}
}

func TestChecker_Metrics(t *testing.T) {
	clk := newFakeClock()
	reg := MustRegistry(Policy{Name: "api", Window: time.Minute, MaxRequests: 1, KeyPrefix: "api"})
	st := newStubStore(clk.Now)
	mock := newMockRecorder()
	checker := NewChecker(st, reg, withNow(clk.Now), WithCheckerMetrics(mock))
	ctx := context.Background()

	checker.Check(ctx, "client", "api")
	checker.Check(ctx, "client", "api")
	checker.Check(ctx, "client", "no-such-policy")

	if got := mock.counters["ratelimit.allowed"]; got != 1 {
		t.Errorf("allowed counter = %v, want 1", got)
	}
	if got := mock.counters["ratelimit.denied"]; got != 1 {
		t.Errorf("denied counter = %v, want 1", got)
	}
	if got := mock.counters["ratelimit.error"]; got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}

func TestChecker_Inspect(t *testing.T) {
	clk := newFakeClock()
	checker, _ := newTestChecker(t, clk, Policy{
		Name: "api", Window: time.Minute, MaxRequests: 10, KeyPrefix: "api",
	})
	ctx := context.Background()

	if _, ok, err := checker.Inspect(ctx, "client", "api"); err != nil || ok {
		t.Fatalf("inspect before any observation: ok=%v err=%v, want absent", ok, err)
	}

	checker.Check(ctx, "client", "api")
	checker.Check(ctx, "client", "api")

	state, ok, err := checker.Inspect(ctx, "client", "api")
	if err != nil || !ok {
		t.Fatalf("inspect: ok=%v err=%v", ok, err)
	}
	if state.Count != 2 {
		t.Errorf("inspect count = %d, want 2", state.Count)
	}

	// Inspect must not have counted as an observation.
	dec, _ := checker.Check(ctx, "client", "api")
	if dec.Remaining != 7 {
		t.Errorf("remaining after inspects = %d, want 7", dec.Remaining)
	}
}

// mockRecorder captures metrics in memory for assertion.
type mockRecorder struct {
	mu       sync.Mutex
	counters map[string]float64
	timings  map[string][]float64
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{
		counters: make(map[string]float64),
		timings:  make(map[string][]float64),
	}
}

func (m *mockRecorder) Add(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

func (m *mockRecorder) Observe(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings[name] = append(m.timings[name], value)
}
