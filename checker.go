package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Checker is the policy-driven entry point: it resolves a policy by name,
// derives the store key from the caller identity, runs the policy's algorithm
// against the shared Store, and resolves store failures into the policy's
// fail mode.
//
// A single Checker is safe for concurrent use and is meant to be constructed
// once in main and handed to handlers via dependency injection.
type Checker struct {
	store    Store
	registry *Registry
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time

	limiters map[string]Limiter
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithCheckerLogger sets the logger used for denied requests and store failures.
func WithCheckerLogger(l Logger) CheckerOption {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCheckerMetrics sets the metrics recorder for allow/deny/error counters.
func WithCheckerMetrics(m MetricsRecorder) CheckerOption {
	return func(c *Checker) {
		if m != nil {
			c.metrics = m
		}
	}
}

// withNow overrides the checker's clock; tests use it to step through window
// boundaries without sleeping.
func withNow(now func() time.Time) CheckerOption {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// NewChecker builds a Checker over a store and a policy registry.
// One limiter per registered policy is prepared up front, so Check does no
// allocation on the hot path beyond what the store backend needs.
func NewChecker(store Store, registry *Registry, opts ...CheckerOption) *Checker {
	c := &Checker{
		store:    store,
		registry: registry,
		logger:   &noopLogger{},
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.limiters = make(map[string]Limiter, len(registry.policies))
	for name, pol := range registry.policies {
		c.limiters[name] = c.buildLimiter(pol)
	}
	return c
}

func (c *Checker) buildLimiter(pol Policy) Limiter {
	switch pol.Algorithm {
	case AlgorithmTokenBucket:
		rate := float64(pol.MaxRequests) / pol.Window.Seconds()
		return &TokenBucketLimiter{store: c.store, rate: rate, burst: pol.MaxRequests, now: c.now}
	default:
		return &FixedWindowLimiter{store: c.store, limit: pol.MaxRequests, window: pol.Window, now: c.now}
	}
}

// Check evaluates one request under the named policy.
//
// The returned error is non-nil only for caller bugs: ErrUnknownPolicy and
// ErrInvalidIdentity. In both cases the accompanying Decision is denied, so
// handlers that ignore the error still fail closed. Store failures never
// surface here; they are logged and resolved into the policy's FailMode.
func (c *Checker) Check(ctx context.Context, identity, policyName string) (Decision, error) {
	pol, err := c.registry.Lookup(policyName)
	if err != nil {
		c.metrics.Add("ratelimit.error", 1, map[string]string{"policy": policyName, "reason": "unknown_policy"})
		return Decision{Allowed: false}, err
	}

	if !validIdentity(identity) {
		c.metrics.Add("ratelimit.error", 1, map[string]string{"policy": policyName, "reason": "invalid_identity"})
		return Decision{Allowed: false, Limit: pol.MaxRequests}, fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}

	dec, err := c.limiters[pol.Name].Allow(ctx, pol.Key(identity))
	if err != nil {
		return c.resolveStoreFailure(pol, identity, err), nil
	}

	if dec.Allowed {
		c.metrics.Add("ratelimit.allowed", 1, map[string]string{"policy": pol.Name})
		c.logger.Debugf("request allowed for %q under policy %q, remaining %d", identity, pol.Name, dec.Remaining)
	} else {
		c.metrics.Add("ratelimit.denied", 1, map[string]string{"policy": pol.Name})
		c.logger.Debugf("request denied for %q under policy %q, retry after %s", identity, pol.Name, dec.RetryAfter)
	}
	return dec, nil
}

// resolveStoreFailure turns an unavailable store into the policy's configured
// fallback decision. Fail-open reports a full window since the true count is
// unknowable; fail-closed denies for one full window.
func (c *Checker) resolveStoreFailure(pol Policy, identity string, err error) Decision {
	c.logger.Errorf("store failure for %q under policy %q (fail %s): %v", identity, pol.Name, pol.FailMode, err)
	c.metrics.Add("ratelimit.store_error", 1, map[string]string{"policy": pol.Name})

	now := c.now()
	if pol.FailMode == FailClosed {
		return Decision{
			Allowed:    false,
			Limit:      pol.MaxRequests,
			Remaining:  0,
			ResetAt:    now.Add(pol.Window),
			RetryAfter: pol.Window,
		}
	}
	return Decision{
		Allowed:   true,
		Limit:     pol.MaxRequests,
		Remaining: pol.MaxRequests,
		ResetAt:   now.Add(pol.Window),
	}
}

// Inspect returns the current window state for an identity under the named
// policy without registering an observation. Diagnostics only.
func (c *Checker) Inspect(ctx context.Context, identity, policyName string) (WindowState, bool, error) {
	pol, err := c.registry.Lookup(policyName)
	if err != nil {
		return WindowState{}, false, err
	}
	if !validIdentity(identity) {
		return WindowState{}, false, fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	return c.store.Peek(ctx, pol.Key(identity))
}

// validIdentity rejects empty identities and anything containing whitespace
// or control characters, which would corrupt the key schema.
func validIdentity(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}
