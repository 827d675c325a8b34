package ratelimit

import (
	"fmt"
	"time"
)

// Algorithm selects the counting strategy a policy uses.
type Algorithm string

const (
	// AlgorithmFixedWindow counts requests in fixed windows that reset
	// wholesale at ResetAt. Simple and O(1) per check; up to 2x the limit can
	// pass across a window boundary, which is acceptable for abuse prevention.
	AlgorithmFixedWindow Algorithm = "fixed_window"

	// AlgorithmTokenBucket refills capacity continuously and tolerates bursts
	// up to MaxRequests. Useful for bulk-send endpoints where smoothing
	// matters more than a hard per-window count.
	AlgorithmTokenBucket Algorithm = "token_bucket"
)

// FailMode decides the outcome of a check when the store itself is
// unavailable: open favors availability, closed favors the rate guarantee.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// Policy is an immutable rate limit configuration for one endpoint class.
// Policies are registered by name at process start and never mutate at runtime.
type Policy struct {
	// Name is the registry lookup key, e.g. "auth:login".
	Name string
	// Algorithm selects the counting strategy. Empty means fixed window.
	Algorithm Algorithm
	// Window is the duration of one counting window.
	Window time.Duration
	// MaxRequests is the ceiling within one window.
	MaxRequests int64
	// KeyPrefix namespaces this policy's keys in the store. Distinct policies
	// must use distinct prefixes or their callers share one quota.
	KeyPrefix string
	// FailMode is applied when the store reports ErrStoreUnavailable.
	// Authentication-class policies should be FailClosed; everything else
	// defaults to FailOpen.
	FailMode FailMode
}

// Key builds the store key for an identity under this policy.
//
// This is the single key schema of the whole package: prefix and identity
// joined by a colon. Two callers mapping to the same identity string share
// one window; that is an accepted trade-off for coarse identities such as
// shared egress IPs.
func (p Policy) Key(identity string) string {
	return p.KeyPrefix + ":" + identity
}

// Validate checks that the policy is usable. It is called for every entry
// when a Registry is built, so a misconfigured policy fails at startup
// rather than at request time.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy name must not be empty")
	}
	if p.Window <= 0 {
		return fmt.Errorf("policy %q: window must be positive, got %s", p.Name, p.Window)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("policy %q: max requests must be positive, got %d", p.Name, p.MaxRequests)
	}
	if p.KeyPrefix == "" {
		return fmt.Errorf("policy %q: key prefix must not be empty", p.Name)
	}
	switch p.Algorithm {
	case "", AlgorithmFixedWindow, AlgorithmTokenBucket:
	default:
		return fmt.Errorf("policy %q: unknown algorithm %q, must be one of: fixed_window, token_bucket", p.Name, p.Algorithm)
	}
	switch p.FailMode {
	case "", FailOpen, FailClosed:
	default:
		return fmt.Errorf("policy %q: unknown fail mode %q, must be one of: open, closed", p.Name, p.FailMode)
	}
	return nil
}

// normalized returns a copy with defaults filled in.
func (p Policy) normalized() Policy {
	if p.Algorithm == "" {
		p.Algorithm = AlgorithmFixedWindow
	}
	if p.FailMode == "" {
		p.FailMode = FailOpen
	}
	return p
}
