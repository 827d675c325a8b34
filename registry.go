package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Registry is an immutable, name-indexed table of policies. It is built once
// at process start; lookups are read-only and safe for concurrent use.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry validates every policy and builds a registry from them.
// Duplicate names and invalid entries are rejected.
func NewRegistry(policies ...Policy) (*Registry, error) {
	table := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := table[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy %q", p.Name)
		}
		table[p.Name] = p.normalized()
	}
	return &Registry{policies: table}, nil
}

// MustRegistry is like NewRegistry but panics on error. Intended for
// wiring static tables in main, where a bad policy should abort startup.
func MustRegistry(policies ...Policy) *Registry {
	r, err := NewRegistry(policies...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the policy registered under name.
func (r *Registry) Lookup(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return p, nil
}

// Names returns the registered policy names in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	return names
}

// DefaultPolicies returns the standard policy set for a customer-messaging
// deployment, covering the common endpoint classes. Authentication-class
// policies fail closed because unauthenticated brute-force risk outweighs
// availability there; everything else fails open.
//
// All defaults use the fixed window algorithm so window exhaustion and reset
// behave exactly as documented on Checker.Check.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: "auth:login", Window: 15 * time.Minute, MaxRequests: 5, KeyPrefix: "auth:login", FailMode: FailClosed},
		{Name: "auth:signup", Window: time.Hour, MaxRequests: 3, KeyPrefix: "auth:signup", FailMode: FailClosed},
		{Name: "auth:otp", Window: 10 * time.Minute, MaxRequests: 3, KeyPrefix: "auth:otp", FailMode: FailClosed},
		{Name: "auth:password-reset", Window: time.Hour, MaxRequests: 3, KeyPrefix: "auth:pwreset", FailMode: FailClosed},
		{Name: "api", Window: time.Minute, MaxRequests: 100, KeyPrefix: "api"},
		{Name: "broadcast", Window: time.Hour, MaxRequests: 10, KeyPrefix: "broadcast"},
		{Name: "webhook", Window: time.Minute, MaxRequests: 600, KeyPrefix: "webhook"},
		{Name: "form", Window: time.Minute, MaxRequests: 10, KeyPrefix: "form"},
		{Name: "storefront", Window: time.Minute, MaxRequests: 300, KeyPrefix: "storefront"},
	}
}

// rawPolicy is the JSON-friendly representation with string durations.
type rawPolicy struct {
	Name        string `json:"name"`
	Algorithm   string `json:"algorithm"`
	Window      string `json:"window"`
	MaxRequests int64  `json:"max_requests"`
	KeyPrefix   string `json:"key_prefix"`
	FailMode    string `json:"fail_mode"`
}

// LoadPolicies reads a JSON array of policies from path and builds a
// registry from them. Windows are Go duration strings ("1m", "15m", "1h").
//
// Example file:
//
//	[
//	  {"name": "auth:login", "window": "15m", "max_requests": 5,
//	   "key_prefix": "auth:login", "fail_mode": "closed"},
//	  {"name": "api", "window": "1m", "max_requests": 100, "key_prefix": "api"}
//	]
func LoadPolicies(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var raws []rawPolicy
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}

	policies := make([]Policy, 0, len(raws))
	for _, raw := range raws {
		window, err := time.ParseDuration(raw.Window)
		if err != nil {
			return nil, fmt.Errorf("policy %q: parsing window: %w", raw.Name, err)
		}
		policies = append(policies, Policy{
			Name:        raw.Name,
			Algorithm:   Algorithm(raw.Algorithm),
			Window:      window,
			MaxRequests: raw.MaxRequests,
			KeyPrefix:   raw.KeyPrefix,
			FailMode:    FailMode(raw.FailMode),
		})
	}
	return NewRegistry(policies...)
}
