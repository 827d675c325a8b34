package ratelimit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRegistry_RejectsInvalidPolicies(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
	}{
		{"EmptyName", Policy{Window: time.Minute, MaxRequests: 1, KeyPrefix: "x"}},
		{"ZeroWindow", Policy{Name: "p", MaxRequests: 1, KeyPrefix: "x"}},
		{"NegativeMax", Policy{Name: "p", Window: time.Minute, MaxRequests: -1, KeyPrefix: "x"}},
		{"EmptyPrefix", Policy{Name: "p", Window: time.Minute, MaxRequests: 1}},
		{"BadAlgorithm", Policy{Name: "p", Window: time.Minute, MaxRequests: 1, KeyPrefix: "x", Algorithm: "leaky_bucket"}},
		{"BadFailMode", Policy{Name: "p", Window: time.Minute, MaxRequests: 1, KeyPrefix: "x", FailMode: "maybe"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.policy); err == nil {
				t.Errorf("NewRegistry accepted invalid policy %+v", tc.policy)
			}
		})
	}
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	p := Policy{Name: "api", Window: time.Minute, MaxRequests: 10, KeyPrefix: "api"}
	if _, err := NewRegistry(p, p); err == nil {
		t.Error("NewRegistry accepted a duplicate policy name")
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg := MustRegistry(Policy{Name: "api", Window: time.Minute, MaxRequests: 10, KeyPrefix: "api"})

	p, err := reg.Lookup("api")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.Algorithm != AlgorithmFixedWindow {
		t.Errorf("algorithm default = %q, want fixed_window", p.Algorithm)
	}
	if p.FailMode != FailOpen {
		t.Errorf("fail mode default = %q, want open", p.FailMode)
	}

	if _, err := reg.Lookup("nope"); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("lookup of unregistered name: err = %v, want ErrUnknownPolicy", err)
	}
}

func TestDefaultPolicies(t *testing.T) {
	reg, err := NewRegistry(DefaultPolicies()...)
	if err != nil {
		t.Fatalf("default policies must validate: %v", err)
	}

	wantNames := []string{
		"auth:login", "auth:signup", "auth:otp", "auth:password-reset",
		"api", "broadcast", "webhook", "form", "storefront",
	}
	for _, name := range wantNames {
		p, err := reg.Lookup(name)
		if err != nil {
			t.Errorf("missing default policy %q", name)
			continue
		}
		if p.Algorithm != AlgorithmFixedWindow {
			t.Errorf("policy %q: default set must be fixed window, got %q", name, p.Algorithm)
		}
	}
	if len(reg.Names()) != len(wantNames) {
		t.Errorf("registry has %d policies, want %d", len(reg.Names()), len(wantNames))
	}

	for _, name := range []string{"auth:login", "auth:signup", "auth:otp", "auth:password-reset"} {
		p, _ := reg.Lookup(name)
		if p.FailMode != FailClosed {
			t.Errorf("policy %q: fail mode = %q, want closed", name, p.FailMode)
		}
	}
	for _, name := range []string{"api", "broadcast", "webhook", "form", "storefront"} {
		p, _ := reg.Lookup(name)
		if p.FailMode != FailOpen {
			t.Errorf("policy %q: fail mode = %q, want open", name, p.FailMode)
		}
	}
}

func TestLoadPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")
	content := `[
		{"name": "auth:login", "window": "15m", "max_requests": 5, "key_prefix": "auth:login", "fail_mode": "closed"},
		{"name": "api", "window": "1m", "max_requests": 100, "key_prefix": "api"},
		{"name": "broadcast", "algorithm": "token_bucket", "window": "1h", "max_requests": 10, "key_prefix": "broadcast"}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadPolicies(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	login, err := reg.Lookup("auth:login")
	if err != nil {
		t.Fatal(err)
	}
	if login.Window != 15*time.Minute || login.MaxRequests != 5 || login.FailMode != FailClosed {
		t.Errorf("unexpected login policy: %+v", login)
	}

	broadcast, err := reg.Lookup("broadcast")
	if err != nil {
		t.Fatal(err)
	}
	if broadcast.Algorithm != AlgorithmTokenBucket {
		t.Errorf("broadcast algorithm = %q, want token_bucket", broadcast.Algorithm)
	}
}

func TestLoadPolicies_Errors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		if _, err := LoadPolicies(filepath.Join(t.TempDir(), "absent.json")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("BadDuration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policies.json")
		content := `[{"name": "api", "window": "soon", "max_requests": 1, "key_prefix": "api"}]`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadPolicies(path); err == nil {
			t.Error("expected error for unparseable window")
		}
	})
}

func TestPolicy_Key(t *testing.T) {
	p := Policy{Name: "auth:login", Window: time.Minute, MaxRequests: 5, KeyPrefix: "auth:login"}
	if got, want := p.Key("203.0.113.4:anon"), "auth:login:203.0.113.4:anon"; got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}
