// Package nethttp provides rate limiting middleware for the standard
// net/http stack.
package nethttp

import (
	"net/http"
	"strconv"

	"github.com/replyhub/ratelimit"
)

// Middleware creates a new middleware handler for the standard net/http library.
//
// It wraps an existing http.Handler and checks incoming requests against the
// named policy using the provided Checker. On every response it sets the
// standard X-RateLimit-* headers; denied requests additionally get a
// Retry-After header and a 429 with a JSON body. The behavior can be
// customized using functional options.
//
// Rate-limiter internal failures never turn into a 5xx here: an unknown
// policy name or bad identity is denied like an exhausted window, and store
// outages are already resolved by the Checker into the policy's fail mode.
//
// Example:
//
//	checker := ratelimit.NewChecker(st, registry)
//	mux := http.NewServeMux()
//	mux.HandleFunc("/login", loginHandler)
//
//	protect := nethttp.Middleware(checker, "auth:login")
//	http.ListenAndServe(":8080", protect(mux))
func Middleware(checker *ratelimit.Checker, policyName string, options ...ratelimit.Option) func(http.Handler) http.Handler {
	cfg := ratelimit.NewConfig(options...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := cfg.KeyFunc(r)
			if err != nil {
				cfg.Logger.Errorf("failed to extract identity: %v", err)
				identity = ""
			}

			dec, err := checker.Check(r.Context(), identity, policyName)
			if err != nil {
				// Programming error (unknown policy or bad identity):
				// deny, never pass through silently.
				cfg.Logger.Errorf("check failed for policy %q: %v", policyName, err)
			}

			setHeaders(w, dec)

			if !dec.Allowed {
				cfg.Logger.Debugf(
					"request denied for %q under policy %q, remaining %d of %d",
					identity, policyName, dec.Remaining, dec.Limit,
				)
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfterSeconds()))
				cfg.ErrorHandler(w, r, ratelimit.ErrExceeded, dec)
				return
			}

			cfg.Logger.Debugf(
				"request allowed for %q under policy %q, remaining %d of %d",
				identity, policyName, dec.Remaining, dec.Limit,
			)
			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, dec ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(dec.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(dec.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.UnixMilli(), 10))
}
