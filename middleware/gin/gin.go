// Package gin provides rate limiting middleware for the Gin web framework.
package gin

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/replyhub/ratelimit"
)

// RateLimiter creates a new Gin middleware handler.
//
// It checks each request against the named policy using the provided Checker.
// The behavior of the middleware can be customized by passing functional
// options, such as changing how a client is identified (WithKeyFunc) or how
// denials are rendered (WithErrorHandler).
//
// Example:
//
//	checker := ratelimit.NewChecker(st, registry)
//	router := gin.Default()
//	router.POST("/login", ratelimitgin.RateLimiter(checker, "auth:login"), loginHandler)
func RateLimiter(checker *ratelimit.Checker, policyName string, options ...ratelimit.Option) gin.HandlerFunc {
	cfg := ratelimit.NewConfig(options...)

	return func(c *gin.Context) {
		identity, err := cfg.KeyFunc(c.Request)
		if err != nil {
			cfg.Logger.Errorf("failed to extract identity: %v", err)
			identity = ""
		}

		dec, err := checker.Check(c.Request.Context(), identity, policyName)
		if err != nil {
			cfg.Logger.Errorf("check failed for policy %q: %v", policyName, err)
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(dec.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(dec.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.UnixMilli(), 10))

		if !dec.Allowed {
			cfg.Logger.Debugf(
				"request denied for %q under policy %q, remaining %d of %d",
				identity, policyName, dec.Remaining, dec.Limit,
			)
			c.Header("Retry-After", strconv.Itoa(dec.RetryAfterSeconds()))
			cfg.ErrorHandler(c.Writer, c.Request, ratelimit.ErrExceeded, dec)
			c.Abort()
			return
		}

		cfg.Logger.Debugf(
			"request allowed for %q under policy %q, remaining %d of %d",
			identity, policyName, dec.Remaining, dec.Limit,
		)

		c.Next()
	}
}
