// Package ratelimit provides fixed-window request rate limiting for the
// endpoint classes of a customer-messaging platform, with in-process and
// distributed (Redis) window stores behind one interface.
//
// The primary entry point is the Checker:
//
//	dec, err := checker.Check(ctx, identity, "auth:login")
//
// A Checker combines three parts:
//
//   - A Registry of named, immutable policies (window length, request
//     ceiling, key prefix, fail mode), fixed at process start.
//   - A Store holding per-key window counters. store.MemoryStore suits
//     single-instance deployments and tests; store.RedisStore shares one
//     global budget across replicas using an atomic Lua counter.
//   - The decision logic itself: increment-then-check, so the counter update
//     and the limit comparison collapse into the store's single atomic
//     operation and concurrent requests can never both slip through one
//     remaining slot. Denied requests still count against the window, which
//     keeps tight retry loops from stretching a caller's budget.
//
// The returned Decision carries everything needed for standard rate-limit
// response headers: the ceiling, the remaining budget, the window end, and a
// retry hint. Middleware for net/http and Gin under middleware/ renders
// denials as 429 responses with those headers and a JSON body.
//
// # Failure behavior
//
// A misconfigured caller (unknown policy name, empty identity) gets a denied
// Decision plus an error: configuration bugs fail closed. An unavailable
// store never surfaces an error to handlers; each policy declares whether it
// fails open (availability wins) or closed (the rate guarantee wins), and
// authentication policies in DefaultPolicies fail closed.
//
// # Logging and metrics
//
// The Logger interface decouples the package from any logging framework;
// adapters for zap, zerolog, logrus and the standard library live under
// adapters/. A MetricsRecorder hook receives allow/deny/error counters and
// store latency.
package ratelimit
