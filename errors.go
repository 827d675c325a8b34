package ratelimit

import "errors"

var (
	// ErrExceeded is a sentinel error passed to middleware error handlers when
	// the rate limit is surpassed. It is never returned by Checker.Check.
	ErrExceeded = errors.New("rate limit exceeded")

	// ErrUnknownPolicy is returned when a caller asks for a policy name that
	// is not registered. This is a programming error; callers must treat the
	// request as denied, never as a silent pass-through.
	ErrUnknownPolicy = errors.New("unknown rate limit policy")

	// ErrInvalidIdentity is returned when the caller-supplied identity is
	// empty or malformed. An unscoped key would pool unrelated callers into
	// one window, so this is treated like ErrUnknownPolicy: fail closed.
	ErrInvalidIdentity = errors.New("invalid rate limit identity")

	// ErrStoreUnavailable wraps failures of a remote Store backend (connection
	// errors and timeouts). The Checker resolves it into the policy's
	// fail-open or fail-closed decision instead of surfacing it.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
