package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// Logger is a simple interface for logging.
// Users can provide their own logger that implements this interface;
// ready-made adapters for zap, zerolog, logrus and the standard library
// live under adapters/.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger is a default logger that does nothing.
// It is used when no logger is provided by the user to avoid nil panics.
type noopLogger struct{}

func (l *noopLogger) Debugf(format string, args ...interface{}) {}
func (l *noopLogger) Errorf(format string, args ...interface{}) {}

// KeyFunc is a function type used to extract a unique client identity from an
// incoming HTTP request. The returned string is scoped under the policy's
// key prefix and becomes the counting key.
type KeyFunc func(r *http.Request) (string, error)

// ClientKeyFunc returns the standard identity extractor: client network
// address plus an authenticated/anonymous marker, e.g. "203.0.113.4:anon".
//
// When trustForwardedFor is true the first entry of X-Forwarded-For is
// preferred over RemoteAddr; only enable this behind a proxy that sets the
// header, since clients can spoof it otherwise.
func ClientKeyFunc(trustForwardedFor bool) KeyFunc {
	return func(r *http.Request) (string, error) {
		addr := ""
		if trustForwardedFor {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				addr = strings.TrimSpace(strings.Split(xff, ",")[0])
			}
		}
		if addr == "" {
			host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
			if err == nil && host != "" {
				addr = host
			} else {
				addr = r.RemoteAddr
			}
		}
		if addr == "" {
			addr = "unknown"
		}

		marker := "anon"
		if r.Header.Get("Authorization") != "" {
			marker = "auth"
		}
		return addr + ":" + marker, nil
	}
}

// ErrorHandler is a function type that defines how to respond to a client when
// a rate limit is exceeded. This gives the user full control over the status
// code and body of the error response; the X-RateLimit-* and Retry-After
// headers are already set by the middleware when it is invoked.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error, dec Decision)

// deniedBody is the JSON shape of the default 429 response.
type deniedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Config holds all configurable parameters for the middleware.
// It is an internal struct that users interact with via functional options.
type Config struct {
	KeyFunc      KeyFunc
	ErrorHandler ErrorHandler
	Logger       Logger
}

// Option is a function type that applies a configuration setting to a Config
// struct. It's the core of the Functional Options Pattern.
type Option func(*Config)

// NewConfig creates a Config instance with default settings and then applies
// any provided functional options.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		KeyFunc: ClientKeyFunc(false),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error, dec Decision) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(deniedBody{
				Error:      "rate_limited",
				Message:    "too many requests, slow down",
				RetryAfter: dec.RetryAfterSeconds(),
			})
		},
		Logger: &noopLogger{},
	}

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithKeyFunc returns an Option that sets a custom function for client
// identification. This allows users to rate-limit based on criteria like
// API keys, account IDs, etc.
func WithKeyFunc(f KeyFunc) Option {
	return func(c *Config) {
		if f != nil {
			c.KeyFunc = f
		}
	}
}

// WithErrorHandler returns an Option that sets a custom handler for rate limit
// errors. This is useful for sending differently structured error responses
// or logging detailed information.
func WithErrorHandler(f ErrorHandler) Option {
	return func(c *Config) {
		if f != nil {
			c.ErrorHandler = f
		}
	}
}

// WithLogger returns an Option that sets a custom logger.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}
