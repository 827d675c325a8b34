package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/replyhub/ratelimit"
)

const (
	defaultPrefix  = "ratelimit:"
	defaultTimeout = 200 * time.Millisecond
)

// RedisStore implements the ratelimit.Store interface using Redis as the
// backend. It is suitable for distributed deployments where multiple
// application instances need to share a common rate-limiting state. It uses
// Lua scripts to ensure atomicity: the whole read/compute/write cycle for one
// key is a single round trip, so concurrent observations from independent
// processes are never lost.
//
// Every call is bounded by a timeout so a slow Redis cannot stall the
// calling request; on timeout or connection failure the returned error wraps
// ratelimit.ErrStoreUnavailable, which the Checker resolves into the
// policy's fail-open or fail-closed decision.
type RedisStore struct {
	client        redis.UniversalClient
	observeScript *redis.Script
	takeScript    *redis.Script
	prefix        string
	timeout       time.Duration
	metrics       ratelimit.MetricsRecorder
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the storage key namespace (default "ratelimit:").
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTimeout bounds each Redis round trip (default 200ms). Keep it below
// the calling request's own timeout budget.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRecorder injects a metrics backend for call counts and latency.
func WithRecorder(m ratelimit.MetricsRecorder) RedisOption {
	return func(s *RedisStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewRedis creates a new RedisStore. Lua scripts are pre-compiled; go-redis
// loads them on first use and transparently retries with EVAL if the script
// cache is flushed by a Redis restart.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	// Counter INCR plus expiry management in one atomic script. PTTL also
	// repairs a missing expiry (ttl == -1), which can be left behind if a
	// previous PEXPIRE was lost, so no key can count forever.
	const observeLua = `
		local current = redis.call("INCR", KEYS[1])
		local ttl = redis.call("PTTL", KEYS[1])
		if tonumber(current) == 1 or ttl < 0 then
			redis.call("PEXPIRE", KEYS[1], ARGV[1])
			ttl = tonumber(ARGV[1])
		end
		return {current, ttl}
	`

	const takeTokenLua = `
		local key = KEYS[1]
		local rate = tonumber(ARGV[1])
		local burst = tonumber(ARGV[2])
		local now = tonumber(ARGV[3])
		local cost = 1

		local entry = redis.call("HGETALL", key)
		local tokens
		local last_updated

		if #entry == 0 then
			tokens = burst
			last_updated = now
		else
			tokens = tonumber(entry[2])
			last_updated = tonumber(entry[4])
		end

		local elapsed = now - last_updated
		if elapsed > 0 then
			tokens = tokens + elapsed * rate
		end

		if tokens > burst then
			tokens = burst
		end

		local allowed = 0
		if tokens >= cost then
			tokens = tokens - cost
			allowed = 1
		end

		redis.call("HSET", key, "tokens", tokens, "last_updated", now)
		local ttl = math.ceil((burst / rate) * 2)
		if ttl < 10 then
			ttl = 10
		end
		redis.call("EXPIRE", key, ttl)

		return {allowed, tostring(tokens)}
	`

	s := &RedisStore{
		client:        client,
		observeScript: redis.NewScript(observeLua),
		takeScript:    redis.NewScript(takeTokenLua),
		prefix:        defaultPrefix,
		timeout:       defaultTimeout,
		metrics:       ratelimit.NoopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe executes the pre-compiled counter script and converts the returned
// {count, pttl} pair into a WindowState.
func (s *RedisStore) Observe(ctx context.Context, key string, window time.Duration) (ratelimit.WindowState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.observeScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Result()
	s.record(start, err)
	if err != nil {
		return ratelimit.WindowState{}, fmt.Errorf("%w: observe %q: %v", ratelimit.ErrStoreUnavailable, key, err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return ratelimit.WindowState{}, fmt.Errorf("%w: observe %q: unexpected script reply %v", ratelimit.ErrStoreUnavailable, key, res)
	}

	count, _ := arr[0].(int64)
	ttlMillis, _ := arr[1].(int64)
	return ratelimit.WindowState{
		Count:   count,
		ResetAt: time.Now().Add(time.Duration(ttlMillis) * time.Millisecond),
	}, nil
}

// Peek reads the counter and its remaining TTL without incrementing.
func (s *RedisStore) Peek(ctx context.Context, key string) (ratelimit.WindowState, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, s.prefix+key)
	ttlCmd := pipe.PTTL(ctx, s.prefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return ratelimit.WindowState{}, false, nil
		}
		return ratelimit.WindowState{}, false, fmt.Errorf("%w: peek %q: %v", ratelimit.ErrStoreUnavailable, key, err)
	}

	count, err := strconv.ParseInt(getCmd.Val(), 10, 64)
	if err != nil {
		return ratelimit.WindowState{}, false, nil
	}
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return ratelimit.WindowState{}, false, nil
	}
	return ratelimit.WindowState{Count: count, ResetAt: time.Now().Add(ttl)}, true, nil
}

// TakeToken executes the token bucket Lua script and parses its multi-value
// response.
func (s *RedisStore) TakeToken(ctx context.Context, key string, rate float64, burst int64) (bool, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := float64(time.Now().UnixNano()) / 1e9

	start := time.Now()
	res, err := s.takeScript.Run(ctx, s.client, []string{s.prefix + key}, rate, burst, now).Result()
	s.record(start, err)
	if err != nil {
		return false, 0, fmt.Errorf("%w: take token %q: %v", ratelimit.ErrStoreUnavailable, key, err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("%w: take token %q: unexpected script reply %v", ratelimit.ErrStoreUnavailable, key, res)
	}

	allowed, _ := arr[0].(int64)
	remainingStr, _ := arr[1].(string)
	remaining, _ := strconv.ParseFloat(remainingStr, 64)
	return allowed == 1, remaining, nil
}

func (s *RedisStore) record(start time.Time, err error) {
	s.metrics.Add("ratelimit.call", 1, nil)
	s.metrics.Observe("ratelimit.latency", time.Since(start).Seconds(), nil)
	if err != nil {
		s.metrics.Add("ratelimit.call_error", 1, nil)
	}
}
