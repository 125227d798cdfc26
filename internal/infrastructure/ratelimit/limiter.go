package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/forum-core/internal/infrastructure/config"
)

// tokenBucket refills whole tokens per elapsed interval and takes one.
// Returns {allowed, remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals)
		last_refill = last_refill + (intervals * interval_ms)
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the
// Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisLimiter is a token bucket per key stored in a Redis hash.
type RedisLimiter struct {
	rdb      redis.Scripter
	prefix   string
	capacity int
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
}

// NewRedisLimiter builds a limiter from the rate-limit settings. The
// bucket holds Burst tokens (RequestsPerMinute when Burst is unset) and
// regains one token every minute/RequestsPerMinute.
func NewRedisLimiter(rdb redis.Scripter, cfg config.RateLimitConfig) *RedisLimiter {
	capacity, interval := bucketShape(cfg)
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{
		rdb:      rdb,
		prefix:   prefix,
		capacity: capacity,
		interval: interval,
		ttl:      time.Duration(capacity)*interval + time.Minute,
		now:      time.Now,
	}
}

func bucketShape(cfg config.RateLimitConfig) (capacity int, interval time.Duration) {
	rpm := cfg.RequestsPerMinute
	if rpm < 1 {
		rpm = 1
	}
	capacity = cfg.Burst
	if capacity < 1 {
		capacity = rpm
	}
	return capacity, time.Minute / time.Duration(rpm)
}

// Key joins the prefix and parts into a Redis key, e.g. rl:auth:203.0.113.7.
func (l *RedisLimiter) Key(parts ...string) string {
	return l.prefix + ":" + strings.Join(parts, ":")
}

// Allow takes one token from the bucket for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	vals, err := tokenBucket.Run(ctx, l.rdb, []string{key},
		l.now().UnixMilli(),
		l.capacity,
		l.interval.Milliseconds(),
		int64(l.ttl/time.Second),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: running token bucket: %w", err)
	}
	d, err := parseResult(vals)
	if err != nil {
		return Decision{}, err
	}
	d.Limit = l.capacity
	return d, nil
}

func parseResult(vals any) (Decision, error) {
	arr, ok := vals.([]any)
	if !ok || len(arr) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %#v", vals)
	}
	return Decision{
		Allowed:    asInt64(arr[0]) == 1,
		Remaining:  asInt64(arr[1]),
		RetryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, nil
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
