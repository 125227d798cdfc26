package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/forum-core/internal/infrastructure/config"
)

func TestBucketShape(t *testing.T) {
	tests := []struct {
		name         string
		cfg          config.RateLimitConfig
		wantCapacity int
		wantInterval time.Duration
	}{
		{"burst and rate", config.RateLimitConfig{RequestsPerMinute: 30, Burst: 10}, 10, 2 * time.Second},
		{"burst defaults to rate", config.RateLimitConfig{RequestsPerMinute: 60}, 60, time.Second},
		{"zero rate clamps", config.RateLimitConfig{}, 1, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capacity, interval := bucketShape(tt.cfg)
			if capacity != tt.wantCapacity || interval != tt.wantInterval {
				t.Errorf("bucketShape() = %d, %v; want %d, %v", capacity, interval, tt.wantCapacity, tt.wantInterval)
			}
		})
	}
}

func TestParseResult(t *testing.T) {
	d, err := parseResult([]any{int64(0), int64(0), int64(1500)})
	if err != nil {
		t.Fatalf("parseResult() error = %v", err)
	}
	if d.Allowed || d.RetryAfter != 1500*time.Millisecond || d.RetryAfterSeconds() != 2 {
		t.Errorf("decision = %+v (retry %ds)", d, d.RetryAfterSeconds())
	}

	d, err = parseResult([]any{int64(1), int64(4), int64(0)})
	if err != nil || !d.Allowed || d.Remaining != 4 {
		t.Errorf("parseResult(allowed) = %+v, %v", d, err)
	}

	if _, err := parseResult("OK"); err == nil {
		t.Error("parseResult() should reject a non-array result")
	}
}

func TestKey(t *testing.T) {
	l := NewRedisLimiter(nil, config.RateLimitConfig{RequestsPerMinute: 10})
	if got := l.Key("auth", "203.0.113.7"); got != "rl:auth:203.0.113.7" {
		t.Errorf("Key() = %q", got)
	}
}

func TestConnect_Disabled(t *testing.T) {
	if _, err := Connect(context.Background(), config.RedisConfig{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

// TestRedisLimiter_Integration needs a Redis at FORUM_TEST_REDIS_ADDR.
func TestRedisLimiter_Integration(t *testing.T) {
	addr := os.Getenv("FORUM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FORUM_TEST_REDIS_ADDR not set, skipping redis integration test")
	}
	ctx := context.Background()
	rdb, err := Connect(ctx, config.RedisConfig{Enabled: true, Addr: addr})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer rdb.Close()

	l := NewRedisLimiter(rdb, config.RateLimitConfig{RequestsPerMinute: 6, Burst: 2, Prefix: "rl-test"})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	key := l.Key("auth", t.Name())
	t.Cleanup(func() { rdb.Del(ctx, key) })

	for i := range 2 {
		d, err := l.Allow(ctx, key)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: %+v, %v", i, d, err)
		}
	}
	d, err := l.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if d.Allowed || d.RetryAfter != 10*time.Second {
		t.Errorf("third request = %+v, want blocked for 10s", d)
	}

	fixed = fixed.Add(10 * time.Second)
	if d, _ := l.Allow(ctx, key); !d.Allowed { //nolint:errcheck // checked via decision
		t.Error("bucket should have refilled one token")
	}
}
