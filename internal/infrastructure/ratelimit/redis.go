package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/forum-core/internal/infrastructure/config"
)

const defaultPingTimeout = 2 * time.Second

// ErrDisabled is returned by Connect when Redis is switched off.
var ErrDisabled = errors.New("ratelimit: redis disabled in configuration")

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ratelimit: connecting to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
