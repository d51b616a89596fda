package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed-window limiter shared across instances through Redis.
// Redis failures allow the request.
type RedisWindow struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
	limit  int64
}

// NewRedisWindow allows limit requests per key per window.
func NewRedisWindow(client redis.UniversalClient, limit int64, window time.Duration) *RedisWindow {
	return &RedisWindow{
		client: client,
		prefix: "tweetpilot:ratelimit:",
		limit:  limit,
		window: window,
	}
}

// Allow counts the request in the current window.
func (rw *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	slot := time.Now().UnixNano() / int64(rw.window)
	redisKey := fmt.Sprintf("%s%s:%d", rw.prefix, key, slot)

	var incr *redis.IntCmd
	_, err := rw.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, rw.window+time.Minute)
		return nil
	})
	if err != nil {
		slog.Warn("Rate limiter unavailable, allowing request", "component", "ratelimit", "error", err)
		return true, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= rw.limit, nil
}
