package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a fixed-window counter shared by every instance that points
// at the same Redis.
type RedisCounter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisCounter creates a RedisCounter allowing limit uses per window.
func NewRedisCounter(rdb *redis.Client, prefix string, limit int, window time.Duration) *RedisCounter {
	return &RedisCounter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

// Hit counts one use of key. On a Redis failure the use is allowed and the
// error returned for logging.
func (c *RedisCounter) Hit(ctx context.Context, key string) (Result, error) {
	k := c.prefix + ":" + key

	count, err := c.rdb.Incr(ctx, k).Result()
	if err != nil {
		return Result{Allowed: true, Remaining: c.limit}, fmt.Errorf("incrementing usage counter: %w", err)
	}

	// First use in the window sets the expiry.
	if count == 1 {
		if err := c.rdb.Expire(ctx, k, c.window).Err(); err != nil {
			return result(int(count), c.limit, c.window), fmt.Errorf("setting usage counter expiry: %w", err)
		}
	}

	ttl, err := c.rdb.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		ttl = c.window
	}

	return result(int(count), c.limit, ttl), nil
}

// Connect parses url and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
