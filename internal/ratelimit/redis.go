package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a Counter shared through Redis.
type RedisCounter struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounter creates a counter storing keys under prefix.
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	return &RedisCounter{redis: client, prefix: prefix}
}

// Incr implements Counter with INCR and an EXPIRE set on the first hit.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	fullKey := c.prefix + key

	count, err := c.redis.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := c.redis.Expire(ctx, fullKey, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return count, time.Now().Add(window), nil
	}

	ttl, err := c.redis.PTTL(ctx, fullKey).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// A key without expiry means an earlier EXPIRE was lost. Restart the
	// window rather than counting forever.
	if ttl < 0 {
		if err := c.redis.Expire(ctx, fullKey, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		ttl = window
	}
	return count, time.Now().Add(ttl), nil
}
