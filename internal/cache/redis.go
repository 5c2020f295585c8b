package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idempotency is a Redis-backed set-if-absent marker store, used to dedup
// provider webhook deliveries.
type Idempotency struct {
	client *redis.Client
	prefix string
}

func NewIdempotency(client *redis.Client, prefix string) *Idempotency {
	return &Idempotency{client: client, prefix: prefix}
}

// SetIfAbsent records the key with a TTL and reports whether it was new.
func (c *Idempotency) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := c.client.SetNX(ctx, c.key(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx %s: %w", key, err)
	}
	return fresh, nil
}

// Delete releases a marker so the key can be claimed again.
func (c *Idempotency) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: del %s: %w", key, err)
	}
	return nil
}

func (c *Idempotency) key(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}
