// internal/pricing/cache.go
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache holds recently read USD prices.
type Cache interface {
	Get(ctx context.Context, key string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, key string, price decimal.Decimal, ttl time.Duration) error
}

// RedisCache stores prices as decimal strings under a key prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "custody:price:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("cached price %s: %w", key, err)
	}
	return price, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, price decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, price.String(), ttl).Err()
}

// NoCache is used when Redis is not configured.
type NoCache struct{}

func (NoCache) Get(context.Context, string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoCache) Set(context.Context, string, decimal.Decimal, time.Duration) error { return nil }
