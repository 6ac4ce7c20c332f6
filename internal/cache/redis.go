package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lsmtree_cache:"

// RedisCache implements Cache using Redis, for deployments where many
// readers share one remote segment store and a per-process map is not
// enough.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis cache instance.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// NewRedisCacheWithURL creates a Redis cache from a redis:// URL.
func NewRedisCacheWithURL(url string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisCache(redis.NewClient(opt), ttl), nil
}

// Take implements Cache.
func (c *RedisCache) Take(ctx context.Context, key string, loader func() ([]byte, error)) ([]byte, error) {
	cacheKey := redisKeyPrefix + key

	cached, err := c.client.GetEx(ctx, cacheKey, c.ttl).Bytes()
	if err == nil {
		return cached, nil
	}
	if err != redis.Nil {
		// Redis unavailable: degrade to the loader
		return loader()
	}

	data, err := loader()
	if err != nil {
		return nil, err
	}
	// Best effort; a failed Set costs a future miss
	c.client.Set(ctx, cacheKey, data, c.ttl)
	return data, nil
}

// Invalidate drops a key.
func (c *RedisCache) Invalidate(ctx context.Context, key string) {
	c.client.Del(ctx, redisKeyPrefix+key)
}
