package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "dlx:resolve:"

// RedisResolveCache stores resolved URLs as JSON strings with a native TTL.
type RedisResolveCache struct {
	rdb *redis.Client
}

// NewRedisResolveCache connects to the Redis server at addr.
func NewRedisResolveCache(ctx context.Context, addr string) (*RedisResolveCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisResolveCache{rdb: rdb}, nil
}

func (c *RedisResolveCache) key(query string) string {
	return redisKeyPrefix + CacheKey(query)
}

// Get returns the cached URLs for query.
func (c *RedisResolveCache) Get(ctx context.Context, query string) ([]string, error) {
	raw, err := c.rdb.Get(ctx, c.key(query)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resolve cache: %w", err)
	}

	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		return nil, fmt.Errorf("failed to decode cached urls: %w", err)
	}
	return urls, nil
}

// Put stores urls for query with ttl.
func (c *RedisResolveCache) Put(ctx context.Context, query string, urls []string, ttl time.Duration) error {
	raw, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("failed to encode urls: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(query), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write resolve cache: %w", err)
	}
	return nil
}

// Prune is a no-op; Redis expires keys itself.
func (c *RedisResolveCache) Prune(context.Context) (int64, error) { return 0, nil }

// Close closes the Redis connection pool.
func (c *RedisResolveCache) Close() error { return c.rdb.Close() }
