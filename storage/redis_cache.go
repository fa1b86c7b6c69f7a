package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"showtime-analytics/utils"
)

const redisKeyPrefix = "showtimes:"

// RedisCache is a utils.Cache backed by Redis, so several processes share one
// upstream request budget. Redis failures are logged and treated as misses.
type RedisCache struct {
	client redis.UniversalClient
	logger *utils.Logger
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr string, logger *utils.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisCache{client: client, logger: logger}, nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client redis.UniversalClient, logger *utils.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("[cache] redis get %s: %v", key, err)
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		c.logger.Warn("[cache] redis set %s: %v", key, err)
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ utils.Cache = (*RedisCache)(nil)
