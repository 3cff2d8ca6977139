package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/invoicer/pkg/storage"
)

// ErrCacheMiss is returned by GetJSON when the key is absent
var ErrCacheMiss = errors.New("cache miss")

// RedisClient wraps go-redis with JSON helpers for the user cache and
// exposes the raw client for the distributed rate limiter.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient parses the configured URL, applies overrides and pings
func NewRedisClient(config storage.Config) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisClientFromClient(client), nil
}

// NewRedisClientFromClient wraps an existing go-redis client
func NewRedisClientFromClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// GetJSON decodes the value at key into dest. Corrupt entries are deleted
// and reported as misses.
func (c *RedisClient) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	} else if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.client.Del(ctx, key)
		return ErrCacheMiss
	}
	return nil
}

// SetJSON stores value at key for ttl
func (c *RedisClient) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes keys
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// invalidateBatch bounds both the SCAN page and each DEL
const invalidateBatch = 100

// InvalidatePatterns removes keys matching glob patterns. It walks the
// keyspace with SCAN, never KEYS, so a large cache does not block Redis.
func (c *RedisClient) InvalidatePatterns(ctx context.Context, patterns ...string) error {
	for _, pattern := range patterns {
		batch := make([]string, 0, invalidateBatch)
		iter := c.client.Scan(ctx, 0, pattern, invalidateBatch).Iterator()
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == invalidateBatch {
				if err := c.Delete(ctx, batch...); err != nil {
					return fmt.Errorf("failed to invalidate %s: %w", pattern, err)
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
		}
		if err := c.Delete(ctx, batch...); err != nil {
			return fmt.Errorf("failed to invalidate %s: %w", pattern, err)
		}
	}
	return nil
}

// HealthCheck pings Redis
func (c *RedisClient) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying go-redis client
func (c *RedisClient) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}
