package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the Redis instance named in cfg.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	val, err := c.client.Get(ctx, c.makeKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL. A non-positive ttl stores without expiry.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, c.makeKey(tenantID, key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	return c.client.Del(ctx, c.makeKey(tenantID, key)).Err()
}

// GetRun retrieves a cached sampling run.
func (c *RedisCache) GetRun(ctx context.Context, tenantID string, key string) (*domain.SamplingRun, error) {
	return getRun(ctx, c, tenantID, key)
}

// SetRun caches a sampling run.
func (c *RedisCache) SetRun(ctx context.Context, tenantID string, key string, run *domain.SamplingRun, ttl time.Duration) error {
	return setRun(ctx, c, tenantID, key, run, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(tenantID, key string) string {
	return "kestrel:" + tenantID + ":" + key
}
