package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRun retrieves a cached sampling run. Returns nil, nil on a miss.
	GetRun(ctx context.Context, tenantID string, key string) (*SamplingRun, error)

	// SetRun caches a sampling run under its input key.
	SetRun(ctx context.Context, tenantID string, key string, run *SamplingRun, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `yaml:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTtl"`

	// Redis settings (Pro tier)
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
