package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Community runs on a local LRU; Pro shares state through Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// The counter resets once window has elapsed since its first increment.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Counter reads a counter without incrementing it. Missing or expired
	// counters read as zero.
	Counter(ctx context.Context, key string) (int64, error)

	// Counters reads several counters in one call, in key order.
	Counters(ctx context.Context, keys ...string) ([]int64, error)

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
	LocalTTL     time.Duration `yaml:"localTTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	// RedisKeyPrefix namespaces keys when replicas share a Redis
	// database with other services. Defaults to "watchtower".
	RedisKeyPrefix string `yaml:"redisKeyPrefix"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"enableTwoPhase"` // If true, check local first, then Redis

	// VerdictTTL bounds how long a memoized phishing verdict is served.
	// Zero disables the memo.
	VerdictTTL time.Duration `yaml:"verdictTTL"`
}
