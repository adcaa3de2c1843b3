package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/watchtower/internal/domain"
	"github.com/redis/go-redis/v9"
)

// openWindow increments a counter and starts its expiry on the first hit,
// so a window runs from its first event rather than its last.
var openWindow = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// RedisCache shares counters and memoized verdicts between replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis. RedisAddr may be host:port or a
// redis:// URL carrying credentials and database.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	prefix := cfg.RedisKeyPrefix
	if prefix == "" {
		prefix = "watchtower"
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

func redisOptions(cfg domain.CacheConfig) (*redis.Options, error) {
	if strings.HasPrefix(cfg.RedisAddr, "redis://") || strings.HasPrefix(cfg.RedisAddr, "rediss://") {
		opts, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		return opts, nil
	}

	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	return &redis.Options{
		Addr:         addr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}, nil
}

// Get returns the value for key, or nil when Redis has none.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Set stores value under key; a non-positive ttl never expires.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, c.valueKey(key), value, ttl).Err()
}

// IncrementCounter adds one to key's counter; Redis expiry closes the window.
func (c *RedisCache) IncrementCounter(ctx context.Context, key string, span time.Duration) (int64, error) {
	return openWindow.Run(ctx, c.client, []string{c.counterKey(key)}, span.Milliseconds()).Int64()
}

// Counter reads key's counter in its current window.
func (c *RedisCache) Counter(ctx context.Context, key string) (int64, error) {
	counts, err := c.Counters(ctx, key)
	if err != nil {
		return 0, err
	}
	return counts[0], nil
}

// Counters reads several counters with one MGET.
func (c *RedisCache) Counters(ctx context.Context, keys ...string) ([]int64, error) {
	out := make([]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = c.counterKey(key)
	}
	vals, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // missing or expired
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s holds %q: %w", keys[i], s, err)
		}
		out[i] = n
	}
	return out, nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) valueKey(key string) string {
	return c.prefix + ":" + key
}

func (c *RedisCache) counterKey(key string) string {
	return c.prefix + ":counter:" + key
}
