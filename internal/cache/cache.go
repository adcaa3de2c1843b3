package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/watchtower/internal/domain"
)

// New builds the cache named by cfg.Type: "memory" for a single process,
// "redis" for shared state, fronted by an in-process L1 when
// EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		remote, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return remote, nil
		}
		return NewTwoPhaseCache(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// DefaultLocalTTL caps how long a replica serves a memoized value from L1.
const DefaultLocalTTL = 5 * time.Minute

// TwoPhaseCache reads memoized values from a local LRU before Redis.
// Counters always live in Redis so every replica sees the same totals.
type TwoPhaseCache struct {
	local    *LRUCache
	remote   domain.Cache
	localTTL time.Duration
}

// NewTwoPhaseCache layers local in front of remote.
func NewTwoPhaseCache(local *LRUCache, remote domain.Cache, localTTL time.Duration) *TwoPhaseCache {
	if localTTL <= 0 {
		localTTL = DefaultLocalTTL
	}
	return &TwoPhaseCache{local: local, remote: remote, localTTL: localTTL}
}

// Get checks L1, then L2, copying an L2 hit into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := c.local.Get(ctx, key); val != nil {
		return val, nil
	}

	val, err := c.remote.Get(ctx, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, key, val, c.localTTL)
	return val, nil
}

// Set writes through to both levels. L1 keeps the value no longer than
// the local TTL or the caller's ttl, whichever is shorter.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.local.Set(ctx, key, value, min(c.localTTL, positiveOr(ttl, c.localTTL)))
}

// IncrementCounter increments the shared counter in L2.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, span time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, key, span)
}

// Counter reads the shared counter from L2.
func (c *TwoPhaseCache) Counter(ctx context.Context, key string) (int64, error) {
	return c.remote.Counter(ctx, key)
}

// Counters reads shared counters from L2.
func (c *TwoPhaseCache) Counters(ctx context.Context, keys ...string) ([]int64, error) {
	return c.remote.Counters(ctx, keys...)
}

// Ping reports L2 health; L1 cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close releases both levels.
func (c *TwoPhaseCache) Close() error {
	return errors.Join(c.local.Close(), c.remote.Close())
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
