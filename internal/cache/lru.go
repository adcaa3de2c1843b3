// Package cache stores the dashboard counters and the phishing verdict memo,
// in process or in Redis.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// LRUCache is the in-process cache: a bounded LRU of memoized values plus
// windowed counters. It backs the community tier and is L1 of TwoPhaseCache.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	clock    clockwork.Clock

	values   map[string]*list.Element
	recency  *list.List // front is most recently used
	counters map[string]*window
}

type memo struct {
	key     string
	value   []byte
	expires time.Time // zero never expires
}

type window struct {
	count int64
	ends  time.Time
}

// LRUOption configures an LRUCache.
type LRUOption func(*LRUCache)

// WithClock sets the clock used for TTLs and counter windows.
func WithClock(clock clockwork.Clock) LRUOption {
	return func(c *LRUCache) { c.clock = clock }
}

// NewLRUCache creates a cache holding at most capacity values. Counters do
// not count against the capacity.
func NewLRUCache(capacity int, opts ...LRUOption) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	c := &LRUCache{
		capacity: capacity,
		clock:    clockwork.NewRealClock(),
		values:   make(map[string]*list.Element),
		recency:  list.New(),
		counters: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key, or nil when it is missing or expired.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.values[key]
	if !ok {
		return nil, nil
	}
	m := elem.Value.(*memo)
	if c.past(m.expires) {
		c.drop(elem)
		return nil, nil
	}
	c.recency.MoveToFront(elem)
	return m.value, nil
}

// Set stores value under key. A non-positive ttl keeps it until evicted.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.after(ttl)
	if elem, ok := c.values[key]; ok {
		m := elem.Value.(*memo)
		m.value, m.expires = value, expires
		c.recency.MoveToFront(elem)
		return nil
	}

	c.values[key] = c.recency.PushFront(&memo{key: key, value: value, expires: expires})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
	}
	return nil
}

// IncrementCounter adds one to key's counter, opening a new window when
// the previous one has ended.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, span time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.counters[key]
	if ok && !c.past(w.ends) {
		w.count++
		return w.count, nil
	}

	c.pruneCounters()
	c.counters[key] = &window{count: 1, ends: c.after(span)}
	return 1, nil
}

// Counter reads key's counter in its current window.
func (c *LRUCache) Counter(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(key), nil
}

// Counters reads several counters at once, in key order.
func (c *LRUCache) Counters(ctx context.Context, keys ...string) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int64, len(keys))
	for i, key := range keys {
		out[i] = c.read(key)
	}
	return out, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.values)
	clear(c.counters)
	c.recency.Init()
	return nil
}

// Len returns the number of memoized values.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

func (c *LRUCache) read(key string) int64 {
	w, ok := c.counters[key]
	if !ok || c.past(w.ends) {
		return 0
	}
	return w.count
}

// pruneCounters forgets counters whose window has ended.
func (c *LRUCache) pruneCounters() {
	for key, w := range c.counters {
		if c.past(w.ends) {
			delete(c.counters, key)
		}
	}
}

func (c *LRUCache) after(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.clock.Now().Add(ttl)
}

func (c *LRUCache) past(t time.Time) bool {
	return !t.IsZero() && c.clock.Now().After(t)
}

func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.values, elem.Value.(*memo).key)
}
