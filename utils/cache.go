package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"showtime-analytics/metrics"
)

// Cache stores byte values with a per-entry time-to-live.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. It is safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache. A nil clock uses time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]cacheEntry), now: now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
}

// Purge drops expired entries and returns how many were removed.
func (c *MemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Memoizer wraps a load function with a TTL cache. Concurrent misses for the
// same key share one load. Failed loads are not cached.
//
// The shared load is detached from the caller that started it, so one caller
// going away does not fail the others waiting on the same key. A load timeout
// bounds it instead.
type Memoizer struct {
	cache       Cache
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group
}

// DefaultLoadTimeout bounds a shared load when none is set.
const DefaultLoadTimeout = 2 * time.Minute

// NewMemoizer creates a Memoizer storing results in cache for ttl.
func NewMemoizer(cache Cache, ttl time.Duration) *Memoizer {
	return &Memoizer{cache: cache, ttl: ttl, loadTimeout: DefaultLoadTimeout}
}

// WithLoadTimeout sets how long a shared load may run. Non-positive values
// keep the default.
func (m *Memoizer) WithLoadTimeout(d time.Duration) *Memoizer {
	if d > 0 {
		m.loadTimeout = d
	}
	return m
}

// Do returns the cached value for key, or calls load and caches its result.
// A caller whose ctx ends while waiting gets ctx.Err(); the load carries on
// for the remaining callers.
func (m *Memoizer) Do(ctx context.Context, key string, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := m.cache.Get(ctx, key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return v, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	ch := m.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.loadTimeout)
		defer cancel()

		// another caller may have filled the entry while we waited
		if cached, ok := m.cache.Get(loadCtx, key); ok {
			return cached, nil
		}
		data, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		m.cache.Set(loadCtx, key, data, m.ttl)
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
