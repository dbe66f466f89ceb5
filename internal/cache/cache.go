// Package cache provides a small TTL cache whose clock is injected by the caller.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

type entry[V any] struct {
	value   V
	expires time.Time
	gen     uint64
}

// TTL caches values per key for a fixed duration.
// Concurrent misses for the same key share a single load.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	ttl     time.Duration
	entries map[K]entry[V]
	gen     uint64
	group   singleflight.Group
}

// New returns a cache holding entries for ttl. A nil clk uses the real clock;
// a non-positive ttl disables caching.
func New[K comparable, V any](ttl time.Duration, clk clock.PassiveClock) *TTL[K, V] {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TTL[K, V]{clock: clk, ttl: ttl, entries: make(map[K]entry[V])}
}

// Get returns the cached value for key if it has not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key until the TTL elapses.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, c.gen)
}

func (c *TTL[K, V]) setLocked(key K, value V, gen uint64) {
	if c.ttl <= 0 || gen != c.gen {
		return
	}
	c.entries[key] = entry[V]{value: value, expires: c.clock.Now().Add(c.ttl), gen: gen}
}

// Invalidate drops key.
func (c *TTL[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll drops every entry. Loads already in flight are not stored.
func (c *TTL[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.entries)
}

// Len counts live entries.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	n := 0
	for _, e := range c.entries {
		if now.Before(e.expires) {
			n++
		}
	}
	return n
}

// GetOrLoad returns the cached value for key or calls load and caches its result.
// Errors are returned to every waiter and never cached.
func (c *TTL[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	// A caller arriving after InvalidateAll never joins an older load.
	res, err, _ := c.group.Do(fmt.Sprint(gen, "/", key), func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		c.setLocked(key, v, gen)
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
