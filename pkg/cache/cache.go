// Package cache implements the layered LRU used by both cache planes
// (spec.md §4.8): the control-plane cache's bounded hot L1 (and optional
// shared L2), and the data-plane pipeline's small effective-configuration
// L1. Both are instances of the same generic wrapper around
// hashicorp/golang-lru/v2, parameterized by value type and, for L2, a TTL.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a bounded, concurrency-safe cache of resolved records keyed by
// string (spec.md §4.8 keys: "upstream:<tenant>:<alias>",
// "route:<upstream>:<method>:<path>", "plugin:<id>").
type LRU[V any] struct {
	inner *lru.Cache[string, V]
}

// New constructs an LRU bounded to size entries.
func New[V any](size int) *LRU[V] {
	c, err := lru.New[string, V](size)
	if err != nil {
		// size <= 0; fall back to a minimal cache rather than propagate a
		// constructor error through every caller.
		c, _ = lru.New[string, V](1)
	}
	return &LRU[V]{inner: c}
}

func (c *LRU[V]) Get(key string) (V, bool) { return c.inner.Get(key) }
func (c *LRU[V]) Add(key string, v V)      { c.inner.Add(key, v) }
func (c *LRU[V]) Remove(key string)        { c.inner.Remove(key) }
func (c *LRU[V]) Len() int                 { return c.inner.Len() }
func (c *LRU[V]) Purge()                   { c.inner.Purge() }

// entry wraps a cached value with its TTL-based expiry, for TTLLRU's use.
type entry[V any] struct {
	value   V
	expires time.Time
}

// TTLLRU is an LRU with a per-read freshness check, used for the
// optional shared CPC L2 cache (spec.md §4.8: "same keys with TTL ≈5
// minutes"). It is process-local here; a real shared cache wraps the
// same interface over a network store (e.g. Redis), which spec.md §2
// explicitly treats as optional and out of scope for this core.
type TTLLRU[V any] struct {
	mu    sync.Mutex
	inner *lru.Cache[string, entry[V]]
	ttl   time.Duration
	now   func() time.Time
}

// NewTTL constructs a TTLLRU bounded to size entries, each valid for ttl
// after insertion.
func NewTTL[V any](size int, ttl time.Duration) *TTLLRU[V] {
	c, err := lru.New[string, entry[V]](size)
	if err != nil {
		c, _ = lru.New[string, entry[V]](1)
	}
	return &TTLLRU[V]{inner: c, ttl: ttl, now: time.Now}
}

func (c *TTLLRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.inner.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expires) {
		c.inner.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTLLRU[V]) Add(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, entry[V]{value: v, expires: c.now().Add(c.ttl)})
}

func (c *TTLLRU[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
}

func (c *TTLLRU[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}
