package outbound

import (
	"strconv"
	"sync"
	"time"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
)

// negotiationCache remembers https endpoints, for ttl, after any failed
// round trip through the h2 transport (Do does not tell an ALPN failure
// apart from other dispatch errors), so the next call to the same
// endpoint goes straight to the HTTP/1.1 transport (spec.md §4.5).
type negotiationCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]time.Time // endpoint key -> expiry
}

func newNegotiationCache(ttl time.Duration) *negotiationCache {
	return &negotiationCache{ttl: ttl, entries: make(map[string]time.Time)}
}

func endpointKey(ep model.Endpoint) string {
	return ep.Scheme + "://" + ep.Host + ":" + strconv.Itoa(ep.Port)
}

func (c *negotiationCache) markHTTP1Only(ep model.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[endpointKey(ep)] = time.Now().Add(c.ttl)
}

func (c *negotiationCache) isHTTP1Only(ep model.Endpoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := endpointKey(ep)
	expiry, ok := c.entries[key]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(c.entries, key)
		return false
	}
	return true
}
