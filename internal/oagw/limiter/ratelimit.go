// Package limiter implements the rate limiter, concurrency limiter, and
// bounded queue (spec.md §4.6, §4.7): token-bucket and sliding-window
// algorithms keyed by (scope, identifier), counted semaphores at
// multiple scopes, and a bounded overflow queue whose waiters poll for a
// freed permit; there is no worker pool.
package limiter

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

// Scope is the dimension a rate or concurrency limit is keyed on
// (spec.md §4.6, §4.7).
type Scope string

const (
	ScopeGlobal         Scope = "global"
	ScopeTenant         Scope = "tenant"
	ScopeUser           Scope = "user"
	ScopeIP             Scope = "ip"
	ScopeRoute          Scope = "route"
	ScopeUpstream       Scope = "upstream"
	ScopeTenantUpstream Scope = "tenant_upstream"
)

// Decision is the outcome of a rate-limit check, carrying everything
// spec.md §4.6 requires on the response.
type Decision struct {
	Allowed        bool
	Limit          float64
	Remaining      float64
	ResetAt        time.Time
	RetryAfter     time.Duration
}

// RateLimiter checks token-bucket or sliding-window limits per
// (scope, identifier), holding one bucket/window per key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	windows map[string]*slidingWindow
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*rate.Limiter),
		windows: make(map[string]*slidingWindow),
		now:     time.Now,
	}
}

func bucketKey(scope Scope, identifier string) string { return string(scope) + "/" + identifier }

// Check applies spec.md's token-bucket refill-and-decrement algorithm
// (or the equivalent sliding-window count) for one (scope, identifier)
// against spec, consuming spec.EffectiveCost() tokens on success.
func (l *RateLimiter) Check(scope Scope, identifier string, spec model.RateLimitSpec) Decision {
	if spec.Algorithm == model.AlgorithmSlidingWindow {
		return l.checkSlidingWindow(scope, identifier, spec)
	}
	return l.checkTokenBucket(scope, identifier, spec)
}

func (l *RateLimiter) checkTokenBucket(scope Scope, identifier string, spec model.RateLimitSpec) Decision {
	key := bucketKey(scope, identifier)
	l.mu.Lock()
	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(spec.RatePerSecond()), int(math.Ceil(spec.EffectiveBurst())))
		l.buckets[key] = lim
	}
	l.mu.Unlock()

	cost := spec.EffectiveCost()
	now := l.now()
	reservation := lim.ReserveN(now, int(math.Ceil(cost)))
	if !reservation.OK() {
		return Decision{Allowed: false, Limit: spec.Rate, ResetAt: now.Add(time.Second)}
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		wait := delay
		return Decision{
			Allowed:    false,
			Limit:      spec.Rate,
			Remaining:  0,
			ResetAt:    now.Add(wait),
			RetryAfter: wait,
		}
	}
	// Remaining is the bucket's burst capacity minus this request's cost,
	// not a read of the bucket's current token count.
	return Decision{
		Allowed:   true,
		Limit:     spec.Rate,
		Remaining: spec.EffectiveBurst() - cost,
		ResetAt:   now.Add(time.Duration(cost / spec.RatePerSecond() * float64(time.Second))),
	}
}

// slidingWindow counts request timestamps within the trailing window,
// the alternative algorithm spec.md §4.6 specifies as equivalent to the
// token bucket. golang.org/x/time/rate only implements token buckets, so
// this half is hand-rolled: no example repo in the retrieved pack ships
// a sliding-window counter, and the algorithm (a deque of timestamps
// trimmed on each check) is simple enough that reaching for an
// unrelated dependency just to avoid ~20 lines of stdlib would be worse
// than writing it directly.
type slidingWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
}

func (l *RateLimiter) checkSlidingWindow(scope Scope, identifier string, spec model.RateLimitSpec) Decision {
	key := bucketKey(scope, identifier)
	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok {
		w = &slidingWindow{}
		l.windows[key] = w
	}
	l.mu.Unlock()

	window := spec.Window.Duration()
	cost := int(math.Ceil(spec.EffectiveCost()))
	limit := int(math.Ceil(spec.EffectiveBurst()))

	w.mu.Lock()
	defer w.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-window)
	trimmed := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			trimmed = append(trimmed, ts)
		}
	}
	w.timestamps = trimmed

	if len(w.timestamps)+cost > limit {
		oldest := now
		if len(w.timestamps) > 0 {
			oldest = w.timestamps[0]
		}
		resetAt := oldest.Add(window)
		return Decision{
			Allowed:    false,
			Limit:      float64(limit),
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}
	for i := 0; i < cost; i++ {
		w.timestamps = append(w.timestamps, now)
	}
	return Decision{
		Allowed:   true,
		Limit:     float64(limit),
		Remaining: float64(limit - len(w.timestamps)),
		ResetAt:   now.Add(window),
	}
}

// ToError renders a denied Decision as the RFC 9457 error spec.md §4.6
// requires, with Retry-After rounded up to whole seconds.
func (d Decision) ToError() *oagwerrors.Error {
	retrySeconds := int(math.Ceil(d.RetryAfter.Seconds()))
	if retrySeconds < 1 {
		retrySeconds = 1
	}
	return oagwerrors.New(oagwerrors.KindRateLimitExceeded, fmt.Sprintf("rate limit exceeded, retry after %ds", retrySeconds)).
		WithExtension("limit", d.Limit).
		WithExtension("remaining", 0).
		WithExtension("reset", d.ResetAt.Unix()).
		WithExtension("retry_after_seconds", retrySeconds)
}
