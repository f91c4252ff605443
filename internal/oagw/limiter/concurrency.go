package limiter

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

// Permit must be released on every exit path once acquired (spec.md
// §4.7: "each permit is acquired before body forwarding and released on
// any exit path").
type Permit struct {
	release func()
}

func (p Permit) Release() {
	if p.release != nil {
		p.release()
	}
}

// ConcurrencyLimiter enforces max_concurrent at a single scope via a
// counted semaphore, with an optional bounded queue for the "queue"
// saturation strategy (spec.md §4.7).
type ConcurrencyLimiter struct {
	mu    sync.Mutex
	sems  map[string]*semaphore.Weighted
	queue map[string]*boundedQueue
}

func NewConcurrencyLimiter() *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		sems:  make(map[string]*semaphore.Weighted),
		queue: make(map[string]*boundedQueue),
	}
}

func (c *ConcurrencyLimiter) semFor(key string, max int64) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sems[key]
	if !ok {
		s = semaphore.NewWeighted(max)
		c.sems[key] = s
	}
	return s
}

// Acquire implements spec.md §4.7's saturation strategies. On success
// the returned Permit must be released by the caller; on failure the
// error is the typed gateway error to surface.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context, scope Scope, identifier string, spec model.ConcurrencySpec) (Permit, error) {
	key := bucketKey(scope, identifier)
	sem := c.semFor(key, int64(spec.MaxConcurrent))

	if sem.TryAcquire(1) {
		return Permit{release: func() { sem.Release(1) }}, nil
	}

	switch spec.Strategy {
	case model.StrategyReject:
		return Permit{}, oagwerrors.New(oagwerrors.KindConcurrencyLimitExceeded, "concurrency limit exceeded")
	case model.StrategyQueue:
		return c.acquireQueued(ctx, key, sem, spec)
	case model.StrategyDegrade:
		return Permit{}, oagwerrors.New(oagwerrors.KindConcurrencyLimitExceeded, "concurrency limit exceeded; degrade strategy applies").
			WithExtension("degrade_upstream_alias", spec.DegradeUpstreamAlias).
			WithExtension("degrade_status", spec.DegradeStatus)
	default:
		return Permit{}, oagwerrors.New(oagwerrors.KindConcurrencyLimitExceeded, "concurrency limit exceeded")
	}
}

func (c *ConcurrencyLimiter) queueFor(key string, spec model.ConcurrencySpec) *boundedQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queue[key]
	if !ok {
		q = newBoundedQueue(spec.QueueDepth, spec.QueueMemory, spec.PriorityQueue)
		c.queue[key] = q
	}
	return q
}

// acquireQueued implements the "queue" strategy: bounded depth, bounded
// memory and a per-item deadline. Each waiter polls the semaphore every
// 5ms for a permit freed by a prior completion; the order in which
// waiters are admitted is not defined, and PriorityQueue has no effect.
func (c *ConcurrencyLimiter) acquireQueued(ctx context.Context, key string, sem *semaphore.Weighted, spec model.ConcurrencySpec) (Permit, error) {
	q := c.queueFor(key, spec)
	deadline := spec.QueueDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ticket, err := q.enqueue(1)
	if err != nil {
		return Permit{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	defer q.remove(ticket)

	for {
		select {
		case <-waitCtx.Done():
			return Permit{}, oagwerrors.New(oagwerrors.KindQueueTimeout, "queue wait exceeded its deadline")
		default:
		}
		if sem.TryAcquire(1) {
			return Permit{release: func() { sem.Release(1) }}, nil
		}
		select {
		case <-waitCtx.Done():
			return Permit{}, oagwerrors.New(oagwerrors.KindQueueTimeout, "queue wait exceeded its deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// boundedQueue tracks outstanding queue tickets against a depth and
// memory budget without running its own worker goroutines: the caller
// (acquireQueued) polls the shared semaphore directly, so this type's
// only job is admission control over how many callers may wait at once.
type boundedQueue struct {
	mu       sync.Mutex
	items    *list.List
	maxDepth int
	maxBytes int64
	usedBytes int64
	priority bool
}

const assumedItemBytes = 4 << 10 // conservative per-queued-request memory estimate

func newBoundedQueue(maxDepth int, maxBytes int64, priority bool) *boundedQueue {
	return &boundedQueue{items: list.New(), maxDepth: maxDepth, maxBytes: maxBytes, priority: priority}
}

func (q *boundedQueue) enqueue(weight int64) (*list.Element, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxDepth > 0 && q.items.Len() >= q.maxDepth {
		return nil, oagwerrors.New(oagwerrors.KindQueueFull, "queue is at its bounded depth")
	}
	if q.maxBytes > 0 && q.usedBytes+assumedItemBytes > q.maxBytes {
		return nil, oagwerrors.New(oagwerrors.KindQueueMemoryLimit, "queue is at its bounded memory limit")
	}
	q.usedBytes += assumedItemBytes
	return q.items.PushBack(weight), nil
}

func (q *boundedQueue) remove(e *list.Element) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Remove(e)
	q.usedBytes -= assumedItemBytes
}
