package limiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outbound-gateway/oagw/internal/oagw/limiter"
	"github.com/outbound-gateway/oagw/internal/oagw/model"
	"github.com/outbound-gateway/oagw/pkg/oagwerrors"
)

func TestConcurrencyLimiter_AcquireWithinLimit(t *testing.T) {
	c := limiter.NewConcurrencyLimiter()
	spec := model.ConcurrencySpec{MaxConcurrent: 2, Strategy: model.StrategyReject}

	p1, err := c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.NoError(t, err)
	p2, err := c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.NoError(t, err)
	defer p1.Release()
	defer p2.Release()
}

func TestConcurrencyLimiter_RejectStrategy(t *testing.T) {
	c := limiter.NewConcurrencyLimiter()
	spec := model.ConcurrencySpec{MaxConcurrent: 1, Strategy: model.StrategyReject}

	p, err := c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.NoError(t, err)
	defer p.Release()

	_, err = c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.Error(t, err)
	_, ok := oagwerrors.As(err, oagwerrors.KindConcurrencyLimitExceeded)
	assert.True(t, ok)
}

func TestConcurrencyLimiter_ReleaseFreesSlot(t *testing.T) {
	c := limiter.NewConcurrencyLimiter()
	spec := model.ConcurrencySpec{MaxConcurrent: 1, Strategy: model.StrategyReject}

	p, err := c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.NoError(t, err)
	p.Release()

	_, err = c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.NoError(t, err, "released slot should be immediately re-acquirable")
}

func TestConcurrencyLimiter_DegradeStrategyReturnsExtensions(t *testing.T) {
	c := limiter.NewConcurrencyLimiter()
	spec := model.ConcurrencySpec{
		MaxConcurrent: 1, Strategy: model.StrategyDegrade,
		DegradeUpstreamAlias: "fallback", DegradeStatus: 503,
	}

	p, err := c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.NoError(t, err)
	defer p.Release()

	_, err = c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.Error(t, err)
	gwErr, ok := oagwerrors.As(err, oagwerrors.KindConcurrencyLimitExceeded)
	require.True(t, ok)
	assert.Equal(t, "fallback", gwErr.Extensions["degrade_upstream_alias"])
}

func TestConcurrencyLimiter_QueueTimesOutWhenNeverFreed(t *testing.T) {
	c := limiter.NewConcurrencyLimiter()
	spec := model.ConcurrencySpec{
		MaxConcurrent: 1, Strategy: model.StrategyQueue,
		QueueDepth: 4, QueueDeadline: 30 * time.Millisecond,
	}

	held, err := c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "should time out near the configured deadline")
	_, ok := oagwerrors.As(err, oagwerrors.KindQueueTimeout)
	assert.True(t, ok)
}

func TestConcurrencyLimiter_QueueGrantsPermitWhenFreed(t *testing.T) {
	c := limiter.NewConcurrencyLimiter()
	spec := model.ConcurrencySpec{
		MaxConcurrent: 1, Strategy: model.StrategyQueue,
		QueueDepth: 4, QueueDeadline: time.Second,
	}

	held, err := c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		held.Release()
	}()

	p, err := c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.NoError(t, err)
	p.Release()
}

func TestConcurrencyLimiter_QueueFullRejectsImmediately(t *testing.T) {
	c := limiter.NewConcurrencyLimiter()
	spec := model.ConcurrencySpec{
		MaxConcurrent: 1, Strategy: model.StrategyQueue,
		QueueDepth: 1, QueueDeadline: 200 * time.Millisecond,
	}

	held, err := c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.NoError(t, err)
	defer held.Release()

	// Fill the one queue slot with a waiter that will block until the
	// deadline, then verify a second concurrent waiter is rejected as
	// queue-full rather than queue-timeout.
	go func() {
		_, _ = c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	}()
	time.Sleep(20 * time.Millisecond)

	_, err = c.Acquire(context.Background(), limiter.ScopeTenant, "acme", spec)
	require.Error(t, err)
	_, ok := oagwerrors.As(err, oagwerrors.KindQueueFull)
	assert.True(t, ok)
}
