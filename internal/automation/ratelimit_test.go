package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
)

func newTestLimiter(clock *time.Time) *RateLimiter {
	return NewRateLimiter(NewMemoryRateLimitStore(), func() time.Time { return *clock }, zap.NewNop())
}

func TestRateLimitFourthCalibrationDenied(t *testing.T) {
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(&now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := limiter.Check(ctx, "arn:user/p", core.OpCalibration)
		require.True(t, res.Allowed, "call %d", i+1)
		now = now.Add(time.Minute)
	}

	res := limiter.Check(ctx, "arn:user/p", core.OpCalibration)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.CurrentCount)
	assert.Equal(t, 3, res.Limit)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Hour)
}

func TestRateLimitWindowSlides(t *testing.T) {
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(&now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Check(ctx, "arn:user/p", core.OpCalibration).Allowed)
	}
	require.False(t, limiter.Check(ctx, "arn:user/p", core.OpCalibration).Allowed)

	// Once the first entries age out, the budget frees up again.
	now = now.Add(61 * time.Minute)
	assert.True(t, limiter.Check(ctx, "arn:user/p", core.OpCalibration).Allowed)
}

func TestRateLimitIsolation(t *testing.T) {
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(&now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Check(ctx, "arn:user/p", core.OpCalibration).Allowed)
	}
	require.False(t, limiter.Check(ctx, "arn:user/p", core.OpCalibration).Allowed)

	assert.True(t, limiter.Check(ctx, "arn:user/q", core.OpCalibration).Allowed,
		"different principal has its own budget")
	assert.True(t, limiter.Check(ctx, "arn:user/p", core.OpSnapshot).Allowed,
		"different operation has its own budget")
}

func TestRateLimitPerOperationBudgets(t *testing.T) {
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(&now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Check(ctx, "arn:user/p", core.OpSnapshot).Allowed, "snapshot call %d", i+1)
	}
	assert.False(t, limiter.Check(ctx, "arn:user/p", core.OpSnapshot).Allowed)

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Check(ctx, "arn:user/p", core.OpPatternExtraction).Allowed)
	}
	assert.False(t, limiter.Check(ctx, "arn:user/p", core.OpPatternExtraction).Allowed)
}
