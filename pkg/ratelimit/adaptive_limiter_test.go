package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *AdaptiveConfig {
	return &AdaptiveConfig{
		InitialRPS:             100,
		MinRPS:                 10,
		MaxRPS:                 200,
		BackoffFactor:          0.5,
		RecoveryFactor:         2,
		SuccessStreakThreshold: 5,
	}
}

func TestAcquireConsumesTokens(t *testing.T) {
	limiter := NewAdaptiveLimiter(testConfig())
	ctx := context.Background()

	// The bucket starts with a full one-second burst.
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Acquire(ctx))
	}

	// The next acquire has to wait for a refill, roughly 1000/rps ms.
	start := time.Now()
	require.NoError(t, limiter.Acquire(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
	assert.Less(t, elapsed, 100*time.Millisecond)

	assert.Equal(t, int64(101), limiter.GetStats().RequestCount)
}

func TestAcquireCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.InitialRPS = 0.5
	cfg.MinRPS = 0.5
	limiter := NewAdaptiveLimiter(cfg)

	// Drain the single starting token.
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReportErrorBackoff(t *testing.T) {
	limiter := NewAdaptiveLimiter(testConfig())

	limiter.ReportError(503)
	assert.InDelta(t, 50, limiter.CurrentRPS(), 0.001)

	// Three more 503s clamp at MinRPS.
	limiter.ReportError(503)
	limiter.ReportError(503)
	limiter.ReportError(503)
	assert.InDelta(t, 10, limiter.CurrentRPS(), 0.001)

	stats := limiter.GetStats()
	assert.Equal(t, int64(4), stats.ErrorCount)
	assert.Equal(t, int64(4), stats.BackoffCount)
}

func TestNonBackoffErrorsKeepRate(t *testing.T) {
	limiter := NewAdaptiveLimiter(testConfig())

	limiter.ReportSuccess()
	limiter.ReportSuccess()
	limiter.ReportError(404)

	stats := limiter.GetStats()
	assert.InDelta(t, 100, stats.CurrentRPS, 0.001)
	assert.Equal(t, int64(0), stats.BackoffCount)
	assert.Equal(t, int64(0), stats.SuccessStreak, "any error resets the streak")
}

func TestSuccessStreakRecovery(t *testing.T) {
	limiter := NewAdaptiveLimiter(testConfig())

	for i := 0; i < 5; i++ {
		limiter.ReportSuccess()
	}
	assert.InDelta(t, 200, limiter.CurrentRPS(), 0.001, "five successes double the rate")
	assert.Equal(t, int64(0), limiter.GetStats().SuccessStreak)

	// Already at MaxRPS, another streak must not exceed the clamp.
	for i := 0; i < 5; i++ {
		limiter.ReportSuccess()
	}
	assert.InDelta(t, 200, limiter.CurrentRPS(), 0.001)
}

func TestBackoffThenRecover(t *testing.T) {
	limiter := NewAdaptiveLimiter(testConfig())

	limiter.ReportError(429)
	assert.InDelta(t, 50, limiter.CurrentRPS(), 0.001)

	for i := 0; i < 5; i++ {
		limiter.ReportSuccess()
	}
	assert.InDelta(t, 100, limiter.CurrentRPS(), 0.001)
}
