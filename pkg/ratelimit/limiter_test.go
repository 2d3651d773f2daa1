package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crawlytics/governor/pkg/logging"
)

func fastLimiter(t *testing.T, mutate func(*Config)) *Limiter {
	t.Helper()
	cfg := Config{
		InitialDelay:  time.Millisecond,
		MinDelay:      time.Millisecond,
		MaxDelay:      time.Second,
		MaxConcurrent: 5,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := NewLimiter(cfg, logging.NewNoOpLogger())
	require.NoError(t, err)
	return l
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.InitialDelay = cfg.MaxDelay + time.Second
	assert.Error(t, cfg.Validate())
}

func TestAcquireBlocksAtCap(t *testing.T) {
	l := fastLimiter(t, func(c *Config) { c.MaxConcurrent = 2 })
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	third := make(chan error, 1)
	go func() {
		third <- l.Acquire(ctx)
	}()

	select {
	case <-third:
		t.Fatal("third acquire returned before a release")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release(true, 10*time.Millisecond)

	select {
	case err := <-third:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("third acquire did not return after release")
	}
}

func TestAcquireCancelledWhileWaitingForSlot(t *testing.T) {
	l := fastLimiter(t, func(c *Config) { c.MaxConcurrent = 1 })
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 1, l.CurrentLimits().InFlight)
}

func TestAcquireCancelledDuringPacingDelayFreesSlot(t *testing.T) {
	l := fastLimiter(t, func(c *Config) {
		c.MaxConcurrent = 1
		c.InitialDelay = time.Second
		c.MaxDelay = time.Second
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The slot must be back, so a fresh acquire succeeds.
	l2ctx, l2cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer l2cancel()
	require.NoError(t, l.Acquire(l2ctx))
	assert.Equal(t, 1, l.CurrentLimits().InFlight)
}

func TestReleaseWithoutAcquireIsDroppedAndLogged(t *testing.T) {
	mockLogger := new(logging.MockLogger)
	mockLogger.On("Warn", "Release without matching acquire, dropping", mock.Anything).Return()

	l, err := NewLimiter(Config{
		InitialDelay:  time.Millisecond,
		MinDelay:      time.Millisecond,
		MaxDelay:      time.Second,
		MaxConcurrent: 5,
	}, mockLogger)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		l.Release(true, 10*time.Millisecond)
	})
	assert.Equal(t, 0, l.CurrentLimits().WindowSize)
	mockLogger.AssertExpectations(t)
}

func feed(l *Limiter, n int, success bool, rt time.Duration) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_ = l.Acquire(ctx)
		l.Release(success, rt)
	}
}

func TestSelfTuningBacksOffOnLowSuccessRate(t *testing.T) {
	l := fastLimiter(t, func(c *Config) { c.InitialDelay = 100 * time.Millisecond })
	base := time.Now()
	l.now = func() time.Time { return base }

	// 5 successes, 5 failures: successRate = 0.5 < 0.70.
	feed(l, 5, true, 10*time.Millisecond)
	feed(l, 4, false, 10*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, l.CurrentLimits().Delay,
		"no adjustment before the cooldown elapses")

	base = base.Add(31 * time.Second)
	feed(l, 1, false, 10*time.Millisecond)
	assert.Equal(t, 150*time.Millisecond, l.CurrentLimits().Delay)
}

func TestSelfTuningSlowsDownOnSlowResponses(t *testing.T) {
	l := fastLimiter(t, func(c *Config) { c.InitialDelay = 100 * time.Millisecond })
	base := time.Now()
	l.now = func() time.Time { return base }

	feed(l, 9, true, 6*time.Second)
	base = base.Add(31 * time.Second)
	feed(l, 1, true, 6*time.Second)

	assert.Equal(t, 120*time.Millisecond, l.CurrentLimits().Delay)
}

func TestSelfTuningSpeedsUpWhenHealthy(t *testing.T) {
	l := fastLimiter(t, func(c *Config) { c.InitialDelay = 100 * time.Millisecond })
	base := time.Now()
	l.now = func() time.Time { return base }

	feed(l, 19, true, time.Second)
	base = base.Add(31 * time.Second)
	feed(l, 1, true, time.Second)

	assert.Equal(t, 90*time.Millisecond, l.CurrentLimits().Delay)
}

func TestSelfTuningRespectsBounds(t *testing.T) {
	l := fastLimiter(t, func(c *Config) {
		c.InitialDelay = 900 * time.Millisecond
		c.MaxDelay = time.Second
	})
	base := time.Now()
	l.now = func() time.Time { return base }

	feed(l, 9, false, 10*time.Millisecond)
	base = base.Add(31 * time.Second)
	feed(l, 1, false, 10*time.Millisecond)

	assert.Equal(t, time.Second, l.CurrentLimits().Delay, "clamped to MaxDelay")
}

func TestSelfTuningNeedsEnoughSamples(t *testing.T) {
	l := fastLimiter(t, func(c *Config) { c.InitialDelay = 100 * time.Millisecond })
	base := time.Now()
	l.now = func() time.Time { return base }

	feed(l, 5, false, 10*time.Millisecond)
	base = base.Add(31 * time.Second)
	feed(l, 1, false, 10*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, l.CurrentLimits().Delay,
		"fewer than 10 samples never adjusts")
}

func TestWindowEvictsFIFO(t *testing.T) {
	l := fastLimiter(t, func(c *Config) { c.MaxConcurrent = 1 })

	feed(l, windowCapacity+10, true, 10*time.Millisecond)
	assert.Equal(t, windowCapacity, l.CurrentLimits().WindowSize)
}

func TestScaleDelay(t *testing.T) {
	l := fastLimiter(t, func(c *Config) {
		c.InitialDelay = 10 * time.Second
		c.MaxDelay = 60 * time.Second
	})

	old, newDelay := l.ScaleDelay(2.0, 30*time.Second)
	assert.Equal(t, 10*time.Second, old)
	assert.Equal(t, 20*time.Second, newDelay)

	_, newDelay = l.ScaleDelay(2.0, 30*time.Second)
	assert.Equal(t, 30*time.Second, newDelay, "clamped to the action ceiling")

	_, newDelay = l.ScaleDelay(10.0, 0)
	assert.Equal(t, 60*time.Second, newDelay, "zero ceiling falls back to MaxDelay")
}

func TestCurrentLimitsSnapshot(t *testing.T) {
	l := fastLimiter(t, nil)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	l.Release(true, 200*time.Millisecond)
	require.NoError(t, l.Acquire(ctx))

	limits := l.CurrentLimits()
	assert.Equal(t, 1, limits.InFlight)
	assert.Equal(t, 5, limits.MaxConcurrent)
	assert.Equal(t, 1, limits.WindowSize)
	assert.Equal(t, 1.0, limits.SuccessRate)
	assert.Equal(t, 200.0, limits.AvgResponseTimeMs)
}
