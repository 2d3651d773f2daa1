package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/crawlytics/governor/pkg/logging"
)

// Self-tuning thresholds. The limiter reacts to two different failure
// modes: the concurrency cap guards our own resources, the pacing delay
// guards the remote from us.
const (
	lowSuccessRate     = 0.70
	highSuccessRate    = 0.95
	slowResponseTime   = 5 * time.Second
	fastResponseTime   = 2 * time.Second
	backoffFactor      = 1.5
	slowdownFactor     = 1.2
	speedupFactor      = 0.9
	adjustmentCooldown = 30 * time.Second
	minSamplesToAdjust = 10
	windowCapacity     = 50
)

// Config holds the configuration for an adaptive limiter.
type Config struct {
	InitialDelay  time.Duration // Pacing delay applied on every Acquire
	MinDelay      time.Duration // Lower bound the delay can self-tune to
	MaxDelay      time.Duration // Upper bound the delay can self-tune to
	MaxConcurrent int           // Hard cap on acquired-but-not-released slots
}

// DefaultConfig returns the limiter configuration used by the composition
// root when nothing else is specified.
func DefaultConfig() Config {
	return Config{
		InitialDelay:  time.Second,
		MinDelay:      100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		MaxConcurrent: 5,
	}
}

// Validate checks the configuration for reasonable values
func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return errors.New("MaxConcurrent must be >= 1")
	}
	if c.MinDelay <= 0 {
		return errors.New("MinDelay must be positive")
	}
	if c.MaxDelay < c.MinDelay {
		return errors.New("MaxDelay must be >= MinDelay")
	}
	if c.InitialDelay < c.MinDelay || c.InitialDelay > c.MaxDelay {
		return errors.New("InitialDelay must be within [MinDelay, MaxDelay]")
	}
	return nil
}

// Limits is a point-in-time snapshot of the limiter state.
type Limits struct {
	Delay             time.Duration `json:"delay"`
	MaxConcurrent     int           `json:"max_concurrent"`
	InFlight          int           `json:"in_flight"`
	WindowSize        int           `json:"window_size"`
	SuccessRate       float64       `json:"success_rate"`
	AvgResponseTimeMs float64       `json:"avg_response_time_ms"`
}

type sample struct {
	responseTime time.Duration
	success      bool
}

// Limiter bounds concurrent in-flight operations with a weighted semaphore
// and paces every acquire with a delay that self-tunes from a rolling
// window of recent outcomes.
type Limiter struct {
	cfg    Config
	sem    *semaphore.Weighted
	logger logging.Logger

	mu             sync.Mutex
	delay          time.Duration
	window         []sample
	inFlight       int
	lastAdjustment time.Time
	now            func() time.Time
}

// NewLimiter builds a limiter from cfg.
func NewLimiter(cfg Config, logger logging.Logger) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		cfg:            cfg,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:         logger,
		delay:          cfg.InitialDelay,
		window:         make([]sample, 0, windowCapacity),
		lastAdjustment: time.Now(),
		now:            time.Now,
	}, nil
}

// Acquire blocks until a concurrency slot is free, then suspends the caller
// for the current pacing delay before returning. The delay applies per
// acquire, after the slot grant; a slow release never throttles a waiting
// acquirer beyond slot availability. Cancellation releases the slot.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	l.mu.Lock()
	l.inFlight++
	delay := l.delay
	l.mu.Unlock()

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.inFlight--
		l.mu.Unlock()
		l.sem.Release(1)
		return ctx.Err()
	}
}

// Release frees a concurrency slot and feeds the outcome into the rolling
// window. A release without a matching acquire is tolerated: it is logged
// and dropped, never panics. Every call attempts a self-tuning check.
func (l *Limiter) Release(success bool, responseTime time.Duration) {
	l.mu.Lock()
	if l.inFlight == 0 {
		l.mu.Unlock()
		l.logger.Warn("Release without matching acquire, dropping")
		return
	}
	l.inFlight--

	l.window = append(l.window, sample{responseTime: responseTime, success: success})
	if len(l.window) > windowCapacity {
		l.window = l.window[1:]
	}
	l.adjustLocked()
	l.mu.Unlock()

	l.sem.Release(1)
}

// adjustLocked runs the self-tuning check. No-op until the cooldown has
// elapsed and the window holds enough samples. First matching rule wins;
// the adjustment timestamp is stamped only when a rule fires.
func (l *Limiter) adjustLocked() {
	if l.now().Sub(l.lastAdjustment) < adjustmentCooldown {
		return
	}
	if len(l.window) < minSamplesToAdjust {
		return
	}

	successRate, avgResponseTime := l.windowStatsLocked()
	old := l.delay

	switch {
	case successRate < lowSuccessRate:
		l.delay = minDuration(time.Duration(float64(l.delay)*backoffFactor), l.cfg.MaxDelay)
	case avgResponseTime > slowResponseTime:
		l.delay = minDuration(time.Duration(float64(l.delay)*slowdownFactor), l.cfg.MaxDelay)
	case successRate > highSuccessRate && avgResponseTime < fastResponseTime:
		l.delay = maxDuration(time.Duration(float64(l.delay)*speedupFactor), l.cfg.MinDelay)
	default:
		return
	}

	l.lastAdjustment = l.now()
	l.logger.Info("Adjusted pacing delay",
		"old_delay", old,
		"new_delay", l.delay,
		"success_rate", successRate,
		"avg_response_time", avgResponseTime,
	)
}

// ScaleDelay multiplies the current delay by factor, clamped to
// [MinDelay, min(ceiling, MaxDelay)]. A zero ceiling means MaxDelay. Used by the
// health monitor's corrective actions; returns the old and new delay.
func (l *Limiter) ScaleDelay(factor float64, ceiling time.Duration) (time.Duration, time.Duration) {
	upper := l.cfg.MaxDelay
	if ceiling > 0 && ceiling < upper {
		upper = ceiling
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.delay
	scaled := time.Duration(float64(l.delay) * factor)
	scaled = minDuration(scaled, upper)
	scaled = maxDuration(scaled, l.cfg.MinDelay)
	l.delay = scaled

	l.logger.Info("Scaled pacing delay", "factor", factor, "old_delay", old, "new_delay", scaled)
	return old, scaled
}

// CurrentLimits returns a snapshot of the limiter state.
func (l *Limiter) CurrentLimits() Limits {
	l.mu.Lock()
	defer l.mu.Unlock()

	successRate, avgResponseTime := l.windowStatsLocked()
	return Limits{
		Delay:             l.delay,
		MaxConcurrent:     l.cfg.MaxConcurrent,
		InFlight:          l.inFlight,
		WindowSize:        len(l.window),
		SuccessRate:       successRate,
		AvgResponseTimeMs: float64(avgResponseTime) / float64(time.Millisecond),
	}
}

func (l *Limiter) windowStatsLocked() (successRate float64, avgResponseTime time.Duration) {
	if len(l.window) == 0 {
		return 1.0, 0
	}
	successes := 0
	var total time.Duration
	for _, s := range l.window {
		if s.success {
			successes++
		}
		total += s.responseTime
	}
	return float64(successes) / float64(len(l.window)), total / time.Duration(len(l.window))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
