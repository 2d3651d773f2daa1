package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/crawlytics/governor/pkg/health"
	"github.com/crawlytics/governor/pkg/logging"
	"github.com/crawlytics/governor/pkg/memopt"
	"github.com/crawlytics/governor/pkg/metrics"
	"github.com/crawlytics/governor/pkg/ratelimit"
	"github.com/crawlytics/governor/pkg/retry"
)

// Config aggregates the configuration of every core component. Zero
// memory thresholds are derived from the health memory limit.
type Config struct {
	Policy  retry.PolicyConfig
	Limiter ratelimit.Config
	Metrics metrics.Config
	Health  health.Config
	Memory  memopt.Config
}

// DefaultConfig returns a complete default configuration.
func DefaultConfig() Config {
	return Config{
		Policy:  retry.DefaultPolicyConfig(),
		Limiter: ratelimit.DefaultConfig(),
		Metrics: metrics.DefaultConfig(),
		Health:  health.DefaultConfig(),
	}
}

// Operation performs one remote operation and reports how many bytes it
// pulled down.
type Operation func(ctx context.Context) (int64, error)

// Governor is the explicit composition root of the resilience core: one
// shared instance per process, built once at startup and passed to
// consumers. It owns the background loops of its components.
type Governor struct {
	logger logging.Logger

	policy    *retry.Policy
	executor  *retry.Executor
	limiter   *ratelimit.Limiter
	collector *metrics.Collector
	optimizer *memopt.Optimizer
	monitor   *health.Monitor
}

// New wires optimizer, collector, limiter, retry policy/executor and
// health monitor together. The monitor gets non-owning references so its
// corrective actions mutate the shared limiter and optimizer directly.
func New(cfg Config, logger logging.Logger) (*Governor, error) {
	if cfg.Memory == (memopt.Config{}) {
		cfg.Memory = memopt.ConfigForLimit(cfg.Health.Limits.MaxMemoryMB)
	}

	optimizer, err := memopt.NewOptimizer(cfg.Memory, logger)
	if err != nil {
		return nil, fmt.Errorf("building optimizer: %w", err)
	}
	collector, err := metrics.NewCollector(cfg.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("building collector: %w", err)
	}
	limiter, err := ratelimit.NewLimiter(cfg.Limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("building limiter: %w", err)
	}
	policy, err := retry.NewPolicy(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("building retry policy: %w", err)
	}
	executor := retry.NewExecutor(policy, logger)

	monitor, err := health.NewMonitor(cfg.Health, collector, limiter, optimizer, logger)
	if err != nil {
		return nil, fmt.Errorf("building monitor: %w", err)
	}

	collector.AddAlertCallback(func(alert metrics.Alert) {
		logger.Warn("Governor alert",
			"kind", alert.Kind,
			"message", alert.Message,
			"value", alert.Value,
			"threshold", alert.Threshold,
		)
	})

	return &Governor{
		logger:    logger,
		policy:    policy,
		executor:  executor,
		limiter:   limiter,
		collector: collector,
		optimizer: optimizer,
		monitor:   monitor,
	}, nil
}

// Start launches the background loops (metrics snapshots, health sweeps).
func (g *Governor) Start() {
	g.collector.Start()
	g.monitor.Start()
	g.logger.Info("Governor started")
}

// Stop stops the background loops, waiting for each to return.
func (g *Governor) Stop() {
	g.monitor.Stop()
	g.collector.Stop()
	g.logger.Info("Governor stopped")
}

// Do runs one governed remote operation: acquire a pacing slot, track the
// request, execute with retries, release with the outcome. Release and
// metrics recording are guaranteed on every exit path, and the recorded
// metric is visible before Do returns.
func (g *Governor) Do(ctx context.Context, url string, op Operation) (err error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return err
	}
	start := time.Now()
	tracker := g.collector.Track(url)

	defer func() {
		g.limiter.Release(err == nil, time.Since(start))
	}()
	defer tracker.Finish(&err)

	attempts := 0
	var bytes int64
	bytes, err = retry.Do(ctx, g.executor, func() (int64, error) {
		attempts++
		return op(ctx)
	}, g.policy, map[string]interface{}{"url": url})

	tracker.SetResponseSize(bytes)
	if attempts > 0 {
		tracker.SetRetryCount(attempts - 1)
	}
	return err
}

// Acquire exposes the limiter for callers pairing acquire/release manually.
func (g *Governor) Acquire(ctx context.Context) error {
	return g.limiter.Acquire(ctx)
}

// Release is the pair of Acquire.
func (g *Governor) Release(success bool, responseTime time.Duration) {
	g.limiter.Release(success, responseTime)
}

// Track exposes scoped request tracking for callers not going through Do.
func (g *Governor) Track(url string) *metrics.Tracker {
	return g.collector.Track(url)
}

// RunHealthChecks executes one health sweep and returns its report.
func (g *Governor) RunHealthChecks() health.Report {
	return g.monitor.RunChecks()
}

// HealthStatus returns the most recent health report.
func (g *Governor) HealthStatus() health.Report {
	return g.monitor.Status()
}

// CurrentMetrics returns the collector's live snapshot and aggregates.
func (g *Governor) CurrentMetrics() metrics.Current {
	return g.collector.CurrentMetrics()
}

// PerformanceReport returns the windowed analysis of the last N minutes.
func (g *Governor) PerformanceReport(lastMinutes int) (metrics.PerformanceReport, error) {
	return g.collector.PerformanceReport(lastMinutes)
}

// CurrentLimits returns the limiter's live snapshot.
func (g *Governor) CurrentLimits() ratelimit.Limits {
	return g.limiter.CurrentLimits()
}

// RetryMetrics returns the executor's counters.
func (g *Governor) RetryMetrics() retry.Metrics {
	return g.executor.Metrics()
}

// Cleanup runs a manual memory cleanup pass.
func (g *Governor) Cleanup(aggressive bool) memopt.CleanupResult {
	return g.optimizer.Cleanup(aggressive)
}

// AddAlertCallback registers fn with the metrics collector.
func (g *Governor) AddAlertCallback(fn metrics.AlertCallback) {
	g.collector.AddAlertCallback(fn)
}

// AddCleanupCallback registers fn with the memory optimizer.
func (g *Governor) AddCleanupCallback(fn func()) {
	g.optimizer.AddCleanupCallback(fn)
}
