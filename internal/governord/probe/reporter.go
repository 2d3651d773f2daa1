package probe

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/crawlytics/governor/pkg/logging"
	"github.com/crawlytics/governor/pkg/metrics"
)

// ReportSource produces the windowed performance analysis.
type ReportSource interface {
	PerformanceReport(lastMinutes int) (metrics.PerformanceReport, error)
}

// Reporter logs a periodic performance summary on a cron schedule, so the
// daemon's behavior is auditable from the log stream alone.
type Reporter struct {
	source   ReportSource
	logger   logging.Logger
	schedule string
	minutes  int
	cron     *cron.Cron
}

// NewReporter builds a reporter running schedule (cron syntax with seconds,
// "@every 5m" style descriptors included) over the last minutes of data.
func NewReporter(source ReportSource, schedule string, minutes int, logger logging.Logger) (*Reporter, error) {
	if schedule == "" {
		return nil, errors.New("schedule must not be empty")
	}
	if minutes <= 0 {
		return nil, errors.New("minutes must be positive")
	}
	return &Reporter{
		source:   source,
		logger:   logger,
		schedule: schedule,
		minutes:  minutes,
		cron:     cron.New(cron.WithSeconds()),
	}, nil
}

// Start registers the report job and starts the scheduler.
func (r *Reporter) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.report); err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.logger.Info("Performance reporter started", "schedule", r.schedule, "window_minutes", r.minutes)
	return nil
}

// Stop stops the scheduler and waits for a running report to finish.
func (r *Reporter) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Reporter) report() {
	report, err := r.source.PerformanceReport(r.minutes)
	if err != nil {
		if errors.Is(err, metrics.ErrInsufficientData) {
			r.logger.Info("Skipping performance report", "reason", "not enough data yet")
			return
		}
		r.logger.Error("Performance report failed", "error", err)
		return
	}

	r.logger.Info("Performance report",
		"window_minutes", report.WindowMinutes,
		"requests", report.RequestCount,
		"success_rate_percent", fmt.Sprintf("%.1f", report.SuccessRatePercent),
		"p50_ms", report.ResponseTimes.P50Ms,
		"p95_ms", report.ResponseTimes.P95Ms,
		"p99_ms", report.ResponseTimes.P99Ms,
		"avg_memory_mb", fmt.Sprintf("%.1f", report.Memory.Avg),
		"avg_cpu_percent", fmt.Sprintf("%.1f", report.CPU.Avg),
		"bytes_downloaded", report.BytesDownloaded,
	)
}
