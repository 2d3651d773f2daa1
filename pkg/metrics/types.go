package metrics

import (
	"errors"
	"time"

	apperrors "github.com/crawlytics/governor/pkg/errors"
)

// ErrInsufficientData is returned by PerformanceReport when no snapshots or
// no requests fall inside the requested window.
var ErrInsufficientData = errors.New("metrics: insufficient data for the requested window")

// Config holds the configuration for a collector.
type Config struct {
	MaxSnapshots     int           // Ring capacity for performance snapshots
	MaxRequests      int           // Ring capacity for completed request metrics
	SnapshotInterval time.Duration // How often the background loop samples the process

	// Alert thresholds, each rate-limited to one firing per five minutes.
	MemoryAlertMB           float64
	CPUAlertPercent         float64
	SuccessRateAlertPercent float64
}

// DefaultConfig returns the collector configuration used by the composition
// root when nothing else is specified.
func DefaultConfig() Config {
	return Config{
		MaxSnapshots:            1000,
		MaxRequests:             10000,
		SnapshotInterval:        5 * time.Second,
		MemoryAlertMB:           500,
		CPUAlertPercent:         80,
		SuccessRateAlertPercent: 70,
	}
}

// Validate checks the configuration for reasonable values
func (c *Config) Validate() error {
	if c.MaxSnapshots < 1 {
		return errors.New("MaxSnapshots must be >= 1")
	}
	if c.MaxRequests < 1 {
		return errors.New("MaxRequests must be >= 1")
	}
	if c.SnapshotInterval <= 0 {
		return errors.New("SnapshotInterval must be positive")
	}
	if c.MemoryAlertMB <= 0 {
		return errors.New("MemoryAlertMB must be positive")
	}
	if c.CPUAlertPercent <= 0 {
		return errors.New("CPUAlertPercent must be positive")
	}
	if c.SuccessRateAlertPercent <= 0 {
		return errors.New("SuccessRateAlertPercent must be positive")
	}
	return nil
}

// RequestMetric records one completed remote operation. Immutable once
// recorded.
type RequestMetric struct {
	URL           string         `json:"url"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	Success       bool           `json:"success"`
	ResponseBytes int64          `json:"response_bytes"`
	ErrorKind     apperrors.Kind `json:"error_kind,omitempty"`
	RetryCount    int            `json:"retry_count"`
}

// Duration is the wall time the operation took.
func (m RequestMetric) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

// PerformanceSnapshot is one sample of process health, appended to a
// bounded ring by the background loop.
type PerformanceSnapshot struct {
	Timestamp          time.Time `json:"timestamp"`
	MemoryMB           float64   `json:"memory_mb"`
	CPUPercent         float64   `json:"cpu_percent"`
	OpenFiles          int       `json:"open_files"`
	Threads            int       `json:"threads"`
	ActiveRequests     int       `json:"active_requests"`
	AvgResponseTimeMs  float64   `json:"avg_response_time_ms"`
	SuccessRatePercent float64   `json:"success_rate_percent"`
}

// Totals are all-time counters, independent of any window.
type Totals struct {
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`
	BytesDownloaded    int64 `json:"bytes_downloaded"`
}

// WindowAggregates summarize the most recent completed requests.
type WindowAggregates struct {
	Count              int     `json:"count"`
	SuccessRatePercent float64 `json:"success_rate_percent"`
	AvgResponseTimeMs  float64 `json:"avg_response_time_ms"`
	P95ResponseTimeMs  float64 `json:"p95_response_time_ms"`
}

// Current is the read-only snapshot handed to operator surfaces.
type Current struct {
	Timestamp      time.Time            `json:"timestamp"`
	Snapshot       *PerformanceSnapshot `json:"snapshot,omitempty"`
	Window         WindowAggregates     `json:"window"`
	Totals         Totals               `json:"totals"`
	ActiveRequests int                  `json:"active_requests"`
	UptimeSeconds  float64              `json:"uptime_seconds"`
}

// Alert is the payload handed to alert callbacks.
type Alert struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertCallback is invoked synchronously by the snapshot loop when a
// threshold is breached. Panics inside a callback are isolated.
type AlertCallback func(Alert)
