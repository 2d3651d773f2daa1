package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// System metrics
	MemoryUsageMB = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "memory_usage_mb",
		Help:      "Process resident set size in MB",
	})

	CPUUsagePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "cpu_usage_percent",
		Help:      "CPU utilization percentage",
	})

	OpenFileDescriptors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "open_file_descriptors",
		Help:      "Open file descriptor count",
	})

	ThreadsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "threads_active",
		Help:      "OS thread count",
	})

	UptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "uptime_seconds",
		Help:      "Time passed since the governor started in seconds",
	})

	// Request flow
	ActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "active_requests",
		Help:      "Requests currently in flight",
	})

	RequestsCompleted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "requests_completed",
		Help:      "All-time completed request count",
	})

	RequestsFailed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "requests_failed",
		Help:      "All-time failed request count",
	})

	BytesDownloaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "bytes_downloaded",
		Help:      "All-time downloaded byte count",
	})

	SuccessRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "success_rate_percent",
		Help:      "Success rate over the recent request window",
	})

	AvgResponseTimeMs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "avg_response_time_ms",
		Help:      "Average response time over the recent request window",
	})

	// Rate limiter
	PacingDelaySeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "pacing_delay_seconds",
		Help:      "Current adaptive pacing delay",
	})

	InFlightSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "in_flight_slots",
		Help:      "Occupied concurrency slots",
	})

	// Retry executor
	RetryAttemptsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "retry_attempts_total",
		Help:      "All-time operation attempts through the retry executor",
	})

	RetriesSucceeded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "retries_succeeded",
		Help:      "Operations that succeeded after more than one attempt",
	})

	RetriesExhausted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "retries_exhausted",
		Help:      "Operations that failed after exhausting retries",
	})

	CircuitBreakerActivations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "governor",
		Name:      "circuit_breaker_activations",
		Help:      "Times the retry circuit breaker opened",
	})

	// Self-protection events
	AlertsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "governor",
		Name:      "alerts_triggered_total",
		Help:      "Alerts raised by the metrics collector, by kind",
	}, []string{"kind"})

	CleanupsPerformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "governor",
		Name:      "cleanups_performed_total",
		Help:      "Memory cleanup passes, manual and automatic",
	})
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
