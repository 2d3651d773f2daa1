package health

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crawlytics/governor/pkg/logging"
	"github.com/crawlytics/governor/pkg/memopt"
	"github.com/crawlytics/governor/pkg/metrics"
)

// Status classifies a check result or a whole report.
type Status string

const (
	StatusOK       Status = "ok"
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// The fixed check set. Closed by design: checks are switch-dispatched, not
// an open registry.
const (
	CheckMemoryUsage        = "memoryUsage"
	CheckCPUUsage           = "cpuUsage"
	CheckRequestPerformance = "requestPerformance"
	CheckErrorRates         = "errorRates"
	CheckSystemResources    = "systemResources"
)

var checkNames = []string{
	CheckMemoryUsage,
	CheckCPUUsage,
	CheckRequestPerformance,
	CheckErrorRates,
	CheckSystemResources,
}

// ResourceLimits are the thresholds every check evaluates against.
// Read-only after construction.
type ResourceLimits struct {
	MaxMemoryMB           float64 `yaml:"max_memory_mb"`
	MaxCPUPercent         float64 `yaml:"max_cpu_percent"`
	MaxOpenFiles          int     `yaml:"max_open_files"`
	MaxConcurrentRequests int     `yaml:"max_concurrent_requests"`
	MemoryWarnThreshold   float64 `yaml:"memory_warn_threshold"`
	CPUWarnThreshold      float64 `yaml:"cpu_warn_threshold"`
}

// DefaultResourceLimits returns the limits used by the composition root
// when nothing else is specified.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryMB:           512,
		MaxCPUPercent:         80,
		MaxOpenFiles:          100,
		MaxConcurrentRequests: 10,
		MemoryWarnThreshold:   0.75,
		CPUWarnThreshold:      0.75,
	}
}

// Validate checks the limits for reasonable values
func (l *ResourceLimits) Validate() error {
	if l.MaxMemoryMB <= 0 {
		return errors.New("MaxMemoryMB must be positive")
	}
	if l.MaxCPUPercent <= 0 {
		return errors.New("MaxCPUPercent must be positive")
	}
	if l.MaxOpenFiles <= 0 {
		return errors.New("MaxOpenFiles must be positive")
	}
	if l.MemoryWarnThreshold <= 0 || l.MemoryWarnThreshold > 1 {
		return errors.New("MemoryWarnThreshold must be in (0,1]")
	}
	if l.CPUWarnThreshold <= 0 || l.CPUWarnThreshold > 1 {
		return errors.New("CPUWarnThreshold must be in (0,1]")
	}
	return nil
}

// CheckResult is one named check's verdict, produced fresh every sweep.
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Report combines one sweep's check results.
type Report struct {
	Overall   Status        `json:"overall"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// MetricsSource is the read side the monitor needs from the collector.
type MetricsSource interface {
	CurrentMetrics() metrics.Current
}

// DelayScaler is the mutation hook the monitor needs from the limiter.
type DelayScaler interface {
	ScaleDelay(factor float64, ceiling time.Duration) (time.Duration, time.Duration)
}

// MemoryManager is what the monitor needs from the optimizer.
type MemoryManager interface {
	Usage() (memopt.Usage, error)
	Cleanup(aggressive bool) memopt.CleanupResult
}

// Config holds the monitor configuration.
type Config struct {
	Interval time.Duration  // How often the background sweep runs
	Limits   ResourceLimits // Check thresholds
}

// DefaultConfig returns the monitor configuration used by the composition
// root when nothing else is specified.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Limits:   DefaultResourceLimits(),
	}
}

// Monitor periodically evaluates the fixed health check set against the
// shared collector and limiter, and dispatches corrective actions when a
// check reports critical. It holds non-owning references to its
// collaborators and never outlives them.
type Monitor struct {
	cfg    Config
	logger logging.Logger

	source MetricsSource
	scaler DelayScaler
	memory MemoryManager

	mu         sync.Mutex
	lastReport *Report
	now        func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor builds a monitor over the given collaborators.
func NewMonitor(cfg Config, source MetricsSource, scaler DelayScaler, memory MemoryManager, logger logging.Logger) (*Monitor, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("Interval must be positive")
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger,
		source: source,
		scaler: scaler,
		memory: memory,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}, nil
}

// Start launches the background sweep loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop signals the sweep loop and waits for it to return.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) sweep() {
	report := m.RunChecks()
	m.evaluateAndAct(report)
}

// RunChecks executes every named check once and combines the verdicts.
// A check that fails internally reports itself critical rather than
// aborting the sweep.
func (m *Monitor) RunChecks() Report {
	report := Report{Timestamp: m.now()}
	for _, name := range checkNames {
		report.Checks = append(report.Checks, m.runCheck(name))
	}

	report.Overall = StatusHealthy
	for _, check := range report.Checks {
		switch check.Status {
		case StatusCritical:
			report.Overall = StatusCritical
		case StatusWarning:
			if report.Overall != StatusCritical {
				report.Overall = StatusWarning
			}
		}
	}

	m.mu.Lock()
	m.lastReport = &report
	m.mu.Unlock()
	return report
}

// runCheck dispatches one named check, isolating its panic.
func (m *Monitor) runCheck(name string) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Health check panicked", "check", name, "panic", r)
			result = CheckResult{
				Name:      name,
				Status:    StatusCritical,
				Message:   fmt.Sprintf("check failed internally: %v", r),
				Timestamp: m.now(),
			}
		}
	}()

	switch name {
	case CheckMemoryUsage:
		return m.checkMemoryUsage()
	case CheckCPUUsage:
		return m.checkCPUUsage()
	case CheckRequestPerformance:
		return m.checkRequestPerformance()
	case CheckErrorRates:
		return m.checkErrorRates()
	case CheckSystemResources:
		return m.checkSystemResources()
	default:
		return CheckResult{
			Name:      name,
			Status:    StatusCritical,
			Message:   "unknown check",
			Timestamp: m.now(),
		}
	}
}

// Status returns the last sweep's report, running a fresh sweep when none
// has happened yet.
func (m *Monitor) Status() Report {
	m.mu.Lock()
	last := m.lastReport
	m.mu.Unlock()

	if last == nil {
		return m.RunChecks()
	}
	return *last
}
