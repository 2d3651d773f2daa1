package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crawlytics/governor/pkg/governor"
	"github.com/crawlytics/governor/pkg/health"
)

// Duration parses "2s"/"500ms" style YAML scalars into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to the standard type, keeping def when unset.
func (d Duration) Std(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// LimiterFile configures the adaptive rate limiter.
type LimiterFile struct {
	InitialDelay  Duration `yaml:"initial_delay"`
	MinDelay      Duration `yaml:"min_delay"`
	MaxDelay      Duration `yaml:"max_delay"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

// MetricsFile configures the metrics collector.
type MetricsFile struct {
	SnapshotInterval Duration `yaml:"snapshot_interval"`
	MaxSnapshots     int      `yaml:"max_snapshots"`
	MaxRequests      int      `yaml:"max_requests"`
}

// HealthFile configures the health monitor.
type HealthFile struct {
	Interval Duration `yaml:"interval"`
}

// ProbeFile configures the synthetic workload driver.
type ProbeFile struct {
	URLs           []string `yaml:"urls"`
	Interval       Duration `yaml:"interval"`
	ReportSchedule string   `yaml:"report_schedule"`
	ReportMinutes  int      `yaml:"report_minutes"`
}

// FileConfig is the daemon's YAML configuration file.
type FileConfig struct {
	Limits  health.ResourceLimits `yaml:"limits"`
	Limiter LimiterFile           `yaml:"limiter"`
	Metrics MetricsFile           `yaml:"metrics"`
	Health  HealthFile            `yaml:"health"`
	Probe   ProbeFile             `yaml:"probe"`
}

// DefaultFileConfig mirrors the component defaults.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Limits: health.DefaultResourceLimits(),
		Probe: ProbeFile{
			ReportSchedule: "@every 5m",
			ReportMinutes:  15,
		},
	}
}

// LoadFile reads and validates a YAML config file. Fields left out keep
// their defaults.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	fc := DefaultFileConfig()
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := fc.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return fc, nil
}

// Validate checks the file for reasonable values. Component configs are
// validated again by their constructors; this catches file-level mistakes
// early with the file name attached.
func (fc *FileConfig) Validate() error {
	if err := fc.Limits.Validate(); err != nil {
		return err
	}
	if fc.Probe.ReportMinutes < 0 {
		return fmt.Errorf("probe.report_minutes must be >= 0")
	}
	for _, u := range fc.Probe.URLs {
		if u == "" {
			return fmt.Errorf("probe.urls must not contain empty entries")
		}
	}
	return nil
}

// GovernorConfig maps the file onto the core's configuration, falling back
// to component defaults for anything unset.
func (fc *FileConfig) GovernorConfig() governor.Config {
	gc := governor.DefaultConfig()

	gc.Limiter.InitialDelay = fc.Limiter.InitialDelay.Std(gc.Limiter.InitialDelay)
	gc.Limiter.MinDelay = fc.Limiter.MinDelay.Std(gc.Limiter.MinDelay)
	gc.Limiter.MaxDelay = fc.Limiter.MaxDelay.Std(gc.Limiter.MaxDelay)
	if fc.Limiter.MaxConcurrent > 0 {
		gc.Limiter.MaxConcurrent = fc.Limiter.MaxConcurrent
	}

	gc.Metrics.SnapshotInterval = fc.Metrics.SnapshotInterval.Std(gc.Metrics.SnapshotInterval)
	if fc.Metrics.MaxSnapshots > 0 {
		gc.Metrics.MaxSnapshots = fc.Metrics.MaxSnapshots
	}
	if fc.Metrics.MaxRequests > 0 {
		gc.Metrics.MaxRequests = fc.Metrics.MaxRequests
	}

	gc.Health.Interval = fc.Health.Interval.Std(gc.Health.Interval)
	gc.Health.Limits = fc.Limits

	return gc
}
