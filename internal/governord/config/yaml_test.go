package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "governor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
limits:
  max_memory_mb: 1024
  max_cpu_percent: 90
  max_open_files: 200
  max_concurrent_requests: 20
  memory_warn_threshold: 0.8
  cpu_warn_threshold: 0.8
limiter:
  initial_delay: 2s
  min_delay: 200ms
  max_delay: 45s
  max_concurrent: 8
metrics:
  snapshot_interval: 10s
health:
  interval: 1m
probe:
  urls:
    - https://example.com/a
    - https://example.com/b
  interval: 30s
  report_schedule: "@every 10m"
  report_minutes: 30
`)

	fc, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 1024.0, fc.Limits.MaxMemoryMB)
	assert.Equal(t, 8, fc.Limiter.MaxConcurrent)
	assert.Len(t, fc.Probe.URLs, 2)
	assert.Equal(t, "@every 10m", fc.Probe.ReportSchedule)

	gc := fc.GovernorConfig()
	assert.Equal(t, 2*time.Second, gc.Limiter.InitialDelay)
	assert.Equal(t, 200*time.Millisecond, gc.Limiter.MinDelay)
	assert.Equal(t, 45*time.Second, gc.Limiter.MaxDelay)
	assert.Equal(t, 10*time.Second, gc.Metrics.SnapshotInterval)
	assert.Equal(t, time.Minute, gc.Health.Interval)
	assert.Equal(t, 1024.0, gc.Health.Limits.MaxMemoryMB)
}

func TestLoadFilePartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
limiter:
  max_concurrent: 3
`)

	fc, err := LoadFile(path)
	require.NoError(t, err)

	gc := fc.GovernorConfig()
	assert.Equal(t, 3, gc.Limiter.MaxConcurrent)
	assert.Equal(t, time.Second, gc.Limiter.InitialDelay, "unset durations keep defaults")
	assert.Equal(t, 512.0, gc.Health.Limits.MaxMemoryMB)
	assert.Equal(t, "@every 5m", fc.Probe.ReportSchedule)
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
limiter:
  initial_delay: soon
`)

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileRejectsBadLimits(t *testing.T) {
	path := writeConfig(t, `
limits:
  max_memory_mb: -1
`)

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestInitDefaults(t *testing.T) {
	t.Setenv("GOVERNOR_API_PORT", "")
	t.Setenv("GOVERNOR_CONFIG_FILE", "")
	t.Setenv("DEV_MODE", "")

	require.NoError(t, Init(CLIConfig{}))
	assert.Equal(t, "9090", APIPort())
	assert.False(t, IsDevMode())
	assert.NotNil(t, File())
}

func TestInitFlagWinsOverEnv(t *testing.T) {
	t.Setenv("GOVERNOR_API_PORT", "7000")

	require.NoError(t, Init(CLIConfig{Port: "8000", DevMode: true}))
	assert.Equal(t, "8000", APIPort())
	assert.True(t, IsDevMode())
}

func TestInitRejectsBadPort(t *testing.T) {
	assert.Error(t, Init(CLIConfig{Port: "not-a-port"}))
}
