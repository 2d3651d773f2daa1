package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/crawlytics/governor/pkg/errors"
	"github.com/crawlytics/governor/pkg/logging"
)

func newTestCollector(t *testing.T, mutate func(*Config)) *Collector {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewCollector(cfg, logging.NewNoOpLogger())
	require.NoError(t, err)
	return c
}

func TestConfigValidateRejectsZeroAlertThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero memory threshold", func(c *Config) { c.MemoryAlertMB = 0 }},
		{"zero cpu threshold", func(c *Config) { c.CPUAlertPercent = 0 }},
		{"zero success rate threshold", func(c *Config) { c.SuccessRateAlertPercent = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := NewCollector(cfg, logging.NewNoOpLogger())
			assert.Error(t, err)
		})
	}
}

// recordWithDuration drives a request through Start/EndRequest with a
// controlled clock so its duration is exact.
func recordWithDuration(c *Collector, start time.Time, d time.Duration, success bool, kind apperrors.Kind, bytes int64) {
	c.now = func() time.Time { return start }
	id := c.StartRequest("https://example.com/page")
	c.now = func() time.Time { return start.Add(d) }
	c.EndRequest(id, success, bytes, kind, 0)
}

func TestStartEndRequest(t *testing.T) {
	c := newTestCollector(t, nil)
	start := time.Now()

	recordWithDuration(c, start, 150*time.Millisecond, true, "", 2048)

	cur := c.CurrentMetrics()
	assert.Equal(t, int64(1), cur.Totals.TotalRequests)
	assert.Equal(t, int64(1), cur.Totals.SuccessfulRequests)
	assert.Equal(t, int64(0), cur.Totals.FailedRequests)
	assert.Equal(t, int64(2048), cur.Totals.BytesDownloaded)
	assert.Equal(t, 1, cur.Window.Count)
	assert.Equal(t, 100.0, cur.Window.SuccessRatePercent)
	assert.Equal(t, 150.0, cur.Window.AvgResponseTimeMs)
	assert.Equal(t, 0, cur.ActiveRequests)
}

func TestEndRequestUnknownIDIsDropped(t *testing.T) {
	c := newTestCollector(t, nil)

	assert.NotPanics(t, func() {
		c.EndRequest("no-such-id", true, 0, "", 0)
	})
	assert.Equal(t, int64(0), c.CurrentMetrics().Totals.TotalRequests)
}

func TestActiveRequestsCounted(t *testing.T) {
	c := newTestCollector(t, nil)

	id := c.StartRequest("https://example.com/a")
	_ = c.StartRequest("https://example.com/b")
	assert.Equal(t, 2, c.CurrentMetrics().ActiveRequests)

	c.EndRequest(id, true, 0, "", 0)
	assert.Equal(t, 1, c.CurrentMetrics().ActiveRequests)
}

func TestCompletedRingEvictsFIFO(t *testing.T) {
	c := newTestCollector(t, func(cfg *Config) { cfg.MaxRequests = 5 })
	start := time.Now()

	for i := 0; i < 8; i++ {
		recordWithDuration(c, start, time.Duration(i+1)*time.Millisecond, true, "", 0)
	}

	assert.Len(t, c.completed, 5)
	// Oldest three evicted, so the first survivor is the 4ms request.
	assert.Equal(t, 4*time.Millisecond, c.completed[0].Duration())
	assert.Equal(t, int64(8), c.CurrentMetrics().Totals.TotalRequests,
		"all-time totals are independent of the ring")
}

func TestFailureRecordsErrorKind(t *testing.T) {
	c := newTestCollector(t, nil)
	start := time.Now()

	recordWithDuration(c, start, time.Millisecond, false, apperrors.KindNetwork, 0)

	cur := c.CurrentMetrics()
	assert.Equal(t, int64(1), cur.Totals.FailedRequests)
	assert.Equal(t, 0.0, cur.Window.SuccessRatePercent)
}

func TestCaptureSnapshotAppendsAndEvicts(t *testing.T) {
	c := newTestCollector(t, func(cfg *Config) { cfg.MaxSnapshots = 3 })

	for i := 0; i < 5; i++ {
		c.captureSnapshot()
	}

	c.mu.Lock()
	count := len(c.snapshots)
	c.mu.Unlock()
	assert.Equal(t, 3, count)

	cur := c.CurrentMetrics()
	require.NotNil(t, cur.Snapshot)
	assert.Equal(t, 100.0, cur.Snapshot.SuccessRatePercent, "no requests means a perfect rate")
}

func TestStartStopSnapshotLoop(t *testing.T) {
	c := newTestCollector(t, func(cfg *Config) { cfg.SnapshotInterval = 10 * time.Millisecond })

	c.Start()
	assert.Eventually(t, func() bool {
		return c.CurrentMetrics().Snapshot != nil
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return within one interval")
	}
}

func TestAlertsFireAndAreRateLimited(t *testing.T) {
	c := newTestCollector(t, nil)

	var alerts []Alert
	c.AddAlertCallback(func(a Alert) {
		alerts = append(alerts, a)
	})

	snap := PerformanceSnapshot{
		Timestamp:          time.Now(),
		MemoryMB:           600, // over the 500MB threshold
		CPUPercent:         10,
		SuccessRatePercent: 100,
	}
	c.evaluateAlerts(snap, c.callbacks)
	c.evaluateAlerts(snap, c.callbacks)

	require.Len(t, alerts, 1, "second firing suppressed by the per-kind limiter")
	assert.Equal(t, AlertHighMemory, alerts[0].Kind)
	assert.Equal(t, 600.0, alerts[0].Value)
	assert.Equal(t, 500.0, alerts[0].Threshold)
}

func TestAlertKindsAreIndependent(t *testing.T) {
	c := newTestCollector(t, nil)

	var kinds []string
	c.AddAlertCallback(func(a Alert) {
		kinds = append(kinds, a.Kind)
	})

	snap := PerformanceSnapshot{
		Timestamp:          time.Now(),
		MemoryMB:           600,
		CPUPercent:         95,
		SuccessRatePercent: 50,
	}
	c.evaluateAlerts(snap, c.callbacks)

	assert.ElementsMatch(t, []string{AlertHighMemory, AlertHighCPU, AlertLowSuccessRate}, kinds)
}

func TestAlertCallbackPanicIsIsolated(t *testing.T) {
	c := newTestCollector(t, nil)

	var secondCalled bool
	c.AddAlertCallback(func(Alert) { panic("boom") })
	c.AddAlertCallback(func(Alert) { secondCalled = true })

	snap := PerformanceSnapshot{Timestamp: time.Now(), MemoryMB: 600, SuccessRatePercent: 100}
	assert.NotPanics(t, func() {
		c.evaluateAlerts(snap, c.callbacks)
	})
	assert.True(t, secondCalled, "one callback's panic must not skip the others")
}
