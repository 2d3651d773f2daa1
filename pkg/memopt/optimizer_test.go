package memopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlytics/governor/pkg/logging"
)

func newTestOptimizer(t *testing.T, rssMB float64) *Optimizer {
	t.Helper()
	o, err := NewOptimizer(DefaultConfig(), logging.NewNoOpLogger())
	require.NoError(t, err)
	o.readUsage = func() (Usage, error) {
		return Usage{RSSMB: rssMB, VMSMB: rssMB * 2, SystemAvailableMB: 4096}, nil
	}
	return o
}

func TestConfigForLimit(t *testing.T) {
	cfg := ConfigForLimit(512)
	assert.InDelta(t, 358.4, cfg.CleanupThresholdMB, 0.01)
	assert.InDelta(t, 460.8, cfg.AggressiveThresholdMB, 0.01)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{CleanupThresholdMB: 500, AggressiveThresholdMB: 400}
	assert.Error(t, cfg.Validate())
}

func TestShouldCleanup(t *testing.T) {
	tests := []struct {
		name       string
		rssMB      float64
		want       bool
		wantReason string
	}{
		{name: "below both thresholds", rssMB: 300, want: false},
		{name: "above cleanup threshold", rssMB: 450, want: true, wantReason: "cleanup threshold"},
		{name: "above aggressive threshold", rssMB: 700, want: true, wantReason: "aggressive threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOptimizer(t, tt.rssMB)
			got, reason := o.ShouldCleanup()
			assert.Equal(t, tt.want, got)
			if tt.wantReason != "" {
				assert.Contains(t, reason, tt.wantReason)
			}
		})
	}
}

func TestCleanupRunsCallbacksAndAccounts(t *testing.T) {
	o := newTestOptimizer(t, 500)

	called := 0
	o.AddCleanupCallback(func() { called++ })
	o.AddCleanupCallback(func() { called++ })

	result := o.Cleanup(false)

	assert.Equal(t, 2, called)
	assert.Equal(t, 500.0, result.BeforeMB)
	assert.Equal(t, 0.0, result.FreedMB, "stubbed usage does not change")
	assert.False(t, result.Aggressive)
	assert.Contains(t, result.ActionsTaken, "forced garbage collection")
	assert.False(t, result.Timestamp.IsZero())
}

func TestCleanupAggressiveAddsActions(t *testing.T) {
	o := newTestOptimizer(t, 700)

	result := o.Cleanup(true)

	assert.True(t, result.Aggressive)
	assert.Len(t, result.ActionsTaken, 2)
}

func TestCleanupCallbackPanicIsIsolated(t *testing.T) {
	o := newTestOptimizer(t, 500)

	var secondCalled bool
	o.AddCleanupCallback(func() { panic("cache drop failed") })
	o.AddCleanupCallback(func() { secondCalled = true })

	assert.NotPanics(t, func() {
		o.Cleanup(false)
	})
	assert.True(t, secondCalled)
}

func TestNegativeFreedIsReportable(t *testing.T) {
	o, err := NewOptimizer(DefaultConfig(), logging.NewNoOpLogger())
	require.NoError(t, err)

	readings := []float64{500, 520} // usage grew during cleanup
	o.readUsage = func() (Usage, error) {
		u := Usage{RSSMB: readings[0]}
		if len(readings) > 1 {
			readings = readings[1:]
		}
		return u, nil
	}

	result := o.Cleanup(false)
	assert.Equal(t, -20.0, result.FreedMB)
}
