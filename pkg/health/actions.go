package health

import (
	"time"
)

// Corrective action parameters. Ceilings are deliberately tighter than the
// limiter's own MaxDelay so automatic slowdowns stay recoverable.
const (
	errorRateDelayFactor    = 2.0
	errorRateDelayCeiling   = 30 * time.Second
	performanceDelayFactor  = 1.5
	performanceDelayCeiling = 20 * time.Second
	aggressiveMemoryFactor  = 0.95
)

// evaluateAndAct dispatches the fixed corrective action for every critical
// check. Warnings are logged only. An action's own failure is caught and
// logged, never propagated.
func (m *Monitor) evaluateAndAct(report Report) {
	for _, check := range report.Checks {
		switch check.Status {
		case StatusWarning:
			m.logger.Warn("Health check warning", "check", check.Name, "message", check.Message)
		case StatusCritical:
			m.logger.Error("Health check critical", "check", check.Name, "message", check.Message)
			m.act(check)
		}
	}
}

// act runs the corrective action mapped to the check, isolating panics.
// Only memoryUsage, errorRates and requestPerformance have actions.
func (m *Monitor) act(check CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Corrective action panicked", "check", check.Name, "panic", r)
		}
	}()

	switch check.Name {
	case CheckMemoryUsage:
		m.cleanupMemory(check)
	case CheckErrorRates:
		old, updated := m.scaler.ScaleDelay(errorRateDelayFactor, errorRateDelayCeiling)
		m.logger.Info("Raised pacing delay after critical error rate",
			"old_delay", old, "new_delay", updated)
	case CheckRequestPerformance:
		old, updated := m.scaler.ScaleDelay(performanceDelayFactor, performanceDelayCeiling)
		m.logger.Info("Raised pacing delay after critical request performance",
			"old_delay", old, "new_delay", updated)
	}
}

func (m *Monitor) cleanupMemory(check CheckResult) {
	aggressive := false
	if rss, ok := check.Details["rss_mb"].(float64); ok {
		aggressive = rss > aggressiveMemoryFactor*m.cfg.Limits.MaxMemoryMB
	}

	result := m.memory.Cleanup(aggressive)
	m.logger.Info("Triggered memory cleanup",
		"aggressive", aggressive,
		"before_mb", result.BeforeMB,
		"after_mb", result.AfterMB,
		"freed_mb", result.FreedMB,
	)
}
