package health

import (
	"fmt"
)

// Thresholds for the requestPerformance and errorRates checks.
const (
	criticalSuccessRate   = 50.0
	warningSuccessRate    = 80.0
	criticalAvgResponseMs = 15000.0
	warningAvgResponseMs  = 8000.0
	criticalErrorRate     = 50.0
	warningErrorRate      = 20.0
)

func (m *Monitor) checkMemoryUsage() CheckResult {
	result := CheckResult{Name: CheckMemoryUsage, Timestamp: m.now()}

	usage, err := m.memory.Usage()
	if err != nil {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("failed to read memory usage: %v", err)
		return result
	}

	limit := m.cfg.Limits.MaxMemoryMB
	result.Details = map[string]interface{}{
		"rss_mb":        usage.RSSMB,
		"max_memory_mb": limit,
	}

	switch {
	case usage.RSSMB > limit:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("memory usage %.1fMB exceeds limit %.1fMB", usage.RSSMB, limit)
	case usage.RSSMB > limit*m.cfg.Limits.MemoryWarnThreshold:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("memory usage %.1fMB approaching limit %.1fMB", usage.RSSMB, limit)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("memory usage %.1fMB within limits", usage.RSSMB)
	}
	return result
}

func (m *Monitor) checkCPUUsage() CheckResult {
	result := CheckResult{Name: CheckCPUUsage, Timestamp: m.now()}

	cur := m.source.CurrentMetrics()
	if cur.Snapshot == nil {
		result.Status = StatusOK
		result.Message = "no snapshots yet"
		return result
	}

	cpu := cur.Snapshot.CPUPercent
	limit := m.cfg.Limits.MaxCPUPercent
	result.Details = map[string]interface{}{
		"cpu_percent":     cpu,
		"max_cpu_percent": limit,
	}

	switch {
	case cpu > limit:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("CPU usage %.1f%% exceeds limit %.1f%%", cpu, limit)
	case cpu > limit*m.cfg.Limits.CPUWarnThreshold:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("CPU usage %.1f%% approaching limit %.1f%%", cpu, limit)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("CPU usage %.1f%% within limits", cpu)
	}
	return result
}

func (m *Monitor) checkRequestPerformance() CheckResult {
	result := CheckResult{Name: CheckRequestPerformance, Timestamp: m.now()}

	cur := m.source.CurrentMetrics()
	if cur.Window.Count == 0 {
		result.Status = StatusOK
		result.Message = "no requests yet"
		return result
	}

	successRate := cur.Window.SuccessRatePercent
	avgMs := cur.Window.AvgResponseTimeMs
	result.Details = map[string]interface{}{
		"success_rate":         successRate,
		"avg_response_time_ms": avgMs,
		"window_count":         cur.Window.Count,
	}

	switch {
	case successRate < criticalSuccessRate || avgMs > criticalAvgResponseMs:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("degraded performance: success rate %.1f%%, avg response %.0fms", successRate, avgMs)
	case successRate < warningSuccessRate || avgMs > warningAvgResponseMs:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("slipping performance: success rate %.1f%%, avg response %.0fms", successRate, avgMs)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("success rate %.1f%%, avg response %.0fms", successRate, avgMs)
	}
	return result
}

func (m *Monitor) checkErrorRates() CheckResult {
	result := CheckResult{Name: CheckErrorRates, Timestamp: m.now()}

	totals := m.source.CurrentMetrics().Totals
	if totals.TotalRequests == 0 {
		result.Status = StatusOK
		result.Message = "no requests yet"
		return result
	}

	errorRate := float64(totals.FailedRequests) / float64(totals.TotalRequests) * 100
	result.Details = map[string]interface{}{
		"error_rate":     errorRate,
		"total_requests": totals.TotalRequests,
		"failed":         totals.FailedRequests,
	}

	switch {
	case errorRate > criticalErrorRate:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("error rate %.1f%% is critical", errorRate)
	case errorRate > warningErrorRate:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("error rate %.1f%% is elevated", errorRate)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("error rate %.1f%%", errorRate)
	}
	return result
}

// checkSystemResources never escalates past warning: running out of file
// descriptors is recoverable once in-flight work drains.
func (m *Monitor) checkSystemResources() CheckResult {
	result := CheckResult{Name: CheckSystemResources, Timestamp: m.now()}

	cur := m.source.CurrentMetrics()
	if cur.Snapshot == nil {
		result.Status = StatusOK
		result.Message = "no snapshots yet"
		return result
	}

	openFiles := cur.Snapshot.OpenFiles
	limit := m.cfg.Limits.MaxOpenFiles
	result.Details = map[string]interface{}{
		"open_files":     openFiles,
		"max_open_files": limit,
		"threads":        cur.Snapshot.Threads,
	}

	if openFiles > limit {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("open files %d exceeds limit %d", openFiles, limit)
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("open files %d within limits", openFiles)
	}
	return result
}
