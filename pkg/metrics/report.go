package metrics

import (
	"sort"
	"time"

	apperrors "github.com/crawlytics/governor/pkg/errors"
)

// Stats are avg/max/min over a windowed series.
type Stats struct {
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
	Min float64 `json:"min"`
}

// ResponseTimes are windowed latency percentiles in milliseconds.
type ResponseTimes struct {
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// PerformanceReport is the windowed analysis handed to operator surfaces.
type PerformanceReport struct {
	WindowMinutes      int                      `json:"window_minutes"`
	GeneratedAt        time.Time                `json:"generated_at"`
	Memory             Stats                    `json:"memory_mb"`
	CPU                Stats                    `json:"cpu_percent"`
	ResponseTimes      ResponseTimes            `json:"response_times"`
	SuccessRatePercent float64                  `json:"success_rate_percent"`
	RequestCount       int                      `json:"request_count"`
	BytesDownloaded    int64                    `json:"bytes_downloaded"`
	ErrorCounts        map[apperrors.Kind]int64 `json:"error_counts"`
}

// PerformanceReport analyzes the snapshots and requests recorded in the
// last lastMinutes. Returns ErrInsufficientData when either side of the
// window is empty.
func (c *Collector) PerformanceReport(lastMinutes int) (PerformanceReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-time.Duration(lastMinutes) * time.Minute)

	var snaps []PerformanceSnapshot
	for _, s := range c.snapshots {
		if !s.Timestamp.Before(cutoff) {
			snaps = append(snaps, s)
		}
	}
	var requests []RequestMetric
	for _, m := range c.completed {
		if !m.End.Before(cutoff) {
			requests = append(requests, m)
		}
	}

	if len(snaps) == 0 || len(requests) == 0 {
		return PerformanceReport{}, ErrInsufficientData
	}

	report := PerformanceReport{
		WindowMinutes: lastMinutes,
		GeneratedAt:   now,
		RequestCount:  len(requests),
		ErrorCounts:   make(map[apperrors.Kind]int64),
	}

	memory := make([]float64, 0, len(snaps))
	cpu := make([]float64, 0, len(snaps))
	for _, s := range snaps {
		memory = append(memory, s.MemoryMB)
		cpu = append(cpu, s.CPUPercent)
	}
	report.Memory = stats(memory)
	report.CPU = stats(cpu)

	successes := 0
	durations := make([]time.Duration, 0, len(requests))
	for _, m := range requests {
		durations = append(durations, m.Duration())
		report.BytesDownloaded += m.ResponseBytes
		if m.Success {
			successes++
		} else {
			kind := m.ErrorKind
			if kind == "" {
				kind = apperrors.KindUnknown
			}
			report.ErrorCounts[kind]++
		}
	}
	report.SuccessRatePercent = float64(successes) / float64(len(requests)) * 100
	report.ResponseTimes = ResponseTimes{
		P50Ms: float64(percentile(durations, 0.50)) / float64(time.Millisecond),
		P95Ms: float64(percentile(durations, 0.95)) / float64(time.Millisecond),
		P99Ms: float64(percentile(durations, 0.99)) / float64(time.Millisecond),
	}
	return report, nil
}

// percentile picks the sorted-array element at index floor(len×p). The
// input slice is not modified.
func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func stats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	s := Stats{Max: values[0], Min: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		if v > s.Max {
			s.Max = v
		}
		if v < s.Min {
			s.Min = v
		}
	}
	s.Avg = sum / float64(len(values))
	return s
}
