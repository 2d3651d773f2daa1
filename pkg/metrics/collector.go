package metrics

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/time/rate"

	apperrors "github.com/crawlytics/governor/pkg/errors"
	"github.com/crawlytics/governor/pkg/logging"
)

const (
	// Window sizes for the derived fields in each snapshot.
	avgResponseWindow = 10
	successRateWindow = 50
	// Window size for the aggregates in CurrentMetrics.
	currentWindow = 100

	alertInterval = 5 * time.Minute

	AlertHighMemory     = "high_memory"
	AlertHighCPU        = "high_cpu"
	AlertLowSuccessRate = "low_success_rate"
)

type activeRequest struct {
	url   string
	start time.Time
}

// Collector is the thread-safe, time-windowed recorder of process snapshots
// and per-operation request metrics. It owns its ring buffers exclusively;
// readers get copies.
type Collector struct {
	cfg       Config
	logger    logging.Logger
	proc      *process.Process
	startTime time.Time

	mu        sync.Mutex
	snapshots []PerformanceSnapshot
	completed []RequestMetric
	active    map[string]activeRequest
	totals    Totals
	callbacks []AlertCallback
	now       func() time.Time

	// One limiter per alert kind, so a memory alert cannot starve a
	// success-rate alert.
	alertLimiters map[string]*rate.Limiter

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector builds a collector sampling the current process.
func NewCollector(cfg Config, logger logging.Logger) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to attach to own process: %w", err)
	}

	limiters := make(map[string]*rate.Limiter, 3)
	for _, kind := range []string{AlertHighMemory, AlertHighCPU, AlertLowSuccessRate} {
		limiters[kind] = rate.NewLimiter(rate.Every(alertInterval), 1)
	}

	return &Collector{
		cfg:           cfg,
		logger:        logger,
		proc:          proc,
		startTime:     time.Now(),
		snapshots:     make([]PerformanceSnapshot, 0, cfg.MaxSnapshots),
		completed:     make([]RequestMetric, 0, cfg.MaxRequests),
		active:        make(map[string]activeRequest),
		now:           time.Now,
		alertLimiters: limiters,
		stopCh:        make(chan struct{}),
	}, nil
}

// Start launches the background snapshot loop.
func (c *Collector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.SnapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.captureSnapshot()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop signals the snapshot loop and waits for it to return.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// AddAlertCallback registers fn for synchronous invocation by the snapshot
// loop when an alert threshold fires.
func (c *Collector) AddAlertCallback(fn AlertCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// StartRequest registers an in-flight operation and returns its id.
func (c *Collector) StartRequest(url string) string {
	id := uuid.NewString()
	c.mu.Lock()
	c.active[id] = activeRequest{url: url, start: c.now()}
	c.mu.Unlock()
	return id
}

// EndRequest completes the request started under id. An unknown id is
// tolerated: logged and dropped.
func (c *Collector) EndRequest(id string, success bool, responseBytes int64, errorKind apperrors.Kind, retryCount int) {
	c.mu.Lock()
	req, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("EndRequest for unknown request id, dropping", "request_id", id)
		return
	}
	delete(c.active, id)

	c.recordLocked(RequestMetric{
		URL:           req.url,
		Start:         req.start,
		End:           c.now(),
		Success:       success,
		ResponseBytes: responseBytes,
		ErrorKind:     errorKind,
		RetryCount:    retryCount,
	})
	c.mu.Unlock()
}

func (c *Collector) recordLocked(m RequestMetric) {
	c.completed = append(c.completed, m)
	if len(c.completed) > c.cfg.MaxRequests {
		c.completed = c.completed[1:]
	}

	c.totals.TotalRequests++
	if m.Success {
		c.totals.SuccessfulRequests++
	} else {
		c.totals.FailedRequests++
	}
	c.totals.BytesDownloaded += m.ResponseBytes
}

// CurrentMetrics returns the latest snapshot plus aggregates over the last
// 100 completed requests and the all-time totals.
func (c *Collector) CurrentMetrics() Current {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := Current{
		Timestamp:      c.now(),
		Window:         c.windowAggregatesLocked(currentWindow),
		Totals:         c.totals,
		ActiveRequests: len(c.active),
		UptimeSeconds:  time.Since(c.startTime).Seconds(),
	}
	if len(c.snapshots) > 0 {
		latest := c.snapshots[len(c.snapshots)-1]
		cur.Snapshot = &latest
	}
	return cur
}

func (c *Collector) windowAggregatesLocked(n int) WindowAggregates {
	window := c.lastCompletedLocked(n)
	agg := WindowAggregates{Count: len(window)}
	if len(window) == 0 {
		agg.SuccessRatePercent = 100.0
		return agg
	}

	successes := 0
	var total time.Duration
	durations := make([]time.Duration, 0, len(window))
	for _, m := range window {
		if m.Success {
			successes++
		}
		total += m.Duration()
		durations = append(durations, m.Duration())
	}
	agg.SuccessRatePercent = float64(successes) / float64(len(window)) * 100
	agg.AvgResponseTimeMs = float64(total/time.Duration(len(window))) / float64(time.Millisecond)
	agg.P95ResponseTimeMs = float64(percentile(durations, 0.95)) / float64(time.Millisecond)
	return agg
}

func (c *Collector) lastCompletedLocked(n int) []RequestMetric {
	if len(c.completed) <= n {
		return c.completed
	}
	return c.completed[len(c.completed)-n:]
}

// captureSnapshot samples the process, appends a snapshot to the ring, and
// evaluates the alert thresholds. Sampling failures degrade to zero values
// rather than skipping the snapshot.
func (c *Collector) captureSnapshot() {
	var memoryMB float64
	if info, err := c.proc.MemoryInfo(); err == nil {
		memoryMB = float64(info.RSS) / 1024 / 1024
	} else {
		c.logger.Debug("Failed to sample memory", "error", err)
	}

	var cpuPercent float64
	if pct, err := c.proc.CPUPercent(); err == nil {
		cpuPercent = pct
	} else {
		c.logger.Debug("Failed to sample CPU", "error", err)
	}

	var openFiles int
	if fds, err := c.proc.NumFDs(); err == nil {
		openFiles = int(fds)
	}

	var threads int
	if n, err := c.proc.NumThreads(); err == nil {
		threads = int(n)
	}

	c.mu.Lock()
	snap := PerformanceSnapshot{
		Timestamp:          c.now(),
		MemoryMB:           memoryMB,
		CPUPercent:         cpuPercent,
		OpenFiles:          openFiles,
		Threads:            threads,
		ActiveRequests:     len(c.active),
		AvgResponseTimeMs:  c.avgResponseTimeLocked(avgResponseWindow),
		SuccessRatePercent: c.successRateLocked(successRateWindow),
	}
	c.snapshots = append(c.snapshots, snap)
	if len(c.snapshots) > c.cfg.MaxSnapshots {
		c.snapshots = c.snapshots[1:]
	}
	callbacks := make([]AlertCallback, len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	c.evaluateAlerts(snap, callbacks)
}

func (c *Collector) avgResponseTimeLocked(n int) float64 {
	window := c.lastCompletedLocked(n)
	if len(window) == 0 {
		return 0
	}
	var total time.Duration
	for _, m := range window {
		total += m.Duration()
	}
	return float64(total/time.Duration(len(window))) / float64(time.Millisecond)
}

func (c *Collector) successRateLocked(n int) float64 {
	window := c.lastCompletedLocked(n)
	if len(window) == 0 {
		return 100.0
	}
	successes := 0
	for _, m := range window {
		if m.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(window)) * 100
}

// evaluateAlerts checks each threshold independently; each alert kind is
// rate-limited to one firing per five minutes.
func (c *Collector) evaluateAlerts(snap PerformanceSnapshot, callbacks []AlertCallback) {
	type breach struct {
		kind      string
		message   string
		value     float64
		threshold float64
	}
	var breaches []breach

	if snap.MemoryMB > c.cfg.MemoryAlertMB {
		breaches = append(breaches, breach{
			kind:      AlertHighMemory,
			message:   fmt.Sprintf("memory usage %.1fMB exceeds %.1fMB", snap.MemoryMB, c.cfg.MemoryAlertMB),
			value:     snap.MemoryMB,
			threshold: c.cfg.MemoryAlertMB,
		})
	}
	if snap.CPUPercent > c.cfg.CPUAlertPercent {
		breaches = append(breaches, breach{
			kind:      AlertHighCPU,
			message:   fmt.Sprintf("CPU usage %.1f%% exceeds %.1f%%", snap.CPUPercent, c.cfg.CPUAlertPercent),
			value:     snap.CPUPercent,
			threshold: c.cfg.CPUAlertPercent,
		})
	}
	if snap.SuccessRatePercent < c.cfg.SuccessRateAlertPercent {
		breaches = append(breaches, breach{
			kind:      AlertLowSuccessRate,
			message:   fmt.Sprintf("success rate %.1f%% below %.1f%%", snap.SuccessRatePercent, c.cfg.SuccessRateAlertPercent),
			value:     snap.SuccessRatePercent,
			threshold: c.cfg.SuccessRateAlertPercent,
		})
	}

	for _, b := range breaches {
		if !c.alertLimiters[b.kind].Allow() {
			continue
		}
		alert := Alert{
			Kind:      b.kind,
			Message:   b.message,
			Value:     b.value,
			Threshold: b.threshold,
			Timestamp: snap.Timestamp,
		}
		c.logger.Warn("Alert triggered",
			"kind", alert.Kind, "value", alert.Value, "threshold", alert.Threshold)
		for i, cb := range callbacks {
			c.invoke(alert, i, cb)
		}
	}
}

// invoke runs one callback, isolating its panic so the other callbacks and
// the snapshot loop survive.
func (c *Collector) invoke(alert Alert, i int, cb AlertCallback) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Alert callback panicked", "callback", i, "panic", r)
		}
	}()
	cb(alert)
}
