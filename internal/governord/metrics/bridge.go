package metrics

import (
	"sync"
	"time"

	"github.com/crawlytics/governor/pkg/logging"
	coremetrics "github.com/crawlytics/governor/pkg/metrics"
	"github.com/crawlytics/governor/pkg/ratelimit"
	"github.com/crawlytics/governor/pkg/retry"
)

// Source is the read side of the governor the bridge polls.
type Source interface {
	CurrentMetrics() coremetrics.Current
	CurrentLimits() ratelimit.Limits
	RetryMetrics() retry.Metrics
}

// Bridge polls the core's snapshots on an interval and mirrors them into
// the Prometheus gauges, keeping the scrape path free of locks on the
// core's structures.
type Bridge struct {
	source   Source
	interval time.Duration
	logger   logging.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBridge builds a bridge polling source every interval.
func NewBridge(source Source, interval time.Duration, logger logging.Logger) *Bridge {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Bridge{
		source:   source,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the polling loop.
func (b *Bridge) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				b.publish()
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Stop signals the polling loop and waits for it to return.
func (b *Bridge) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

func (b *Bridge) publish() {
	cur := b.source.CurrentMetrics()
	if cur.Snapshot != nil {
		MemoryUsageMB.Set(cur.Snapshot.MemoryMB)
		CPUUsagePercent.Set(cur.Snapshot.CPUPercent)
		OpenFileDescriptors.Set(float64(cur.Snapshot.OpenFiles))
		ThreadsActive.Set(float64(cur.Snapshot.Threads))
	}
	UptimeSeconds.Set(cur.UptimeSeconds)
	ActiveRequests.Set(float64(cur.ActiveRequests))
	RequestsCompleted.Set(float64(cur.Totals.TotalRequests))
	RequestsFailed.Set(float64(cur.Totals.FailedRequests))
	BytesDownloaded.Set(float64(cur.Totals.BytesDownloaded))
	SuccessRatePercent.Set(cur.Window.SuccessRatePercent)
	AvgResponseTimeMs.Set(cur.Window.AvgResponseTimeMs)

	limits := b.source.CurrentLimits()
	PacingDelaySeconds.Set(limits.Delay.Seconds())
	InFlightSlots.Set(float64(limits.InFlight))

	rm := b.source.RetryMetrics()
	RetryAttemptsTotal.Set(float64(rm.TotalAttempts))
	RetriesSucceeded.Set(float64(rm.SuccessfulRetries))
	RetriesExhausted.Set(float64(rm.FailedAfterRetries))
	CircuitBreakerActivations.Set(float64(rm.CircuitBreakerActivations))
}
