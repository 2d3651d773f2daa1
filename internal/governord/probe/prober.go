package probe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crawlytics/governor/pkg/client"
	"github.com/crawlytics/governor/pkg/governor"
	"github.com/crawlytics/governor/pkg/logging"
)

// Fetcher performs the actual remote operation for one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*client.Response, error)
}

// Runner is the governed execution surface the prober drives.
type Runner interface {
	Do(ctx context.Context, url string, op governor.Operation) error
}

// Config holds the prober configuration.
type Config struct {
	URLs     []string
	Interval time.Duration
}

// Prober is the daemon's synthetic workload: it fetches the configured
// URLs through the governor on an interval, so the resilience core always
// has traffic to measure and tune against. The URL set is hot-swappable.
type Prober struct {
	runner   Runner
	fetcher  Fetcher
	logger   logging.Logger
	interval time.Duration

	mu   sync.Mutex
	urls []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProber builds a prober from cfg.
func NewProber(cfg Config, runner Runner, fetcher Fetcher, logger logging.Logger) (*Prober, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("Interval must be positive")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prober{
		runner:   runner,
		fetcher:  fetcher,
		logger:   logger,
		interval: cfg.Interval,
		urls:     append([]string(nil), cfg.URLs...),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetURLs replaces the probe set. Applied on the next sweep.
func (p *Prober) SetURLs(urls []string) {
	p.mu.Lock()
	p.urls = append([]string(nil), urls...)
	p.mu.Unlock()
	p.logger.Info("Probe set updated", "count", len(urls))
}

// Start launches the probe loop.
func (p *Prober) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.sweep()
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels in-flight probes and waits for the loop to return.
func (p *Prober) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Prober) sweep() {
	p.mu.Lock()
	urls := append([]string(nil), p.urls...)
	p.mu.Unlock()

	for _, url := range urls {
		if p.ctx.Err() != nil {
			return
		}
		p.probe(url)
	}
}

func (p *Prober) probe(url string) {
	err := p.runner.Do(p.ctx, url, func(ctx context.Context) (int64, error) {
		resp, err := p.fetcher.Fetch(ctx, url)
		if err != nil {
			return 0, err
		}
		return resp.Bytes, nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("Probe failed", "url", url, "error", err)
	}
}
