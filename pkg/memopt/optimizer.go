package memopt

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/crawlytics/governor/pkg/logging"
)

// GC percent applied during an aggressive pass. Restored afterwards.
const aggressiveGCPercent = 50

// Config holds the cleanup thresholds in MB of resident set size.
type Config struct {
	CleanupThresholdMB    float64
	AggressiveThresholdMB float64
}

// DefaultConfig returns the standalone thresholds.
func DefaultConfig() Config {
	return Config{
		CleanupThresholdMB:    400,
		AggressiveThresholdMB: 600,
	}
}

// ConfigForLimit derives thresholds from a process memory budget:
// basic cleanup at 70%, aggressive at 90%.
func ConfigForLimit(maxMemoryMB float64) Config {
	return Config{
		CleanupThresholdMB:    maxMemoryMB * 0.7,
		AggressiveThresholdMB: maxMemoryMB * 0.9,
	}
}

// Validate checks the configuration for reasonable values
func (c *Config) Validate() error {
	if c.CleanupThresholdMB <= 0 {
		return errors.New("CleanupThresholdMB must be positive")
	}
	if c.AggressiveThresholdMB < c.CleanupThresholdMB {
		return errors.New("AggressiveThresholdMB must be >= CleanupThresholdMB")
	}
	return nil
}

// Usage is a point-in-time view of process and system memory.
type Usage struct {
	RSSMB             float64 `json:"rss_mb"`
	VMSMB             float64 `json:"vms_mb"`
	PercentOfSystem   float64 `json:"percent_of_system"`
	SystemAvailableMB float64 `json:"system_available_mb"`
}

// CleanupResult is the before/after accounting of one cleanup pass.
// FreedMB may be negative: cleanup is not guaranteed to reduce usage and a
// negative number is a reportable outcome, not an error.
type CleanupResult struct {
	BeforeMB     float64   `json:"before_mb"`
	AfterMB      float64   `json:"after_mb"`
	FreedMB      float64   `json:"freed_mb"`
	ActionsTaken []string  `json:"actions_taken"`
	Aggressive   bool      `json:"aggressive"`
	Timestamp    time.Time `json:"timestamp"`
}

// Optimizer reclaims memory on demand, with before/after accounting and
// registered cleanup callbacks for caches owned elsewhere.
type Optimizer struct {
	cfg    Config
	logger logging.Logger
	proc   *process.Process

	mu        sync.Mutex
	callbacks []func()

	// Seam for tests; reads live process usage in production.
	readUsage func() (Usage, error)
}

// NewOptimizer builds an optimizer watching the current process.
func NewOptimizer(cfg Config, logger logging.Logger) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to attach to own process: %w", err)
	}

	o := &Optimizer{
		cfg:    cfg,
		logger: logger,
		proc:   proc,
	}
	o.readUsage = o.liveUsage
	return o, nil
}

// AddCleanupCallback registers fn to run during every cleanup pass.
// Callbacks typically drop caches owned by other components.
func (o *Optimizer) AddCleanupCallback(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = append(o.callbacks, fn)
}

// Usage reports current process and system memory.
func (o *Optimizer) Usage() (Usage, error) {
	return o.readUsage()
}

func (o *Optimizer) liveUsage() (Usage, error) {
	info, err := o.proc.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read process memory: %w", err)
	}
	u := Usage{
		RSSMB: float64(info.RSS) / 1024 / 1024,
		VMSMB: float64(info.VMS) / 1024 / 1024,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		u.SystemAvailableMB = float64(vm.Available) / 1024 / 1024
		if vm.Total > 0 {
			u.PercentOfSystem = float64(info.RSS) / float64(vm.Total) * 100
		}
	}
	return u, nil
}

// ShouldCleanup reports whether a cleanup is warranted and why.
func (o *Optimizer) ShouldCleanup() (bool, string) {
	u, err := o.readUsage()
	if err != nil {
		o.logger.Warn("Failed to read memory usage", "error", err)
		return false, ""
	}
	switch {
	case u.RSSMB > o.cfg.AggressiveThresholdMB:
		return true, fmt.Sprintf("memory usage %.1fMB exceeds aggressive threshold %.1fMB", u.RSSMB, o.cfg.AggressiveThresholdMB)
	case u.RSSMB > o.cfg.CleanupThresholdMB:
		return true, fmt.Sprintf("memory usage %.1fMB exceeds cleanup threshold %.1fMB", u.RSSMB, o.cfg.CleanupThresholdMB)
	default:
		return false, ""
	}
}

// Cleanup runs every registered callback (each isolated from the others'
// panics) and forces a garbage collection pass. An aggressive cleanup adds
// a tighter temporary GC percent, a second collection, and a return of
// freed pages to the OS.
func (o *Optimizer) Cleanup(aggressive bool) CleanupResult {
	result := CleanupResult{
		Aggressive: aggressive,
		Timestamp:  time.Now().UTC(),
	}
	if u, err := o.readUsage(); err == nil {
		result.BeforeMB = u.RSSMB
	}

	o.mu.Lock()
	callbacks := make([]func(), len(o.callbacks))
	copy(callbacks, o.callbacks)
	o.mu.Unlock()

	for i, fn := range callbacks {
		o.invoke(i, fn)
	}
	if len(callbacks) > 0 {
		result.ActionsTaken = append(result.ActionsTaken, fmt.Sprintf("ran %d cleanup callbacks", len(callbacks)))
	}

	runtime.GC()
	result.ActionsTaken = append(result.ActionsTaken, "forced garbage collection")

	if aggressive {
		old := debug.SetGCPercent(aggressiveGCPercent)
		runtime.GC()
		debug.FreeOSMemory()
		debug.SetGCPercent(old)
		result.ActionsTaken = append(result.ActionsTaken, "aggressive pass: tightened GC percent and returned memory to OS")
	}

	if u, err := o.readUsage(); err == nil {
		result.AfterMB = u.RSSMB
	}
	result.FreedMB = result.BeforeMB - result.AfterMB

	o.logger.Info("Memory cleanup finished",
		"before_mb", result.BeforeMB,
		"after_mb", result.AfterMB,
		"freed_mb", result.FreedMB,
		"aggressive", aggressive,
	)
	return result
}

// invoke runs one cleanup callback, isolating its panic.
func (o *Optimizer) invoke(i int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Cleanup callback panicked", "callback", i, "panic", r)
		}
	}()
	fn()
}
