package retry

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	mathrand "math/rand"
	"sync"
	"time"

	apperrors "github.com/crawlytics/governor/pkg/errors"
)

// Strategy selects how the backoff delay grows across attempts.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyFibonacci   Strategy = "fibonacci"
)

// circuitResetTimeout is how long an open circuit stays open before the
// next ShouldRetry call closes it again.
const circuitResetTimeout = 60 * time.Second

// PolicyConfig holds the configuration for a retry policy
type PolicyConfig struct {
	MaxAttempts             int              // Maximum number of attempts, including the first
	BaseDelay               time.Duration    // Base delay fed into the backoff strategy
	MaxDelay                time.Duration    // Upper bound applied after jitter
	Strategy                Strategy         // Backoff growth strategy
	Jitter                  bool             // Whether delays get a uniform [0.5,1.0) factor
	RetryableKinds          []apperrors.Kind // Error kinds worth retrying
	NonRetryableKinds       []apperrors.Kind // Error kinds that must not be retried
	RetryableStatusCodes    []int            // HTTP statuses worth retrying
	CircuitBreakerThreshold int              // Consecutive failures before the circuit opens
}

// DefaultPolicyConfig returns the general-purpose policy configuration
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Strategy:    StrategyExponential,
		Jitter:      true,
		RetryableKinds: []apperrors.Kind{
			apperrors.KindNetwork,
			apperrors.KindRateLimited,
		},
		NonRetryableKinds: []apperrors.Kind{
			apperrors.KindBlocked,
			apperrors.KindValidation,
			apperrors.KindConfiguration,
		},
		RetryableStatusCodes:    []int{429, 500, 502, 503, 504},
		CircuitBreakerThreshold: 5,
	}
}

// Validate checks the configuration for reasonable values
func (c *PolicyConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("MaxAttempts must be >= 1")
	}
	if c.BaseDelay <= 0 {
		return errors.New("BaseDelay must be positive")
	}
	if c.MaxDelay <= 0 {
		return errors.New("MaxDelay must be positive")
	}
	if c.MaxDelay < c.BaseDelay {
		return errors.New("MaxDelay must be >= BaseDelay")
	}
	switch c.Strategy {
	case StrategyFixed, StrategyLinear, StrategyExponential, StrategyFibonacci:
	default:
		return errors.New("unknown backoff strategy")
	}
	if c.CircuitBreakerThreshold < 1 {
		return errors.New("CircuitBreakerThreshold must be >= 1")
	}
	return nil
}

// Policy decides whether a failed attempt is retried and how long to back
// off before the next one. Safe for use from concurrent executions.
type Policy struct {
	cfg             PolicyConfig
	retryable       map[apperrors.Kind]struct{}
	nonRetryable    map[apperrors.Kind]struct{}
	retryableStatus map[int]struct{}

	mu              sync.Mutex
	failureCount    int
	circuitOpen     bool
	lastFailureTime time.Time
	now             func() time.Time
}

// NewPolicy builds a policy from cfg. Blocked errors are always
// non-retryable, whatever the configured sets say.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Policy{
		cfg:             cfg,
		retryable:       make(map[apperrors.Kind]struct{}, len(cfg.RetryableKinds)),
		nonRetryable:    make(map[apperrors.Kind]struct{}, len(cfg.NonRetryableKinds)+1),
		retryableStatus: make(map[int]struct{}, len(cfg.RetryableStatusCodes)),
		now:             time.Now,
	}
	for _, kind := range cfg.RetryableKinds {
		p.retryable[kind] = struct{}{}
	}
	for _, kind := range cfg.NonRetryableKinds {
		p.nonRetryable[kind] = struct{}{}
	}
	p.nonRetryable[apperrors.KindBlocked] = struct{}{}
	for _, code := range cfg.RetryableStatusCodes {
		p.retryableStatus[code] = struct{}{}
	}
	return p, nil
}

// MustPolicy builds a policy and panics on invalid configuration.
// Meant for the preset constructors below.
func MustPolicy(cfg PolicyConfig) *Policy {
	p, err := NewPolicy(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// NewNetworkPolicy suits flaky transports: more attempts, exponential growth.
func NewNetworkPolicy() *Policy {
	cfg := DefaultPolicyConfig()
	cfg.MaxAttempts = 5
	cfg.BaseDelay = 2 * time.Second
	cfg.MaxDelay = 60 * time.Second
	cfg.Strategy = StrategyExponential
	cfg.RetryableKinds = []apperrors.Kind{apperrors.KindNetwork}
	return MustPolicy(cfg)
}

// NewRateLimitPolicy suits throttling remotes: few attempts, long linear waits.
func NewRateLimitPolicy() *Policy {
	cfg := DefaultPolicyConfig()
	cfg.MaxAttempts = 3
	cfg.BaseDelay = 30 * time.Second
	cfg.MaxDelay = 300 * time.Second
	cfg.Strategy = StrategyLinear
	cfg.RetryableKinds = []apperrors.Kind{apperrors.KindRateLimited}
	return MustPolicy(cfg)
}

// NewGentlePolicy barely retries at all: one extra fixed-delay attempt.
func NewGentlePolicy() *Policy {
	cfg := DefaultPolicyConfig()
	cfg.MaxAttempts = 2
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = 10 * time.Second
	cfg.Strategy = StrategyFixed
	cfg.Jitter = false
	return MustPolicy(cfg)
}

// MaxAttempts returns the configured attempt budget.
func (p *Policy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

// ShouldRetry reports whether the given failure on the given 1-indexed
// attempt warrants another try. An open circuit vetoes everything until
// the reset timeout elapses, at which point it closes and evaluation
// continues normally.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.circuitOpen {
		if p.now().Sub(p.lastFailureTime) >= circuitResetTimeout {
			p.circuitOpen = false
			p.failureCount = 0
		} else {
			return false
		}
	}

	if attempt >= p.cfg.MaxAttempts {
		return false
	}

	kind := apperrors.KindOf(err)
	if _, ok := p.nonRetryable[kind]; ok {
		return false
	}
	if _, ok := p.retryable[kind]; ok {
		return true
	}

	if status, ok := apperrors.StatusOf(err); ok {
		if _, ok := p.retryableStatus[status]; ok {
			return true
		}
	}

	return false
}

// CalculateDelay computes the backoff before the attempt following the
// given 1-indexed one. Jitter, when enabled, multiplies the delay by a
// uniform factor in [0.5,1.0) so synchronized callers spread out.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	var delay time.Duration
	switch p.cfg.Strategy {
	case StrategyFixed:
		delay = p.cfg.BaseDelay
	case StrategyLinear:
		delay = time.Duration(attempt) * p.cfg.BaseDelay
	case StrategyExponential:
		delay = time.Duration(float64(p.cfg.BaseDelay) * pow2(attempt-1))
	case StrategyFibonacci:
		delay = time.Duration(float64(p.cfg.BaseDelay) * float64(fibonacci(attempt)))
	default:
		delay = p.cfg.BaseDelay
	}

	if p.cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + 0.5*SecureFloat64()))
	}

	if delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	return delay
}

// RecordFailure counts a failed attempt towards the circuit breaker.
func (p *Policy) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.lastFailureTime = p.now()
	if p.failureCount >= p.cfg.CircuitBreakerThreshold {
		p.circuitOpen = true
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (p *Policy) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount = 0
	p.circuitOpen = false
}

// CircuitOpen reports the breaker state without touching the reset logic.
func (p *Policy) CircuitOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.circuitOpen
}

// SecureFloat64 returns a secure random float64 in [0.0,1.0)
func SecureFloat64() float64 {
	var b [8]byte
	_, err := rand.Read(b[:])
	if err != nil {
		// Fallback to math/rand if crypto/rand fails
		return mathrand.Float64()
	}
	return float64(binary.BigEndian.Uint64(b[:])) / (1 << 64)
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// fibonacci computes the nth Fibonacci number with fib(1) = fib(2) = 1.
func fibonacci(n int) int {
	if n <= 2 {
		return 1
	}
	a, b := 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}
