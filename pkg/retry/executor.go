package retry

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/crawlytics/governor/pkg/logging"
)

// Metrics is a point-in-time copy of the executor's counters.
// SuccessRatePercent counts executions that did not end in failure;
// RetryRatePercent counts successes that needed more than one attempt.
type Metrics struct {
	TotalAttempts             int64   `json:"total_attempts"`
	SuccessfulRetries         int64   `json:"successful_retries"`
	FailedAfterRetries        int64   `json:"failed_after_retries"`
	CircuitBreakerActivations int64   `json:"circuit_breaker_activations"`
	SuccessRatePercent        float64 `json:"success_rate_percent"`
	RetryRatePercent          float64 `json:"retry_success_rate_percent"`
}

// Executor drives operations through a retry policy and owns the
// cross-cutting retry counters. One executor is shared per process;
// concurrent executions only ever suspend themselves.
type Executor struct {
	defaultPolicy *Policy
	logger        logging.Logger

	mu                        sync.Mutex
	totalAttempts             int64
	successfulRetries         int64
	failedAfterRetries        int64
	circuitBreakerActivations int64
}

// NewExecutor creates an executor. defaultPolicy may be nil, in which case
// every Do call must pass its own policy.
func NewExecutor(defaultPolicy *Policy, logger logging.Logger) *Executor {
	return &Executor{
		defaultPolicy: defaultPolicy,
		logger:        logger,
	}
}

// Do executes operation under the given policy, retrying per its rules.
// A nil policy falls back to the executor default. opContext is an opaque
// key-value bag forwarded to logging only. The backoff sleep is context
// aware, so cancellation does not wait out a full delay.
func Do[T any](ctx context.Context, e *Executor, operation func() (T, error), policy *Policy, opContext map[string]interface{}) (T, error) {
	var zero T

	if policy == nil {
		policy = e.defaultPolicy
	}
	if policy == nil {
		return zero, errNoPolicy
	}

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts(); attempt++ {
		select {
		case <-ctx.Done():
			if lastErr == nil {
				return zero, ctx.Err()
			}
			return zero, e.failed(policy, ctx.Err(), opContext)
		default:
		}

		e.countAttempt()

		result, err := operation()
		if err == nil {
			policy.RecordSuccess()
			if attempt > 1 {
				e.countRetrySuccess()
				e.logger.Info("Operation succeeded after retries",
					tags(opContext, "attempt", attempt)...)
			}
			return result, nil
		}

		lastErr = err
		policy.RecordFailure()
		e.logger.Warn("Attempt failed",
			tags(opContext, "attempt", attempt, "max_attempts", policy.MaxAttempts(), "error", err)...)

		if !policy.ShouldRetry(err, attempt) {
			e.logger.Error("Not retrying, non-retryable error or limit reached",
				tags(opContext, "attempt", attempt, "error", err)...)
			break
		}

		if attempt < policy.MaxAttempts() {
			delay := policy.CalculateDelay(attempt)
			e.logger.Info("Waiting before next attempt",
				tags(opContext, "delay", delay, "next_attempt", attempt+1)...)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, e.failed(policy, ctx.Err(), opContext)
			}
		}
	}

	return zero, e.failed(policy, lastErr, opContext)
}

// DoFunc executes an operation that only returns an error.
// This is a convenience wrapper around Do.
func (e *Executor) DoFunc(ctx context.Context, operation func() error, policy *Policy, opContext map[string]interface{}) error {
	opWithValue := func() (struct{}, error) {
		return struct{}{}, operation()
	}
	_, err := Do(ctx, e, opWithValue, policy, opContext)
	return err
}

// Metrics returns a copy of the counters with derived percentages.
func (e *Executor) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := Metrics{
		TotalAttempts:             e.totalAttempts,
		SuccessfulRetries:         e.successfulRetries,
		FailedAfterRetries:        e.failedAfterRetries,
		CircuitBreakerActivations: e.circuitBreakerActivations,
	}
	if e.totalAttempts > 0 {
		m.SuccessRatePercent = round2(float64(e.totalAttempts-e.failedAfterRetries) / float64(e.totalAttempts) * 100)
		m.RetryRatePercent = round2(float64(e.successfulRetries) / float64(e.totalAttempts) * 100)
	}
	return m
}

// failed finalizes a propagated execution failure: counts it, notes an
// open circuit, and hands back the error unchanged.
func (e *Executor) failed(policy *Policy, err error, opContext map[string]interface{}) error {
	e.mu.Lock()
	e.failedAfterRetries++
	circuitOpen := policy.CircuitOpen()
	if circuitOpen {
		e.circuitBreakerActivations++
	}
	e.mu.Unlock()

	if circuitOpen {
		e.logger.Error("Circuit breaker activated", tags(opContext)...)
	}
	return err
}

func (e *Executor) countAttempt() {
	e.mu.Lock()
	e.totalAttempts++
	e.mu.Unlock()
}

func (e *Executor) countRetrySuccess() {
	e.mu.Lock()
	e.successfulRetries++
	e.mu.Unlock()
}

var errNoPolicy = &noPolicyError{}

type noPolicyError struct{}

func (*noPolicyError) Error() string {
	return "retry: no policy given and executor has no default"
}

// tags flattens the operation context plus extra pairs into logger tags,
// with stable key ordering.
func tags(opContext map[string]interface{}, extra ...any) []any {
	out := make([]any, 0, len(opContext)*2+len(extra))
	keys := make([]string, 0, len(opContext))
	for k := range opContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k, opContext[k])
	}
	return append(out, extra...)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
