// internal/drivers/retry.go
package drivers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ErrRetriesExhausted is matched by errors returned after the last retry failed
var ErrRetriesExhausted = errors.New("retries exhausted")

// ExhaustedError wraps the last failure once the retry budget is spent
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetriesExhausted, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Err} }

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext waits on a timer and returns ctx.Err() if cancelled first
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryPolicy defines how to retry failed operations
type RetryPolicy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       bool
	retryable    func(error) bool
	sleep        SleepFunc
	logger       *zap.Logger
}

// RetryOption configures retry behavior
type RetryOption func(*RetryPolicy)

// WithMaxRetries sets how many retries follow the first attempt
func WithMaxRetries(n int) RetryOption {
	return func(p *RetryPolicy) {
		p.maxRetries = n
	}
}

// WithInitialDelay sets the initial retry delay
func WithInitialDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) {
		p.initialDelay = d
	}
}

// WithMaxDelay sets the maximum retry delay
func WithMaxDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) {
		p.maxDelay = d
	}
}

// WithJitter enables jitter to prevent thundering herd
func WithJitter(enabled bool) RetryOption {
	return func(p *RetryPolicy) {
		p.jitter = enabled
	}
}

// WithRetryable sets the predicate selecting retryable errors
func WithRetryable(fn func(error) bool) RetryOption {
	return func(p *RetryPolicy) {
		p.retryable = fn
	}
}

// WithSleeper replaces the wait between attempts
func WithSleeper(fn SleepFunc) RetryOption {
	return func(p *RetryPolicy) {
		p.sleep = fn
	}
}

// WithLogger adds logging to retry attempts
func WithLogger(logger *zap.Logger) RetryOption {
	return func(p *RetryPolicy) {
		p.logger = logger
	}
}

// NewRetryPolicy creates a policy that retries throttling errors three times,
// waiting 1s, 2s and 4s.
func NewRetryPolicy(opts ...RetryOption) *RetryPolicy {
	p := &RetryPolicy{
		maxRetries:   3,
		initialDelay: time.Second,
		maxDelay:     30 * time.Second,
		multiplier:   2.0,
		retryable:    IsThrottling,
		sleep:        SleepContext,
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// RetryResult reports what Execute did
type RetryResult struct {
	Attempts int
	Waited   time.Duration
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// retry budget is spent. fn receives the 1-based attempt number.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(attempt int) error) (RetryResult, error) {
	var res RetryResult
	var lastErr error

	for attempt := 1; attempt <= p.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Attempts = attempt
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				p.logger.Debug("operation succeeded after retry",
					zap.Int("attempt", attempt),
					zap.Duration("waited", res.Waited))
			}
			return res, nil
		}
		if !p.retryable(err) {
			return res, err
		}
		lastErr = err

		// No delay after the last attempt
		if attempt == p.maxRetries+1 {
			break
		}

		delay := p.calculateDelay(attempt - 1)
		p.logger.Debug("operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("maxRetries", p.maxRetries),
			zap.Duration("delay", delay))

		if err := p.sleep(ctx, delay); err != nil {
			return res, err
		}
		res.Waited += delay
	}

	p.logger.Warn("operation failed after all retries",
		zap.Error(lastErr),
		zap.Int("attempts", res.Attempts))

	return res, &ExhaustedError{Attempts: res.Attempts, Err: lastErr}
}

// calculateDelay computes the delay before retry number attempt+1
func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	// Exponential backoff: delay = initial * (multiplier ^ attempt)
	delay := float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt))

	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}

	if p.jitter {
		// Jitter between 0.5x and 1.5x the delay
		delay = delay * (0.5 + rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
	}

	return time.Duration(delay)
}
