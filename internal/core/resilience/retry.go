// Package resilience provides retry/backoff helpers for operations that
// may fail transiently, adapted from the teacher's generic retry package
// to this engine's status.Code taxonomy. The executor reuses Policy's
// backoff fields for its defer-retry delay; no backend call in the engine
// is wrapped in Do.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Policy configures retry behavior with exponential backoff.
type Policy struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int
	// BaseDelay is the initial delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff factor (2.0 is typical).
	Multiplier float64
	// Jitter adds up to 10% randomness to each delay to avoid thundering herd.
	Jitter bool
	// ErrorChecker decides which errors should trigger a retry. Nil means
	// all non-nil errors are retryable.
	ErrorChecker ErrorChecker
	// Logger for retry events; defaults to slog.Default().
	Logger *slog.Logger
}

// ErrorChecker decides whether an error is worth retrying.
type ErrorChecker interface {
	IsRetryable(err error) bool
}

// DefaultPolicy returns a sensible default: 3 retries, 50ms base delay,
// 1s cap, 2x backoff, jittered.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: 3,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Do executes operation under the retry policy, respecting context
// cancellation during backoff sleeps.
func Do(ctx context.Context, policy *Policy, operation func() error) error {
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err, policy.ErrorChecker) {
			logger.Debug("error is non-retryable, stopping", "error", err, "attempt", attempt+1)
			return lastErr
		}
		if attempt >= policy.MaxRetries {
			logger.Error("operation failed after all retries", "max_retries", policy.MaxRetries, "error", lastErr)
			break
		}

		logger.Warn("operation failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		if !waitWithContext(ctx, delay) {
			return ctx.Err()
		}
		delay = nextDelay(delay, policy)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

func shouldRetry(err error, checker ErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker != nil {
		return checker.IsRetryable(err)
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextDelay(current time.Duration, policy *Policy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter {
		next += time.Duration(float64(next) * 0.1 * rand.Float64())
	}
	return next
}
