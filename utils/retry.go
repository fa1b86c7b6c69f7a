package utils

import (
	"context"
	"math/rand/v2"
	"time"

	"showtime-analytics/metrics"
)

// RetryConfig holds the parameters for the retry strategy.
//
// The delay before retry i (0-indexed) is BaseDelay*2^i plus a uniform jitter
// in [0, 1s). Only errors accepted by Retryable are retried; a nil Retryable
// retries everything.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Retryable  func(error) bool
	Logger     *Logger

	// Sleep and Jitter are replaced in tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() time.Duration
}

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 3

// Do executes fn, retrying recoverable failures with exponential back-off.
// When every attempt fails the last error is returned as-is.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	attempts := r.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := r.Delay(attempt)
		if r.Logger != nil {
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
				operationName, attempt+1, attempts, lastErr, delay.Round(time.Millisecond))
		}
		metrics.FetchRetries.WithLabelValues(operationName).Inc()

		if err := r.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}

	return lastErr
}

// Delay returns the back-off before retry number attempt (0-indexed).
func (r *RetryConfig) Delay(attempt int) time.Duration {
	jitter := r.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}
	return r.BaseDelay*time.Duration(1<<attempt) + jitter()
}

func (r *RetryConfig) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func defaultJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(time.Second)))
}
