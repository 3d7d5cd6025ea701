package gateway

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryPolicy configures retry behavior for transient provider failures.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, not additional retries
	BaseDelay   time.Duration // doubles after each failed attempt
	MaxDelay    time.Duration // backoff cap; zero means uncapped
}

// DefaultRetryPolicy returns sensible retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    8 * time.Second,
	}
}

// withRetry executes fn with exponential backoff on transient failures.
// Permanent failures surface immediately. The returned attempt count is the
// number of calls actually made, including the successful one.
func withRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (string, error)) (string, int, error) {
	attempts := 0
	var lastErr error

	for attempts < policy.MaxAttempts {
		select {
		case <-ctx.Done():
			return "", attempts, ctx.Err()
		default:
		}

		attempts++
		text, err := fn(ctx)
		if err == nil {
			return text, attempts, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return "", attempts, fmt.Errorf("%w: %w", ErrCallFailed, err)
		}
		if attempts < policy.MaxAttempts {
			backoff := policy.backoff(attempts - 1)
			select {
			case <-ctx.Done():
				return "", attempts, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", attempts, fmt.Errorf("%w after %d attempts: %w", ErrCallFailed, attempts, lastErr)
}

// backoff computes the delay after the given zero-based failed attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}
