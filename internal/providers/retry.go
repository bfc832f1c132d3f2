package providers

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig controls retry behaviour for transient upstream failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig retries twice with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// httpError marks a failed upstream call with its status code so the retry
// loop can distinguish transient (429/5xx) from permanent failures.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.status, e.body)
}

func retryable(err error) bool {
	he, ok := err.(*httpError)
	if !ok {
		return false
	}
	return he.status == 429 || he.status >= 500
}

// retryDo runs fn up to cfg.MaxAttempts times, backing off between
// retryable failures. Context cancellation aborts immediately.
func retryDo(ctx context.Context, cfg RetryConfig, fn func() (*ChatResponse, error)) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}
