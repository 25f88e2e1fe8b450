package panel

import (
	"time"

	"xsell/logger"
)

// RetryConfig bounds the generic retry wrapper applied to panel calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetry is the policy used for all remote panel mutations and reads.
var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
}

// Backoff returns the delay before the given zero-based attempt:
// base doubled per attempt already made.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// withRetry runs op up to cfg.MaxAttempts times, sleeping an exponential
// backoff between attempts. Only retryable failures (network, 5xx) are
// retried; auth, not-found and validation errors return immediately.
func withRetry[T any](cfg RetryConfig, op string, fn func() (T, error)) (T, error) {
	var result T
	var err error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(cfg.Backoff(attempt - 1))
		}
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return result, err
		}
		logger.Debugf("panel %s attempt %d/%d failed: %v", op, attempt+1, cfg.MaxAttempts, err)
	}
	return result, err
}
