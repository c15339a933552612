package resilience

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the retry loop for transient failures.
type RetryConfig struct {
	MaxAttempts     int           // Total attempts including the first
	InitialInterval time.Duration // Delay before the first retry
	MaxInterval     time.Duration // Per-retry delay cap
	MaxElapsedTime  time.Duration // Total time budget across all attempts
}

// DefaultRetryConfig returns sensible defaults for retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  60 * time.Second,
	}
}

// RetryTransient executes op with exponential backoff until it succeeds,
// the attempt budget runs out, or op returns a non-transient error.
// Non-transient errors (4xx other than 408, rate limits, cancelled contexts)
// abort immediately and are returned as-is.
func RetryTransient(ctx context.Context, cfg RetryConfig, op func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		eb.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		eb.MaxInterval = cfg.MaxInterval
	}
	eb.MaxElapsedTime = cfg.MaxElapsedTime

	var b backoff.BackOff = backoff.WithContext(eb, ctx)
	if cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
	}

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// IsTransient reports whether an error is a transport-level failure worth
// retrying: network errors, timeouts, and 5xx upstream responses. Rate
// limits are not transient here; the caller is expected to move on to
// another provider instead of burning its attempt budget waiting.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return false
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne)
}
