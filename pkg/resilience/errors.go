package resilience

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call
// before any network attempt is made.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// RateLimitError is returned when the local sliding-window quota is
// exhausted, or when the upstream responds with 429. RetryAfter tells the
// caller how long to wait before the quota frees up.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limit exceeded, retry after %s", e.Service, e.RetryAfter)
}

// ResetAt returns the wall-clock time when the quota frees up.
func (e *RateLimitError) ResetAt() time.Time {
	return time.Now().Add(e.RetryAfter)
}

// UpstreamError represents a non-2xx response from the upstream service.
// 5xx responses are transient and eligible for retry; other 4xx responses
// are permanent.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Transient reports whether the error is worth retrying.
func (e *UpstreamError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == 408
}
