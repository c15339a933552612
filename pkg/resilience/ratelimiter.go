package resilience

import (
	"sync"
	"time"
)

// SlidingWindowLimiter enforces "at most N calls per rolling period" for a
// single client. It keeps the timestamps of recent calls and prunes entries
// older than the period on every check.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	service string
	limit   int
	period  time.Duration
	calls   []time.Time
}

// NewSlidingWindowLimiter creates a limiter allowing limit calls per period.
// A non-positive limit or period disables limiting entirely.
func NewSlidingWindowLimiter(service string, limit int, period time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		service: service,
		limit:   limit,
		period:  period,
	}
}

// Reserve records one call against the window. If the quota is already
// exhausted it returns a *RateLimitError whose RetryAfter is computed from
// the oldest in-window call, and records nothing.
func (l *SlidingWindowLimiter) Reserve() error {
	if l.limit <= 0 || l.period <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.prune(now)

	if len(l.calls) >= l.limit {
		oldest := l.calls[0]
		return &RateLimitError{
			Service:    l.service,
			RetryAfter: l.period - now.Sub(oldest),
		}
	}

	l.calls = append(l.calls, now)
	return nil
}

// InWindow returns the number of calls currently counted against the window.
func (l *SlidingWindowLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.calls)
}

// prune drops timestamps that have aged out. Must be called with mu held.
// Entries are appended in time order, so the retained suffix keeps the
// oldest call at index 0.
func (l *SlidingWindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.period)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
