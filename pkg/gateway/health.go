package gateway

import (
	"sync"
	"time"
)

// HealthConfig tunes provider health tracking.
type HealthConfig struct {
	DisableThreshold  int           // Consecutive failures before a provider is marked down (default: 5)
	RecoveryInterval  time.Duration // Time since last failure before a down provider self-heals (default: 5m)
	RateLimitCooldown time.Duration // How long a rate-limited provider stays down (default: 1m)
}

func (c *HealthConfig) applyDefaults() {
	if c.DisableThreshold <= 0 {
		c.DisableThreshold = 5
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = 5 * time.Minute
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = time.Minute
	}
}

type providerHealth struct {
	available        bool
	failureStreak    int
	successStreak    int
	totalRequests    int64
	totalFailures    int64
	totalLatency     time.Duration
	lastFailure      time.Time
	rateLimitedUntil time.Time
}

// HealthSnapshot is the read-only view of one provider's health.
type HealthSnapshot struct {
	Available     bool          `json:"available"`
	FailureStreak int           `json:"failure_streak"`
	SuccessStreak int           `json:"success_streak"`
	TotalRequests int64         `json:"total_requests"`
	TotalFailures int64         `json:"total_failures"`
	ErrorRate     float64       `json:"error_rate"`
	AvgLatency    time.Duration `json:"avg_latency"`
	RateLimited   bool          `json:"rate_limited"`
}

// HealthTracker maintains per-provider availability, error rates and
// latency. It is the only writer of this state; the selector reads it.
// Safe for concurrent use.
type HealthTracker struct {
	cfg HealthConfig

	mu        sync.Mutex
	providers map[string]*providerHealth
}

// NewHealthTracker creates a tracker for the given provider IDs, all
// initially available.
func NewHealthTracker(cfg HealthConfig, providerIDs []string) *HealthTracker {
	cfg.applyDefaults()
	t := &HealthTracker{
		cfg:       cfg,
		providers: make(map[string]*providerHealth, len(providerIDs)),
	}
	for _, id := range providerIDs {
		t.providers[id] = &providerHealth{available: true}
	}
	return t
}

// RecordSuccess notes a successful call. The failure streak decays by one
// rather than resetting, so a provider flapping between success and failure
// does not look perfectly healthy.
func (t *HealthTracker) RecordSuccess(provider string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.providers[provider]
	if !ok {
		return
	}
	h.totalRequests++
	h.totalLatency += latency
	h.successStreak++
	if h.failureStreak > 0 {
		h.failureStreak--
	}
	h.available = true
}

// RecordFailure notes a failed call. Rate-limit failures additionally put
// the provider in a cooldown window independent of the failure streak.
func (t *HealthTracker) RecordFailure(provider string, isRateLimit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.providers[provider]
	if !ok {
		return
	}
	now := time.Now()
	h.totalRequests++
	h.totalFailures++
	h.failureStreak++
	h.successStreak = 0
	h.lastFailure = now

	if h.failureStreak >= t.cfg.DisableThreshold {
		h.available = false
	}
	if isRateLimit {
		h.rateLimitedUntil = now.Add(t.cfg.RateLimitCooldown)
	}
}

// IsAvailable reports whether a provider may be tried. A provider that has
// been down longer than the recovery interval self-heals here.
func (t *HealthTracker) IsAvailable(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.providers[provider]
	if !ok {
		return false
	}
	now := time.Now()
	if now.Before(h.rateLimitedUntil) {
		return false
	}
	if !h.available && now.Sub(h.lastFailure) >= t.cfg.RecoveryInterval {
		h.available = true
		h.failureStreak = 0
	}
	return h.available
}

// ErrorRate returns the provider's lifetime failure ratio.
func (t *HealthTracker) ErrorRate(provider string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.providers[provider]
	if !ok || h.totalRequests == 0 {
		return 0
	}
	return float64(h.totalFailures) / float64(h.totalRequests)
}

// AvgLatency returns the provider's mean successful-call latency.
func (t *HealthTracker) AvgLatency(provider string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.providers[provider]
	if !ok {
		return 0
	}
	succeeded := h.totalRequests - h.totalFailures
	if succeeded <= 0 {
		return 0
	}
	return h.totalLatency / time.Duration(succeeded)
}

// FailureTotal returns the provider's lifetime failure count.
func (t *HealthTracker) FailureTotal(provider string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.providers[provider]; ok {
		return h.totalFailures
	}
	return 0
}

// Snapshot returns a copy of every provider's health.
func (t *HealthTracker) Snapshot() map[string]HealthSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	out := make(map[string]HealthSnapshot, len(t.providers))
	for id, h := range t.providers {
		s := HealthSnapshot{
			Available:     h.available,
			FailureStreak: h.failureStreak,
			SuccessStreak: h.successStreak,
			TotalRequests: h.totalRequests,
			TotalFailures: h.totalFailures,
			RateLimited:   now.Before(h.rateLimitedUntil),
		}
		if h.totalRequests > 0 {
			s.ErrorRate = float64(h.totalFailures) / float64(h.totalRequests)
		}
		if succeeded := h.totalRequests - h.totalFailures; succeeded > 0 {
			s.AvgLatency = h.totalLatency / time.Duration(succeeded)
		}
		out[id] = s
	}
	return out
}

// MarkUnavailable forces a provider down, for tests and manual draining.
func (t *HealthTracker) MarkUnavailable(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.providers[provider]; ok {
		h.available = false
		h.lastFailure = time.Now()
	}
}
