// Package resilience provides the resiliency primitives shared by all
// outbound clients: sliding-window rate limiting, circuit breaking, bounded
// retry with exponential backoff, a request-level response cache, and
// queryable per-client metrics.
package resilience

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arcanabot/llm-gateway/pkg/metrics"
)

// ClientConfig holds configuration for a resilient HTTP client.
type ClientConfig struct {
	Name             string        // Client identifier for errors, logs, metrics
	BaseURL          string        // Upstream base URL, no trailing slash
	Timeout          time.Duration // Hard per-call timeout (default: 30s)
	Retry            RetryConfig
	Circuit          CircuitBreakerConfig
	RateLimitCalls   int           // Max calls per RateLimitPeriod; 0 disables
	RateLimitPeriod  time.Duration
	RequestCacheTTL  time.Duration // TTL for cached idempotent responses; 0 disables
	RequestCacheSize int           // Max cached responses (default: 1000)
}

// Client wraps outbound HTTP calls to one upstream with rate limiting,
// circuit breaking, bounded retry and an optional response cache for
// idempotent calls. It is safe for concurrent use.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *SlidingWindowLimiter
	breaker    *CircuitBreaker
	retry      RetryConfig
	reqCache   *requestCache
	log        *zap.Logger

	mu           sync.Mutex
	totalCalls   int64
	totalErrors  int64
	totalLatency time.Duration
}

// ClientMetrics is a point-in-time snapshot of a client's counters.
type ClientMetrics struct {
	TotalCalls    int64         `json:"total_calls"`
	TotalErrors   int64         `json:"total_errors"`
	ErrorRate     float64       `json:"error_rate"`
	AvgLatency    time.Duration `json:"avg_latency"`
	CircuitState  string        `json:"circuit_state"`
	Rejected      int64         `json:"circuit_rejected"`
	CacheSize     int           `json:"request_cache_size"`
	InWindowCalls int           `json:"rate_limit_in_window"`
}

// NewClient creates a resilient client for one upstream service.
func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestCacheSize <= 0 {
		cfg.RequestCacheSize = 1000
	}

	c := &Client{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    NewSlidingWindowLimiter(cfg.Name, cfg.RateLimitCalls, cfg.RateLimitPeriod),
		breaker:    NewCircuitBreaker(cfg.Circuit),
		retry:      cfg.Retry,
		log:        log.Named(cfg.Name),
	}
	if cfg.RequestCacheTTL > 0 {
		c.reqCache = newRequestCache(cfg.RequestCacheSize, cfg.RequestCacheTTL)
	}
	return c
}

// GetJSON performs a GET request and decodes the JSON response into out.
// Responses are served from the bounded request cache when fresh.
func (c *Client) GetJSON(ctx context.Context, path string, headers map[string]string, out any) error {
	return c.do(ctx, http.MethodGet, path, headers, nil, out, true)
}

// PostJSON performs a POST request with a JSON body and decodes the JSON
// response into out. POST calls are never served from the request cache.
func (c *Client) PostJSON(ctx context.Context, path string, headers map[string]string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, headers, body, out, false)
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any, useCache bool) error {
	// Local admission checks run before any network attempt. The rate
	// window records the call immediately so a later cancellation cannot
	// un-count it.
	if err := c.limiter.Reserve(); err != nil {
		metrics.RateLimitedTotal.WithLabelValues(c.name).Inc()
		return err
	}
	if err := c.breaker.Allow(); err != nil {
		metrics.CircuitBreakerState.WithLabelValues(c.name).Set(float64(c.breaker.State()))
		return fmt.Errorf("%s: %w", c.name, err)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
	}

	cacheable := useCache && method == http.MethodGet && c.reqCache != nil
	var cacheKey string
	if cacheable {
		cacheKey = requestCacheKey(method, path, payload)
		if data, ok := c.reqCache.get(cacheKey); ok {
			if out == nil {
				return nil
			}
			return json.Unmarshal(data, out)
		}
	}

	start := time.Now()
	c.mu.Lock()
	c.totalCalls++
	c.mu.Unlock()

	var respBody []byte
	err := RetryTransient(ctx, c.retry, func(ctx context.Context) error {
		var attemptErr error
		respBody, attemptErr = c.roundTrip(ctx, method, path, headers, payload)
		return attemptErr
	})

	latency := time.Since(start)
	c.mu.Lock()
	c.totalLatency += latency
	if err != nil {
		c.totalErrors++
	}
	c.mu.Unlock()

	if err != nil {
		// Rate-limit responses are handled by the window cooldown, not the
		// breaker; everything else counts toward tripping it.
		var rle *RateLimitError
		if !errors.As(err, &rle) {
			c.breaker.RecordFailure()
		}
		metrics.CircuitBreakerState.WithLabelValues(c.name).Set(float64(c.breaker.State()))
		c.log.Warn("upstream call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.Error(err))
		return err
	}

	c.breaker.RecordSuccess()
	metrics.CircuitBreakerState.WithLabelValues(c.name).Set(float64(c.breaker.State()))

	if cacheable {
		c.reqCache.set(cacheKey, respBody)
	}

	c.log.Debug("upstream call ok",
		zap.String("method", method),
		zap.String("path", path),
		zap.Duration("latency", latency))

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}

// roundTrip performs a single HTTP attempt and classifies the response.
func (c *Client) roundTrip(ctx context.Context, method, path string, headers map[string]string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: do request: %w", c.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			Service:    c.name,
			RetryAfter: retryAfterHint(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 400:
		return nil, &UpstreamError{
			Service:    c.name,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data), 512),
		}
	}

	return data, nil
}

// Metrics returns a snapshot of the client's counters.
func (c *Client) Metrics() ClientMetrics {
	c.mu.Lock()
	calls := c.totalCalls
	errs := c.totalErrors
	total := c.totalLatency
	c.mu.Unlock()

	m := ClientMetrics{
		TotalCalls:    calls,
		TotalErrors:   errs,
		CircuitState:  c.breaker.State().String(),
		Rejected:      c.breaker.Rejected(),
		InWindowCalls: c.limiter.InWindow(),
	}
	if calls > 0 {
		m.ErrorRate = float64(errs) / float64(calls)
		m.AvgLatency = total / time.Duration(calls)
	}
	if c.reqCache != nil {
		m.CacheSize = c.reqCache.len()
	}
	return m
}

// Name returns the client identifier.
func (c *Client) Name() string { return c.name }

// retryAfterHint parses a Retry-After header value in seconds, defaulting
// to one minute when absent or unparseable.
func retryAfterHint(v string) time.Duration {
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Minute
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// requestCacheKey derives a deterministic key from the request shape.
func requestCacheKey(method, path string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// requestCache is a bounded TTL cache for idempotent responses with
// oldest-entry eviction.
type requestCache struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	entries map[string]requestCacheEntry
	order   []string // insertion order, oldest first
}

type requestCacheEntry struct {
	data    []byte
	expires time.Time
}

func newRequestCache(max int, ttl time.Duration) *requestCache {
	return &requestCache{
		max:     max,
		ttl:     ttl,
		entries: make(map[string]requestCacheEntry),
	}
}

func (rc *requestCache) get(key string) ([]byte, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	e, ok := rc.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(rc.entries, key)
		return nil, false
	}
	return e.data, true
}

func (rc *requestCache) set(key string, data []byte) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.entries[key]; !exists {
		for len(rc.entries) >= rc.max && len(rc.order) > 0 {
			oldest := rc.order[0]
			rc.order = rc.order[1:]
			delete(rc.entries, oldest)
		}
		rc.order = append(rc.order, key)
	}
	rc.entries[key] = requestCacheEntry{
		data:    data,
		expires: time.Now().Add(rc.ttl),
	}
}

func (rc *requestCache) len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}
