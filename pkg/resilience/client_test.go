package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func newTestClient(t *testing.T, url string, cfg ClientConfig) *Client {
	t.Helper()
	cfg.Name = "test"
	cfg.BaseURL = url
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fastRetry(1)
	}
	return NewClient(cfg, zap.NewNop())
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ClientConfig{Retry: fastRetry(3)})

	var out struct {
		Message string `json:"message"`
	}
	err := c.PostJSON(context.Background(), "/v1/thing", nil, map[string]string{"a": "b"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Message)
	assert.Equal(t, int64(3), hits.Load())

	m := c.Metrics()
	assert.Equal(t, int64(1), m.TotalCalls)
	assert.Equal(t, int64(0), m.TotalErrors)
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ClientConfig{Retry: fastRetry(3)})

	err := c.PostJSON(context.Background(), "/v1/thing", nil, nil, nil)
	require.Error(t, err)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusBadRequest, ue.StatusCode)
	assert.Equal(t, int64(1), hits.Load(), "4xx must not be retried")
}

func TestClient_RateLimitResponseCarriesRetryAfter(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ClientConfig{Retry: fastRetry(3)})

	err := c.PostJSON(context.Background(), "/v1/thing", nil, nil, nil)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 17*time.Second, rle.RetryAfter)
	assert.Equal(t, int64(1), hits.Load(), "429 must not be retried locally")
}

func TestClient_LocalRateLimitBlocksBeforeNetwork(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ClientConfig{
		RateLimitCalls:  2,
		RateLimitPeriod: time.Hour,
	})

	require.NoError(t, c.PostJSON(context.Background(), "/", nil, nil, nil))
	require.NoError(t, c.PostJSON(context.Background(), "/", nil, nil, nil))

	err := c.PostJSON(context.Background(), "/", nil, nil, nil)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, int64(2), hits.Load(), "third call must never reach the network")
}

func TestClient_CircuitOpenFailsFast(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ClientConfig{
		Retry:   fastRetry(1),
		Circuit: CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour},
	})

	require.Error(t, c.PostJSON(context.Background(), "/", nil, nil, nil))
	sent := hits.Load()

	err := c.PostJSON(context.Background(), "/", nil, nil, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, sent, hits.Load(), "open circuit must not produce network attempts")
	assert.Equal(t, "open", c.Metrics().CircuitState)
}

func TestClient_IdempotentResponseCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ClientConfig{RequestCacheTTL: time.Minute})

	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/v1/models", nil, &out))
	require.NoError(t, c.GetJSON(context.Background(), "/v1/models", nil, &out))

	assert.Equal(t, 42, out.Value)
	assert.Equal(t, int64(1), hits.Load(), "second GET must be served from cache")
	assert.Equal(t, 1, c.Metrics().CacheSize)
}

func TestClient_MetricsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, ClientConfig{Retry: fastRetry(1)})

	_ = c.PostJSON(context.Background(), "/", nil, nil, nil)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.TotalCalls)
	assert.Equal(t, int64(1), m.TotalErrors)
	assert.Equal(t, 1.0, m.ErrorRate)
	assert.Greater(t, m.AvgLatency, time.Duration(0))
}

func TestRequestCache_EvictsOldestAtCapacity(t *testing.T) {
	rc := newRequestCache(2, time.Minute)

	rc.set("a", []byte("1"))
	rc.set("b", []byte("2"))
	rc.set("c", []byte("3"))

	_, ok := rc.get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = rc.get("b")
	assert.True(t, ok)
	_, ok = rc.get("c")
	assert.True(t, ok)
}
