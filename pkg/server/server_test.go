package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcanabot/llm-gateway/pkg/cache"
	"github.com/arcanabot/llm-gateway/pkg/gateway"
	"github.com/arcanabot/llm-gateway/pkg/provider"
	"github.com/arcanabot/llm-gateway/pkg/resilience"
)

type stubProvider struct {
	id  string
	err error
}

func (s *stubProvider) ID() string { return s.id }

func (s *stubProvider) Generate(context.Context, provider.Request) (provider.Response, error) {
	if s.err != nil {
		return provider.Response{}, s.err
	}
	return provider.Response{
		Content:  "The Star heralds hope.",
		Provider: s.id,
		Model:    "stub-model",
		Usage:    provider.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (s *stubProvider) UsageStats() provider.UsageStats { return provider.UsageStats{} }

func newTestServer(t *testing.T, providers ...provider.Provider) *Server {
	t.Helper()
	cm := cache.NewManager(cache.NewMemoryBackend(100), time.Minute, zap.NewNop())
	gw, err := gateway.New(gateway.Config{}, providers, cm, zap.NewNop())
	require.NoError(t, err)
	return New(Config{}, gw, zap.NewNop())
}

func postGenerate(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Generate(t *testing.T) {
	s := newTestServer(t, &stubProvider{id: provider.OpenAI})

	rec := postGenerate(t, s, `{"prompt":"Interpret the Star","type":"tarot_interpretation"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var out generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "The Star heralds hope.", out.Content)
	assert.Equal(t, provider.OpenAI, out.Provider)
	assert.Equal(t, 30, out.Usage.TotalTokens)
	assert.False(t, out.Cached)
}

func TestServer_GenerateCachedFlag(t *testing.T) {
	s := newTestServer(t, &stubProvider{id: provider.OpenAI})
	body := `{"prompt":"Interpret the Star","type":"tarot_interpretation"}`

	require.Equal(t, http.StatusOK, postGenerate(t, s, body).Code)
	rec := postGenerate(t, s, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var out generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Cached)
}

func TestServer_GenerateInvalidJSON(t *testing.T) {
	s := newTestServer(t, &stubProvider{id: provider.OpenAI})

	rec := postGenerate(t, s, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "invalid_json", out.Kind)
}

func TestServer_GenerateEmptyPrompt(t *testing.T) {
	s := newTestServer(t, &stubProvider{id: provider.OpenAI})

	rec := postGenerate(t, s, `{"prompt":"","type":"question_answer"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "invalid_request", out.Kind)
}

func TestServer_GenerateTokenLimit(t *testing.T) {
	s := newTestServer(t, &stubProvider{
		id:  provider.OpenAI,
		err: &provider.TokenLimitError{Provider: provider.OpenAI, Model: "gpt-4", Estimated: 9000, Limit: 8192},
	})

	rec := postGenerate(t, s, `{"prompt":"long","type":"question_answer"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "token_limit_exceeded", out.Kind)
}

func TestServer_GenerateRateLimited(t *testing.T) {
	s := newTestServer(t, &stubProvider{
		id:  provider.OpenAI,
		err: &resilience.RateLimitError{Service: "openai", RetryAfter: 30 * time.Second},
	})

	rec := postGenerate(t, s, `{"prompt":"hi","type":"question_answer"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestServer_GenerateAllProvidersFailed(t *testing.T) {
	s := newTestServer(t,
		&stubProvider{id: provider.OpenAI, err: &resilience.UpstreamError{Service: "openai", StatusCode: 500}},
		&stubProvider{id: provider.Anthropic, err: &resilience.UpstreamError{Service: "anthropic", StatusCode: 503}},
	)

	rec := postGenerate(t, s, `{"prompt":"hi","type":"question_answer"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "all_providers_failed", out.Kind)
	assert.Contains(t, out.Error, "openai")
	assert.Contains(t, out.Error, "anthropic")
}

func TestServer_Stats(t *testing.T) {
	s := newTestServer(t, &stubProvider{id: provider.OpenAI})

	postGenerate(t, s, `{"prompt":"hi","type":"question_answer"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out gateway.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, int64(1), out.TotalRequests)
}

func TestServer_Providers(t *testing.T) {
	s := newTestServer(t, &stubProvider{id: provider.OpenAI}, &stubProvider{id: provider.Anthropic})

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]gateway.HealthSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 2)
	assert.True(t, out[provider.OpenAI].Available)
}

func TestServer_InvalidateTag(t *testing.T) {
	s := newTestServer(t, &stubProvider{id: provider.OpenAI})

	postGenerate(t, s, `{"prompt":"hi","type":"question_answer"}`)

	req := httptest.NewRequest(http.MethodDelete, "/v1/cache/tags/llm", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, float64(1), out["invalidated"])

	// The next identical request misses the cache.
	rec2 := postGenerate(t, s, `{"prompt":"hi","type":"question_answer"}`)
	var gen generateResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &gen))
	assert.False(t, gen.Cached)
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, &stubProvider{id: provider.OpenAI})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestIDPassthrough(t *testing.T) {
	s := newTestServer(t, &stubProvider{id: provider.OpenAI})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id-7")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "caller-id-7", rec.Header().Get("X-Request-ID"))
}
