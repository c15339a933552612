// Package server exposes the gateway over HTTP: generation, stats,
// provider health, cache invalidation and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arcanabot/llm-gateway/pkg/gateway"
	"github.com/arcanabot/llm-gateway/pkg/provider"
	"github.com/arcanabot/llm-gateway/pkg/resilience"
)

// Config tunes the HTTP server.
type Config struct {
	Addr           string        // Listen address (default: ":8080")
	RequestTimeout time.Duration // Hard deadline per generation request (default: 60s)
}

// Server wires the gateway into an HTTP API.
type Server struct {
	gw      *gateway.Gateway
	log     *zap.Logger
	timeout time.Duration
	router  chi.Router
}

// New creates the HTTP server around a gateway.
func New(cfg Config, gw *gateway.Gateway, log *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		gw:      gw,
		log:     log.Named("http"),
		timeout: cfg.RequestTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Get("/stats", s.handleStats)
		r.Get("/providers", s.handleProviders)
		r.Delete("/cache/tags/{tag}", s.handleInvalidateTag)
	})
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

type generateRequest struct {
	Prompt          string            `json:"prompt"`
	Type            string            `json:"type"`
	Priority        string            `json:"priority,omitempty"`
	Model           string            `json:"model,omitempty"`
	MaxTokens       int               `json:"max_tokens,omitempty"`
	Temperature     float64           `json:"temperature,omitempty"`
	SystemPrompt    string            `json:"system_prompt,omitempty"`
	Context         map[string]string `json:"context,omitempty"`
	Preferred       string            `json:"preferred_provider,omitempty"`
	CacheTTLSeconds int               `json:"cache_ttl_seconds,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type generateResponse struct {
	Content          string            `json:"content"`
	Provider         string            `json:"provider"`
	Model            string            `json:"model"`
	Usage            provider.Usage    `json:"usage"`
	Cached           bool              `json:"cached"`
	GenerationTimeMs int64             `json:"generation_time_ms"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var in generateRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	resp, err := s.gw.Generate(ctx, provider.Request{
		Prompt:       in.Prompt,
		Type:         provider.GenerationType(in.Type),
		Priority:     provider.Priority(in.Priority),
		Model:        in.Model,
		MaxTokens:    in.MaxTokens,
		Temperature:  in.Temperature,
		SystemPrompt: in.SystemPrompt,
		Context:      in.Context,
		Preferred:    in.Preferred,
		CacheTTL:     time.Duration(in.CacheTTLSeconds) * time.Second,
		Metadata:     in.Metadata,
	})
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}

	if resp.Metadata == nil {
		resp.Metadata = make(map[string]string)
	}
	resp.Metadata["request_id"] = w.Header().Get("X-Request-ID")

	writeJSON(w, http.StatusOK, generateResponse{
		Content:          resp.Content,
		Provider:         resp.Provider,
		Model:            resp.Model,
		Usage:            resp.Usage,
		Cached:           resp.Cached,
		GenerationTimeMs: resp.GenerationTime.Milliseconds(),
		Metadata:         resp.Metadata,
	})
}

// writeGenerateError maps the gateway's error taxonomy onto HTTP statuses.
func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	var (
		tle *provider.TokenLimitError
		rle *resilience.RateLimitError
		fe  *gateway.FallbackError
	)
	switch {
	case errors.As(err, &tle):
		writeError(w, http.StatusUnprocessableEntity, "token_limit_exceeded", err)
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "rate_limited", err)
	case errors.Is(err, gateway.ErrAllProvidersUnavailable):
		writeError(w, http.StatusServiceUnavailable, "all_providers_unavailable", err)
	case errors.As(err, &fe):
		writeError(w, http.StatusBadGateway, "all_providers_failed", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Stats())
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Health())
}

func (s *Server) handleInvalidateTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	n, err := s.gw.InvalidateTag(r.Context(), tag)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "invalidation_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tag": tag, "invalidated": n})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", w.Header().Get("X-Request-ID")))
	})
}

// requestID attaches a UUID to every request unless the caller sent one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}
