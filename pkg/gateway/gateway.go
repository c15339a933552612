// Package gateway is the single entry point for LLM generation: it checks
// the response cache, orders provider candidates by health, orchestrates
// fallback across them and aggregates usage statistics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arcanabot/llm-gateway/pkg/cache"
	"github.com/arcanabot/llm-gateway/pkg/metrics"
	"github.com/arcanabot/llm-gateway/pkg/provider"
	"github.com/arcanabot/llm-gateway/pkg/resilience"
)

// ResponseTag groups every cached generation; per-type tags are derived
// with TypeTag.
const ResponseTag = "llm"

// TypeTag returns the cache tag grouping all responses of one generation
// type.
func TypeTag(t provider.GenerationType) string {
	return ResponseTag + ":" + string(t)
}

// outcome classifies one provider attempt for the fallback loop.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeTransient        // try the next candidate
	outcomeFatal            // stop, no further candidates
)

// Config tunes the gateway.
type Config struct {
	Health          HealthConfig
	DefaultCacheTTL time.Duration // TTL for cached responses without an explicit Request.CacheTTL (default: 1h)
}

// Stats aggregates the gateway's lifetime counters.
type Stats struct {
	TotalRequests int64                          `json:"total_requests"`
	CacheHits     int64                          `json:"cache_hits"`
	Failures      int64                          `json:"failures"`
	EstimatedCost float64                        `json:"estimated_cost"`
	Providers     map[string]provider.UsageStats      `json:"providers"`
	Clients       map[string]resilience.ClientMetrics `json:"clients,omitempty"`
	Health        map[string]HealthSnapshot           `json:"health"`
	Cache         cache.Stats                         `json:"cache"`
}

// Gateway routes generation requests across providers with caching,
// health-based selection and fallback. Construct with New; safe for
// concurrent use.
type Gateway struct {
	providers []provider.Provider
	byID      map[string]provider.Provider
	health    *HealthTracker
	sel       *selector
	cache     *cache.Manager
	cfg       Config
	log       *zap.Logger

	mu            sync.Mutex
	totalRequests int64
	cacheHits     int64
	failures      int64
}

// New creates a gateway over the given providers. At least one provider
// is required.
func New(cfg Config, providers []provider.Provider, cm *cache.Manager, log *zap.Logger) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, errors.New("gateway: at least one provider required")
	}
	if cfg.DefaultCacheTTL <= 0 {
		cfg.DefaultCacheTTL = time.Hour
	}

	ids := make([]string, len(providers))
	byID := make(map[string]provider.Provider, len(providers))
	for i, p := range providers {
		ids[i] = p.ID()
		byID[p.ID()] = p
	}
	health := NewHealthTracker(cfg.Health, ids)

	return &Gateway{
		providers: providers,
		byID:      byID,
		health:    health,
		sel:       &selector{health: health, providers: providers},
		cache:     cm,
		cfg:       cfg,
		log:       log.Named("gateway"),
	}, nil
}

// Generate serves one generation request: response cache first, then the
// ordered provider candidates with fallback.
func (g *Gateway) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	if err := validate(req); err != nil {
		return provider.Response{}, err
	}

	metrics.ActiveRequests.Inc()
	defer metrics.ActiveRequests.Dec()

	g.mu.Lock()
	g.totalRequests++
	g.mu.Unlock()

	lookupStart := time.Now()
	key := responseCacheKey(req)
	var cached provider.Response
	if found, err := g.cache.Get(ctx, key, &cached); err == nil && found {
		g.mu.Lock()
		g.cacheHits++
		g.mu.Unlock()
		cached.Cached = true
		metrics.GenerationsTotal.WithLabelValues("cache_hit").Inc()
		metrics.GenerationLatency.WithLabelValues(cached.Provider, cached.Model, "hit").Observe(time.Since(lookupStart).Seconds())
		return cached, nil
	}

	candidates, err := g.sel.candidates(req)
	if err != nil {
		g.countFailure()
		return provider.Response{}, err
	}

	var attempts []Attempt
	for _, p := range candidates {
		if ctx.Err() != nil {
			g.countFailure()
			return provider.Response{}, ctx.Err()
		}

		start := time.Now()
		resp, genErr := p.Generate(ctx, req)
		elapsed := time.Since(start)

		switch classify(genErr) {
		case outcomeSuccess:
			g.health.RecordSuccess(p.ID(), elapsed)
			metrics.ProviderAttemptsTotal.WithLabelValues(p.ID(), "success").Inc()
			metrics.GenerationsTotal.WithLabelValues("success").Inc()
			metrics.GenerationLatency.WithLabelValues(p.ID(), resp.Model, "miss").Observe(elapsed.Seconds())

			resp.GenerationTime = elapsed
			g.store(ctx, key, req, resp)
			return resp, nil

		case outcomeFatal:
			g.recordAttemptFailure(p.ID(), genErr)
			g.countFailure()
			metrics.GenerationsTotal.WithLabelValues("error").Inc()
			return provider.Response{}, genErr

		case outcomeTransient:
			g.recordAttemptFailure(p.ID(), genErr)
			attempts = append(attempts, Attempt{Provider: p.ID(), Err: genErr})
			g.log.Warn("provider attempt failed, falling back",
				zap.String("provider", p.ID()),
				zap.Duration("latency", elapsed),
				zap.Error(genErr))
		}
	}

	g.countFailure()
	metrics.GenerationsTotal.WithLabelValues("error").Inc()
	return provider.Response{}, &FallbackError{Attempts: attempts}
}

// classify maps a provider error onto the fallback loop's outcomes.
// Token-limit errors are a property of the request, so no other provider
// can do better; cancellation belongs to the caller.
func classify(err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	var tle *provider.TokenLimitError
	if errors.As(err, &tle) {
		return outcomeFatal
	}
	if errors.Is(err, context.Canceled) {
		return outcomeFatal
	}
	return outcomeTransient
}

func (g *Gateway) recordAttemptFailure(providerID string, err error) {
	var rle *resilience.RateLimitError
	isRateLimit := errors.As(err, &rle)
	g.health.RecordFailure(providerID, isRateLimit)

	label := "error"
	if isRateLimit {
		label = "rate_limited"
	}
	metrics.ProviderAttemptsTotal.WithLabelValues(providerID, label).Inc()
}

func (g *Gateway) store(ctx context.Context, key string, req provider.Request, resp provider.Response) {
	ttl := req.CacheTTL
	if ttl <= 0 {
		ttl = g.cfg.DefaultCacheTTL
	}
	if err := g.cache.Set(ctx, key, resp, ttl, ResponseTag, TypeTag(req.Type)); err != nil {
		g.log.Warn("response cache store failed", zap.Error(err))
	}
}

func (g *Gateway) countFailure() {
	g.mu.Lock()
	g.failures++
	g.mu.Unlock()
}

// InvalidateType drops every cached response of one generation type,
// for example after its system prompt changed.
func (g *Gateway) InvalidateType(ctx context.Context, t provider.GenerationType) (int, error) {
	return g.cache.InvalidateTag(ctx, TypeTag(t))
}

// InvalidateTag drops every cached entry under an arbitrary tag.
func (g *Gateway) InvalidateTag(ctx context.Context, tag string) (int, error) {
	return g.cache.InvalidateTag(ctx, tag)
}

// Health returns the current per-provider health snapshots.
func (g *Gateway) Health() map[string]HealthSnapshot {
	return g.health.Snapshot()
}

// Stats returns the gateway's aggregate usage counters.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	s := Stats{
		TotalRequests: g.totalRequests,
		CacheHits:     g.cacheHits,
		Failures:      g.failures,
	}
	g.mu.Unlock()

	s.Providers = make(map[string]provider.UsageStats, len(g.providers))
	s.Clients = make(map[string]resilience.ClientMetrics)
	for _, p := range g.providers {
		u := p.UsageStats()
		s.Providers[p.ID()] = u
		s.EstimatedCost += u.EstimatedCost
		if cm, ok := p.(interface{ ClientMetrics() resilience.ClientMetrics }); ok {
			s.Clients[p.ID()] = cm.ClientMetrics()
		}
	}
	s.Health = g.health.Snapshot()
	s.Cache = g.cache.Stats()
	return s
}

func validate(req provider.Request) error {
	if req.Prompt == "" {
		return errors.New("gateway: empty prompt")
	}
	if req.Preferred != "" {
		if _, ok := knownProvider(req.Preferred); !ok {
			return fmt.Errorf("gateway: unknown preferred provider %q", req.Preferred)
		}
	}
	return nil
}

func knownProvider(id string) (string, bool) {
	for _, known := range provider.KnownProviders {
		if id == known {
			return id, true
		}
	}
	return "", false
}

// responseCacheKey hashes only the fields that change the generated
// content, so equivalent requests share an entry regardless of priority,
// preferred provider or metadata.
func responseCacheKey(req provider.Request) string {
	canonical, _ := json.Marshal(struct {
		Prompt       string                  `json:"prompt"`
		Type         provider.GenerationType `json:"type"`
		SystemPrompt string                  `json:"system_prompt"`
		Temperature  float64                 `json:"temperature"`
		MaxTokens    int                     `json:"max_tokens"`
	}{req.Prompt, req.Type, req.SystemPrompt, req.Temperature, req.MaxTokens})
	return cache.Key(ResponseTag, string(canonical))
}
