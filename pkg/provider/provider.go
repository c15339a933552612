// Package provider defines the LLM provider interface, the shared request
// and response types, and the concrete OpenAI and Anthropic clients.
package provider

import (
	"context"
	"time"
)

// Provider identifiers. The set is closed; the gateway rejects anything else.
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
)

// KnownProviders lists every provider ID the gateway can route to.
var KnownProviders = []string{OpenAI, Anthropic}

// GenerationType classifies what kind of content is being generated and
// drives model selection, prompt assembly and cache grouping.
type GenerationType string

const (
	TarotInterpretation GenerationType = "tarot_interpretation"
	AstroForecast       GenerationType = "astro_forecast"
	NatalChartAnalysis  GenerationType = "natal_chart_analysis"
	SynastryAnalysis    GenerationType = "synastry_analysis"
	QuestionAnswer      GenerationType = "question_answer"
	DailyHoroscope      GenerationType = "daily_horoscope"
)

// Heavy reports whether this generation type produces long analytical
// output and should go to larger-context models.
func (g GenerationType) Heavy() bool {
	return g == NatalChartAnalysis || g == SynastryAnalysis
}

// Priority expresses how much quality a request is willing to pay for.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Request is a single generation request as seen by providers and the
// gateway.
type Request struct {
	Prompt       string            `json:"prompt"`
	Type         GenerationType    `json:"type"`
	Priority     Priority          `json:"priority,omitempty"`
	Model        string            `json:"model,omitempty"`      // Explicit model override
	MaxTokens    int               `json:"max_tokens,omitempty"` // Output token cap (default 2048)
	Temperature  float64           `json:"temperature,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"` // Overrides the per-type default
	Context      map[string]string `json:"context,omitempty"`       // Appended to the system prompt
	Preferred    string            `json:"preferred,omitempty"`     // Provider tried first when available
	CacheTTL     time.Duration     `json:"cache_ttl,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Usage reports token consumption and the estimated cost of one call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// Response is a completed generation.
type Response struct {
	Content        string            `json:"content"`
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
	Usage          Usage             `json:"usage"`
	Cached         bool              `json:"cached"`
	GenerationTime time.Duration     `json:"generation_time"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// UsageStats aggregates a provider's lifetime counters.
type UsageStats struct {
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// Provider is a single upstream LLM service.
type Provider interface {
	// ID returns the provider identifier, one of KnownProviders.
	ID() string

	// Generate performs one complete generation call. The context carries
	// the per-request deadline.
	Generate(ctx context.Context, req Request) (Response, error)

	// UsageStats returns the provider's aggregate usage counters.
	UsageStats() UsageStats
}

// EstimateTokens approximates the token count of a text. The 4 bytes per
// token rule tracks real tokenizers closely enough for limit checks and
// model selection.
func EstimateTokens(text string) int {
	return len(text) / 4
}
