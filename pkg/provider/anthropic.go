package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/arcanabot/llm-gateway/pkg/metrics"
	"github.com/arcanabot/llm-gateway/pkg/resilience"
)

const anthropicVersion = "2023-06-01"

var anthropicModels = map[string]ModelInfo{
	"claude-3-opus-20240229":   {ContextWindow: 200000, PromptPricePer1K: 0.015, OutputPricePer1K: 0.075},
	"claude-3-sonnet-20240229": {ContextWindow: 200000, PromptPricePer1K: 0.003, OutputPricePer1K: 0.015},
	"claude-3-haiku-20240307":  {ContextWindow: 200000, PromptPricePer1K: 0.00025, OutputPricePer1K: 0.00125},
	"claude-2.1":               {ContextWindow: 100000, PromptPricePer1K: 0.008, OutputPricePer1K: 0.024},
	"claude-instant-1.2":       {ContextWindow: 100000, PromptPricePer1K: 0.0008, OutputPricePer1K: 0.0024},
}

// AnthropicClient talks to the Anthropic Messages API through the shared
// resilient client.
type AnthropicClient struct {
	http *resilience.Client
	keys *resilience.KeyPool
	log  *zap.Logger

	mu    sync.Mutex
	stats UsageStats
}

// AnthropicConfig holds the Anthropic-specific settings.
type AnthropicConfig struct {
	APIKeys []string
	Client  resilience.ClientConfig
}

// NewAnthropicClient creates an Anthropic provider.
func NewAnthropicClient(cfg AnthropicConfig, log *zap.Logger) *AnthropicClient {
	if cfg.Client.Name == "" {
		cfg.Client.Name = Anthropic
	}
	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicClient{
		http: resilience.NewClient(cfg.Client, log),
		keys: resilience.NewKeyPool(cfg.APIKeys),
		log:  log.Named(Anthropic),
	}
}

func (c *AnthropicClient) ID() string { return Anthropic }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate performs one Messages API call.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = 2048
	}
	if req.Temperature == 0 {
		req.Temperature = 0.7
	}

	system := BuildSystemPrompt(req)
	estimated := EstimateTokens(system) + EstimateTokens(req.Prompt)

	model := req.Model
	if model == "" {
		model = c.selectModel(req)
	}
	info, ok := anthropicModels[model]
	if !ok {
		return Response{}, fmt.Errorf("anthropic: unknown model %q", model)
	}
	if estimated+req.MaxTokens > info.ContextWindow {
		return Response{}, &TokenLimitError{
			Provider:  Anthropic,
			Model:     model,
			Estimated: estimated + req.MaxTokens,
			Limit:     info.ContextWindow,
		}
	}

	key, err := c.keys.Next()
	if err != nil {
		return Response{}, err
	}

	body := anthropicRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}

	var out anthropicResponse
	headers := map[string]string{
		"x-api-key":         key,
		"anthropic-version": anthropicVersion,
	}
	if err := c.http.PostJSON(ctx, "/messages", headers, body, &out); err != nil {
		var rle *resilience.RateLimitError
		if errors.As(err, &rle) {
			c.keys.MarkRateLimited(key, rle.ResetAt())
			c.log.Warn("api key rate limited", zap.Duration("retry_after", rle.RetryAfter))
		}
		return Response{}, err
	}

	var parts []string
	for _, block := range out.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return Response{}, fmt.Errorf("anthropic: no text blocks in response")
	}

	usage := Usage{
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
		TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
	}
	usage.EstimatedCost = cost(info, usage)
	c.record(model, usage)

	return Response{
		Content:  strings.Join(parts, "\n"),
		Provider: Anthropic,
		Model:    model,
		Usage:    usage,
		Metadata: map[string]string{"stop_reason": out.StopReason},
	}, nil
}

// selectModel picks a Claude model from the generation type and priority.
// Haiku is the workhorse; heavy analytical output goes to Sonnet, and
// critical requests pay for Opus.
func (c *AnthropicClient) selectModel(req Request) string {
	switch {
	case req.Priority == PriorityCritical:
		return "claude-3-opus-20240229"
	case req.Type.Heavy() || req.Priority == PriorityHigh:
		return "claude-3-sonnet-20240229"
	default:
		return "claude-3-haiku-20240307"
	}
}

// UsageStats returns the aggregate counters.
func (c *AnthropicClient) UsageStats() UsageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ClientMetrics exposes the underlying resilient client's counters.
func (c *AnthropicClient) ClientMetrics() resilience.ClientMetrics {
	return c.http.Metrics()
}

func (c *AnthropicClient) record(model string, u Usage) {
	c.mu.Lock()
	c.stats.Requests++
	c.stats.PromptTokens += int64(u.PromptTokens)
	c.stats.CompletionTokens += int64(u.CompletionTokens)
	c.stats.EstimatedCost += u.EstimatedCost
	c.mu.Unlock()

	metrics.TokenUsageTotal.WithLabelValues(Anthropic, model, "input").Add(float64(u.PromptTokens))
	metrics.TokenUsageTotal.WithLabelValues(Anthropic, model, "output").Add(float64(u.CompletionTokens))
	metrics.EstimatedCostTotal.WithLabelValues(Anthropic).Add(u.EstimatedCost)
}
