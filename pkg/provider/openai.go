package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arcanabot/llm-gateway/pkg/metrics"
	"github.com/arcanabot/llm-gateway/pkg/resilience"
)

// ModelInfo describes one model's context window and per-1k-token pricing.
type ModelInfo struct {
	ContextWindow    int
	PromptPricePer1K float64
	OutputPricePer1K float64
}

// openAIModels is the supported model table with context limits and USD
// prices per 1k tokens.
var openAIModels = map[string]ModelInfo{
	"gpt-4-turbo-preview": {ContextWindow: 128000, PromptPricePer1K: 0.01, OutputPricePer1K: 0.03},
	"gpt-4":               {ContextWindow: 8192, PromptPricePer1K: 0.03, OutputPricePer1K: 0.06},
	"gpt-4-32k":           {ContextWindow: 32768, PromptPricePer1K: 0.06, OutputPricePer1K: 0.12},
	"gpt-3.5-turbo":       {ContextWindow: 4096, PromptPricePer1K: 0.0005, OutputPricePer1K: 0.0015},
	"gpt-3.5-turbo-16k":   {ContextWindow: 16384, PromptPricePer1K: 0.001, OutputPricePer1K: 0.002},
}

// OpenAIClient talks to the OpenAI Chat Completions API through the shared
// resilient client.
type OpenAIClient struct {
	http *resilience.Client
	keys *resilience.KeyPool
	log  *zap.Logger

	mu    sync.Mutex
	stats UsageStats
}

// OpenAIConfig holds the OpenAI-specific settings.
type OpenAIConfig struct {
	APIKeys []string
	Client  resilience.ClientConfig
}

// NewOpenAIClient creates an OpenAI provider.
func NewOpenAIClient(cfg OpenAIConfig, log *zap.Logger) *OpenAIClient {
	if cfg.Client.Name == "" {
		cfg.Client.Name = OpenAI
	}
	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		http: resilience.NewClient(cfg.Client, log),
		keys: resilience.NewKeyPool(cfg.APIKeys),
		log:  log.Named(OpenAI),
	}
}

func (c *OpenAIClient) ID() string { return OpenAI }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	Temperature      float64         `json:"temperature"`
	MaxTokens        int             `json:"max_tokens"`
	TopP             float64         `json:"top_p"`
	FrequencyPenalty float64         `json:"frequency_penalty"`
	PresencePenalty  float64         `json:"presence_penalty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate performs one chat completion call.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
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
		model = c.selectModel(req, estimated)
	}
	info, ok := openAIModels[model]
	if !ok {
		return Response{}, fmt.Errorf("openai: unknown model %q", model)
	}
	if estimated+req.MaxTokens > info.ContextWindow {
		return Response{}, &TokenLimitError{
			Provider:  OpenAI,
			Model:     model,
			Estimated: estimated + req.MaxTokens,
			Limit:     info.ContextWindow,
		}
	}

	key, err := c.keys.Next()
	if err != nil {
		return Response{}, err
	}

	body := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Prompt},
		},
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             0.9,
		FrequencyPenalty: 0.3,
		PresencePenalty:  0.3,
	}

	var out openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + key}
	if err := c.http.PostJSON(ctx, "/chat/completions", headers, body, &out); err != nil {
		var rle *resilience.RateLimitError
		if errors.As(err, &rle) {
			c.keys.MarkRateLimited(key, rle.ResetAt())
			c.log.Warn("api key rate limited", zap.Duration("retry_after", rle.RetryAfter))
		}
		return Response{}, err
	}
	if len(out.Choices) == 0 {
		return Response{}, fmt.Errorf("openai: empty choices in response")
	}

	usage := Usage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
	}
	usage.EstimatedCost = cost(info, usage)
	c.record(model, usage)

	return Response{
		Content:  out.Choices[0].Message.Content,
		Provider: OpenAI,
		Model:    model,
		Usage:    usage,
	}, nil
}

// selectModel picks a model from the prompt size and the request priority.
func (c *OpenAIClient) selectModel(req Request, estimated int) string {
	switch {
	case req.Type.Heavy() || req.Priority == PriorityCritical:
		if estimated > 8000 {
			return "gpt-4-turbo-preview"
		}
		return "gpt-4"
	case req.Priority == PriorityHigh:
		return "gpt-4"
	case estimated > 4000:
		return "gpt-3.5-turbo-16k"
	default:
		return "gpt-3.5-turbo"
	}
}

// UsageStats returns the aggregate counters.
func (c *OpenAIClient) UsageStats() UsageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ClientMetrics exposes the underlying resilient client's counters.
func (c *OpenAIClient) ClientMetrics() resilience.ClientMetrics {
	return c.http.Metrics()
}

func (c *OpenAIClient) record(model string, u Usage) {
	c.mu.Lock()
	c.stats.Requests++
	c.stats.PromptTokens += int64(u.PromptTokens)
	c.stats.CompletionTokens += int64(u.CompletionTokens)
	c.stats.EstimatedCost += u.EstimatedCost
	c.mu.Unlock()

	metrics.TokenUsageTotal.WithLabelValues(OpenAI, model, "input").Add(float64(u.PromptTokens))
	metrics.TokenUsageTotal.WithLabelValues(OpenAI, model, "output").Add(float64(u.CompletionTokens))
	metrics.EstimatedCostTotal.WithLabelValues(OpenAI).Add(u.EstimatedCost)
}

// cost computes the USD cost of one call from the model's price table.
func cost(info ModelInfo, u Usage) float64 {
	return float64(u.PromptTokens)/1000*info.PromptPricePer1K +
		float64(u.CompletionTokens)/1000*info.OutputPricePer1K
}
