package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIChatConfig configures any OpenAI-compatible chat endpoint. DeepSeek is
// the default deployment.
type OpenAIChatConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
}

// OpenAIChatClient calls /chat/completions through the official SDK.
type OpenAIChatClient struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewOpenAIChatClient(cfg OpenAIChatConfig) *OpenAIChatClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIChatClient{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (c *OpenAIChatClient) Complete(ctx context.Context, p Prompt) (*LLMResult, error) {
	start := time.Now()

	messages := []openai.ChatCompletionMessageParamUnion{}
	if p.System != "" {
		messages = append(messages, openai.SystemMessage(p.System))
	}
	messages = append(messages, openai.UserMessage(p.User))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: no choices")
	}

	return &LLMResult{
		Text:      resp.Choices[0].Message.Content,
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}, nil
}
