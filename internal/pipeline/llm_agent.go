package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
)

// AgentConfig configures the agent-runner backend.
type AgentConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// AgentCompleter runs each prompt as a single-turn agent through the
// openai-agents-go runner, over the chat completions API so that
// OpenAI-compatible vendors work too.
type AgentCompleter struct {
	provider    agents.ModelProvider
	model       string
	temperature float64
	maxTokens   int
}

func NewAgentCompleter(cfg AgentConfig) *AgentCompleter {
	params := agents.OpenAIProviderParams{
		APIKey:       param.NewOpt(cfg.APIKey),
		UseResponses: param.NewOpt(false),
	}
	if cfg.BaseURL != "" {
		params.BaseURL = param.NewOpt(cfg.BaseURL)
	}
	return &AgentCompleter{
		provider:    agents.NewOpenAIProvider(params),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (a *AgentCompleter) Complete(ctx context.Context, p Prompt) (*LLMResult, error) {
	settings := modelsettings.ModelSettings{
		Temperature: param.NewOpt(a.temperature),
	}
	if a.maxTokens > 0 {
		settings.MaxTokens = param.NewOpt(int64(a.maxTokens))
	}

	agent := agents.New("sales-manager").
		WithInstructions(p.System).
		WithModel(a.model).
		WithModelSettings(settings)

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, p.User)
	if err != nil {
		return nil, fmt.Errorf("agent stream start: %w", err)
	}

	var text strings.Builder
	var ttft time.Time
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		if ttft.IsZero() {
			ttft = time.Now()
		}
		text.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		return nil, fmt.Errorf("agent stream: %w", streamErr)
	}

	res := &LLMResult{Text: text.String(), LatencyMs: float64(time.Since(start).Milliseconds())}
	if !ttft.IsZero() {
		res.TimeToFirstTokenMs = float64(ttft.Sub(start).Milliseconds())
	}
	return res, nil
}
