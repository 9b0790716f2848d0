package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AnthropicLLMClient collects streamed replies from the Anthropic Messages API.
type AnthropicLLMClient struct {
	apiKey      string
	url         string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

// NewAnthropicLLMClient creates an Anthropic client.
func NewAnthropicLLMClient(apiKey, url, model string, temperature float64, maxTokens, poolSize int) *AnthropicLLMClient {
	if url == "" {
		url = "https://api.anthropic.com"
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &AnthropicLLMClient{
		apiKey:      apiKey,
		url:         strings.TrimRight(url, "/"),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      NewPooledHTTPClient(poolSize, 120*time.Second),
	}
}

func (c *AnthropicLLMClient) Complete(ctx context.Context, p Prompt) (*LLMResult, error) {
	start := time.Now()

	body, err := json.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      true,
		System:      p.System,
		Messages:    []anthropicMessage{{Role: "user", Content: p.User}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("anthropic", resp)
	}

	text, ttft, err := readAnthropicStream(resp.Body)
	if err != nil {
		return nil, err
	}

	res := &LLMResult{Text: text, LatencyMs: float64(time.Since(start).Milliseconds())}
	if !ttft.IsZero() {
		res.TimeToFirstTokenMs = float64(ttft.Sub(start).Milliseconds())
	}
	return res, nil
}

// readAnthropicStream concatenates text deltas from a server-sent event stream
// until message_stop.
func readAnthropicStream(body io.Reader) (string, time.Time, error) {
	var (
		text      strings.Builder
		ttft      time.Time
		eventType string
	)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, "event: "); ok {
			eventType = rest
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		switch eventType {
		case "message_stop":
			return text.String(), ttft, nil
		case "error":
			var ev anthropicErrorEvent
			if json.Unmarshal([]byte(data), &ev) == nil && ev.Error.Message != "" {
				return "", ttft, fmt.Errorf("anthropic stream: %s", ev.Error.Message)
			}
			return "", ttft, fmt.Errorf("anthropic stream: %s", data)
		case "content_block_delta":
			var ev anthropicDeltaEvent
			if json.Unmarshal([]byte(data), &ev) != nil || ev.Delta.Text == "" {
				continue
			}
			if ttft.IsZero() {
				ttft = time.Now()
			}
			text.WriteString(ev.Delta.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", ttft, fmt.Errorf("anthropic stream: %w", err)
	}
	return text.String(), ttft, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicDeltaEvent struct {
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
