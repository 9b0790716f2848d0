package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/malikkhubiev/qdrant/internal/metrics"
)

// Prompt is a single completion request: the system instruction and the
// assembled user turn (question, knowledge and recent dialog).
type Prompt struct {
	System string
	User   string
}

// Completer generates a reply for a prompt.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (*LLMResult, error)
}

// LLMResult holds the complete LLM response with timing.
type LLMResult struct {
	Text               string  `json:"text"`
	LatencyMs          float64 `json:"latency_ms"`
	TimeToFirstTokenMs float64 `json:"ttft_ms,omitempty"`
}

// LLMRouter dispatches to the correct LLM backend based on engine name.
type LLMRouter struct {
	*Router[Completer]
}

// NewLLMRouter creates a router with registered LLM backends and a fallback default.
func NewLLMRouter(backends map[string]Completer, fallback string) *LLMRouter {
	return &LLMRouter{Router: NewRouter(backends, fallback)}
}

// Complete routes to the backend and rejects empty replies.
func (r *LLMRouter) Complete(ctx context.Context, p Prompt, engine string) (*LLMResult, error) {
	if strings.TrimSpace(p.User) == "" {
		return nil, ErrEmptyText
	}
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := backend.Complete(ctx, p)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "request").Inc()
		return nil, err
	}
	res.Text = strings.TrimSpace(res.Text)
	if res.Text == "" {
		metrics.Errors.WithLabelValues("llm", "empty").Inc()
		return nil, fmt.Errorf("llm returned an empty reply")
	}
	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	return res, nil
}

// --- Ollama backend ---

// OllamaLLMClient collects streamed chat completions from a local Ollama.
type OllamaLLMClient struct {
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewOllamaLLMClient creates an Ollama HTTP client.
func NewOllamaLLMClient(url, model string, maxTokens, poolSize int) *OllamaLLMClient {
	return &OllamaLLMClient{
		url:       url,
		model:     model,
		maxTokens: maxTokens,
		client:    NewPooledHTTPClient(poolSize, 60*time.Second),
	}
}

func (c *OllamaLLMClient) Complete(ctx context.Context, p Prompt) (*LLMResult, error) {
	start := time.Now()

	messages := []ollamaMessage{{Role: "user", Content: p.User}}
	if p.System != "" {
		messages = append([]ollamaMessage{{Role: "system", Content: p.System}}, messages...)
	}
	bodyBytes, err := json.Marshal(ollamaRequest{
		Model:    c.model,
		Stream:   true,
		Options:  ollamaOptions{NumPredict: c.maxTokens},
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("ollama", resp)
	}

	var text strings.Builder
	var ttft time.Time
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var chunk ollamaStreamChunk
		if json.Unmarshal(scanner.Bytes(), &chunk) != nil {
			continue
		}
		if chunk.Message.Content != "" && ttft.IsZero() {
			ttft = time.Now()
		}
		text.WriteString(chunk.Message.Content)
		if chunk.Done {
			break
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("ollama stream: %w", err)
	}

	res := &LLMResult{Text: text.String(), LatencyMs: float64(time.Since(start).Milliseconds())}
	if !ttft.IsZero() {
		res.TimeToFirstTokenMs = float64(ttft.Sub(start).Milliseconds())
	}
	return res, nil
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}
