package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/malikkhubiev/qdrant/internal/metrics"
)

var errNoEmbedding = errors.New("embed: empty embedding response")

// EmbeddingClient turns text into vectors with an Ollama embedding model.
type EmbeddingClient struct {
	endpoint string
	model    string
	http     *http.Client
}

func NewEmbeddingClient(url, model string, poolSize int) *EmbeddingClient {
	return &EmbeddingClient{
		endpoint: url + "/api/embed",
		model:    model,
		http:     NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

// Embed returns the vector for a single input string.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()

	var out struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	in := map[string]string{"model": c.model, "input": text}
	if err := jsonCall(ctx, c.http, http.MethodPost, c.endpoint, "embed", in, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 {
		return nil, errNoEmbedding
	}
	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
	return out.Embeddings[0], nil
}
