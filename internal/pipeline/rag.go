package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/malikkhubiev/qdrant/internal/metrics"
)

// RAGConfig wires the vector knowledge base. TopK is the default hit count
// when a caller passes k <= 0.
type RAGConfig struct {
	Embedder       *EmbeddingClient
	Qdrant         *QdrantClient
	Collection     string
	TopK           int
	ScoreThreshold float64
}

// RAGClient answers knowledge lookups by nearest-neighbour search.
type RAGClient struct {
	cfg RAGConfig
}

func NewRAGClient(cfg RAGConfig) *RAGClient { return &RAGClient{cfg: cfg} }

// Retrieve embeds the question and returns the nearest snippets. No hits is
// not an error.
func (r *RAGClient) Retrieve(ctx context.Context, question string, k int) ([]Snippet, error) {
	if k <= 0 {
		k = r.cfg.TopK
	}
	start := time.Now()
	vec, err := r.cfg.Embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.cfg.Qdrant.Search(ctx, r.cfg.Collection, vec, k, r.cfg.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	metrics.StageDuration.WithLabelValues("knowledge").Observe(time.Since(start).Seconds())
	return toSnippets(hits), nil
}

func toSnippets(results []SearchResult) []Snippet {
	out := make([]Snippet, len(results))
	for i, hit := range results {
		text, ok := hit.Payload["text"].(string)
		if !ok {
			text = fmt.Sprint(hit.Payload["text"])
		}
		tags, _ := hit.Payload["tags"].(string)
		out[i] = Snippet{ID: string(hit.ID), Text: strings.TrimSpace(text), Tags: tags, Score: hit.Score}
	}
	return out
}
