package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallHistoryClient stores answered turns as embeddings in Qdrant so past
// conversations can be searched later.
type CallHistoryClient struct {
	embedder   *EmbeddingClient
	qdrant     *QdrantClient
	collection string
	wg         sync.WaitGroup
}

// NewCallHistoryClient creates a call history storage client.
func NewCallHistoryClient(embedder *EmbeddingClient, qdrant *QdrantClient, collection string) *CallHistoryClient {
	return &CallHistoryClient{
		embedder:   embedder,
		qdrant:     qdrant,
		collection: collection,
	}
}

// StoreAsync embeds and stores a turn in a background goroutine. Errors are
// logged, not propagated. The write outlives the turn's context.
func (ch *CallHistoryClient) StoreAsync(ctx context.Context, callID, question, answer string) {
	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		vector, err := ch.embedder.Embed(ctx, "Клиент: "+question+"\nМенеджер: "+answer)
		if err != nil {
			slog.Error("call history embed", "call_id", callID, "error", err)
			return
		}

		point := QdrantPoint{
			ID:     uuid.NewString(),
			Vector: vector,
			Payload: map[string]interface{}{
				"call_id":   callID,
				"question":  question,
				"answer":    answer,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		}

		if err := ch.qdrant.Upsert(ctx, ch.collection, []QdrantPoint{point}); err != nil {
			slog.Error("call history upsert", "call_id", callID, "error", err)
		}
	}()
}

// Wait blocks until pending writes finish.
func (ch *CallHistoryClient) Wait() { ch.wg.Wait() }
