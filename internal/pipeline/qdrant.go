package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// QdrantClient is a minimal REST client for the collections the relay keeps:
// the knowledge base and, optionally, call history.
type QdrantClient struct {
	base string
	http *http.Client
}

func NewQdrantClient(url string, poolSize int) *QdrantClient {
	return &QdrantClient{base: url, http: NewPooledHTTPClient(poolSize, 30*time.Second)}
}

func (q *QdrantClient) collection(name string, rest ...string) string {
	u := q.base + "/collections/" + name
	for _, r := range rest {
		u += "/" + r
	}
	return u
}

// EnsureCollection creates a cosine-distance collection. An existing
// collection is left untouched.
func (q *QdrantClient) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	spec := map[string]any{
		"vectors": map[string]any{"size": vectorSize, "distance": "Cosine"},
	}
	err := jsonCall(ctx, q.http, http.MethodPut, q.collection(name), "qdrant create "+name, spec, nil)
	if hasStatus(err, http.StatusConflict) {
		return nil
	}
	return err
}

// QdrantPoint is one stored vector with its payload.
type QdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (q *QdrantClient) Upsert(ctx context.Context, collection string, points []QdrantPoint) error {
	in := struct {
		Points []QdrantPoint `json:"points"`
	}{points}
	return jsonCall(ctx, q.http, http.MethodPut, q.collection(collection, "points"), "qdrant upsert", in, nil)
}

// PointID is a Qdrant point id, which the API returns as either a UUID string
// or an unsigned integer.
type PointID string

func (p *PointID) UnmarshalJSON(data []byte) error {
	var s string
	if json.Unmarshal(data, &s) == nil {
		*p = PointID(s)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("point id: %w", err)
	}
	*p = PointID(strconv.FormatUint(n, 10))
	return nil
}

// SearchResult is a single nearest-neighbour hit.
type SearchResult struct {
	ID      PointID        `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Search returns up to topK payload-bearing hits scoring at least scoreThreshold.
func (q *QdrantClient) Search(ctx context.Context, collection string, vector []float64, topK int, scoreThreshold float64) ([]SearchResult, error) {
	in := qdrantSearchRequest{Vector: vector, Limit: topK, ScoreThreshold: scoreThreshold, WithPayload: true}

	var out struct {
		Result []SearchResult `json:"result"`
	}
	if err := jsonCall(ctx, q.http, http.MethodPost, q.collection(collection, "points", "search"), "qdrant search", in, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// CollectionPointCount reports how many points a collection holds.
func (q *QdrantClient) CollectionPointCount(ctx context.Context, collection string) (int, error) {
	var out struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	if err := jsonCall(ctx, q.http, http.MethodGet, q.collection(collection), "qdrant info", nil, &out); err != nil {
		return 0, err
	}
	return out.Result.PointsCount, nil
}

type qdrantSearchRequest struct {
	Vector         []float64 `json:"vector"`
	Limit          int       `json:"limit"`
	ScoreThreshold float64   `json:"score_threshold"`
	WithPayload    bool      `json:"with_payload"`
}
