package domain

import (
	"context"
	"fmt"
)

// Chunk is a bounded text window cut from one fetched page. It only lives
// for the duration of that page's ingestion.
type Chunk struct {
	Text      string `json:"text"`
	SourceURL string `json:"source_url"`
	Index     int    `json:"index"` // position within the page's chunk sequence
}

// Entry is the persisted payload stored next to an embedding in the index.
type Entry struct {
	Text      string `json:"text"`
	SourceURL string `json:"source_url"`
}

// SearchResult is one ranked hit from a similarity search.
type SearchResult struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// Metric selects how the index ranks vectors. It must match what the
// embedding model was tuned for.
type Metric string

const (
	MetricDotProduct Metric = "dot_product"
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
)

// ParseMetric validates a metric name from config.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricDotProduct, MetricCosine, MetricEuclidean:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown similarity metric: %q", s)
}

// Fetcher retrieves the rendered plain text of a URL. It does not retry;
// retry policy belongs to the ingestion pipeline.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Embedder turns text into fixed-dimension vectors via an external service.
// Vectors are returned unnormalized; similarity semantics belong to the index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch preserves input order in its output.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// VectorIndex is the persisted store supporting nearest-neighbor search.
// Insert must be safe for concurrent callers; entries are independent and
// writers need no cross-writer ordering.
type VectorIndex interface {
	Create(ctx context.Context, collection string, dimension int, metric Metric) error
	Insert(ctx context.Context, collection string, vector []float32, entry Entry) error
	Search(ctx context.Context, collection string, vector []float32, k int) ([]SearchResult, error)
}
