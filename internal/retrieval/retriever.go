// Package retrieval embeds user queries, searches the vector index, and
// assembles the retrieved chunks into a grounded conversation context.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"campusbot/internal/domain"
)

// ErrUnavailable signals that retrieval could not run at all, because the
// embedding service or the index search failed. Callers decide the degraded
// mode; the retriever never swallows the failure into an empty result.
var ErrUnavailable = errors.New("retrieval unavailable")

// Retriever resolves a query to its top-K most similar index entries.
type Retriever struct {
	embedder   domain.Embedder
	index      domain.VectorIndex
	collection string
	topK       int
	logger     *slog.Logger
}

type RetrieverConfig struct {
	Embedder   domain.Embedder
	Index      domain.VectorIndex
	Collection string
	TopK       int
	Logger     *slog.Logger
}

func NewRetriever(cfg RetrieverConfig) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retriever{
		embedder:   cfg.Embedder,
		index:      cfg.Index,
		collection: cfg.Collection,
		topK:       cfg.TopK,
		logger:     cfg.Logger,
	}
}

// Retrieve embeds the query and returns up to k entries ranked by descending
// similarity. k <= 0 falls back to the configured default. An empty index
// yields an empty (non-error) result; infrastructure failures yield
// ErrUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = r.topK
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrUnavailable, err)
	}

	results, err := r.index.Search(ctx, r.collection, vector, k)
	if err != nil {
		return nil, fmt.Errorf("%w: searching index: %v", ErrUnavailable, err)
	}

	r.logger.Debug("retrieved context", "results", len(results), "k", k)
	return results, nil
}
