// Package engine drives the online query path: retrieve, assemble, generate.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"campusbot/internal/domain"
	"campusbot/internal/metrics"
	"campusbot/internal/retrieval"
)

// Engine answers user questions grounded in the vector index. Retrieval
// failure degrades the answer (empty context) but never fails the request;
// generation failure is terminal and surfaced to the caller.
type Engine struct {
	retriever *retrieval.Retriever
	assembler *retrieval.Assembler
	generator domain.StreamingGenerator
	topK      int
	logger    *slog.Logger
}

type Config struct {
	Retriever *retrieval.Retriever
	Assembler *retrieval.Assembler
	Generator domain.StreamingGenerator
	TopK      int
	Logger    *slog.Logger
}

func New(cfg Config) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		retriever: cfg.Retriever,
		assembler: cfg.Assembler,
		generator: cfg.Generator,
		topK:      cfg.TopK,
		logger:    cfg.Logger,
	}
}

// prompt retrieves context for the query and builds the generator input.
// Degraded mode (retrieval unavailable) is handled here: the request
// proceeds with an empty context block.
func (e *Engine) prompt(ctx context.Context, query string, history []domain.Message) []domain.Message {
	results, err := e.retriever.Retrieve(ctx, query, e.topK)
	if err != nil {
		if errors.Is(err, retrieval.ErrUnavailable) {
			metrics.RetrievalDegraded.Inc()
			e.logger.Warn("retrieval unavailable, answering without context", "err", err)
			results = nil
		} else {
			e.logger.Error("retrieval failed", "err", err)
			results = nil
		}
	}
	return e.assembler.Assemble(results, query, history)
}

// Ask answers a query in one shot.
func (e *Engine) Ask(ctx context.Context, query string, history []domain.Message) (*domain.ChatResponse, error) {
	metrics.QueriesServed.Inc()
	messages := e.prompt(ctx, query, history)

	resp, err := e.generator.Chat(ctx, domain.ChatRequest{Messages: messages})
	if err != nil {
		metrics.GenerationFailures.Inc()
		return nil, err
	}
	return resp, nil
}

// AskStream answers a query as a token stream written to out. The caller
// owns out; on error no done event is emitted and the error is returned.
func (e *Engine) AskStream(ctx context.Context, query string, history []domain.Message, out chan<- domain.StreamEvent) error {
	metrics.QueriesServed.Inc()
	messages := e.prompt(ctx, query, history)

	if err := e.generator.ChatStream(ctx, domain.ChatRequest{Messages: messages}, out); err != nil {
		metrics.GenerationFailures.Inc()
		return err
	}
	return nil
}
