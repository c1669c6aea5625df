// Package ingest runs the offline pipeline that turns a URL list into
// indexed, embedded chunks: fetch -> chunk -> embed -> write.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campusbot/internal/chunker"
	"campusbot/internal/domain"
	"campusbot/internal/metrics"
)

// Reason tags which stage failed for a URL.
type Reason string

const (
	ReasonFetch Reason = "fetch"
	ReasonEmbed Reason = "embed"
	ReasonWrite Reason = "write"
)

// Failure records one URL that could not be (fully) ingested.
type Failure struct {
	URL    string `json:"url"`
	Reason Reason `json:"reason"`
	Err    error  `json:"-"`
}

// Report summarizes one ingestion run.
type Report struct {
	Succeeded     int       `json:"succeeded"`
	Failed        []Failure `json:"failed"`
	ChunksIndexed int       `json:"chunks_indexed"`
}

// Summary renders the one-line tally logged at the end of a run.
func (r *Report) Summary() string {
	return fmt.Sprintf("%d successful, %d failed", r.Succeeded, len(r.Failed))
}

// Pipeline orchestrates ingestion with per-URL isolation: one URL's failure
// never aborts the rest of the batch.
type Pipeline struct {
	fetcher    domain.Fetcher
	chunker    *chunker.Chunker
	embedder   domain.Embedder
	index      domain.VectorIndex
	collection string

	workers      int
	fetchRetries int
	batchSize    int
	logger       *slog.Logger
}

type Config struct {
	Fetcher    domain.Fetcher
	Chunker    *chunker.Chunker
	Embedder   domain.Embedder
	Index      domain.VectorIndex
	Collection string

	Workers      int // bounded worker pool size; caps external API pressure
	FetchRetries int // extra fetch attempts after the first failure
	BatchSize    int // chunks per embedding request
	Logger       *slog.Logger
}

func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		fetcher:      cfg.Fetcher,
		chunker:      cfg.Chunker,
		embedder:     cfg.Embedder,
		index:        cfg.Index,
		collection:   cfg.Collection,
		workers:      cfg.Workers,
		fetchRetries: cfg.FetchRetries,
		batchSize:    cfg.BatchSize,
		logger:       cfg.Logger,
	}
}

type urlResult struct {
	failure *Failure
	chunks  int
}

// Ingest processes the URL list with a fixed pool of workers and returns a
// report once every URL has been handled. Re-running over the same list
// appends duplicate entries; the index is append-only by design.
func (p *Pipeline) Ingest(ctx context.Context, urls []string) *Report {
	report := &Report{}
	if len(urls) == 0 {
		return report
	}

	jobs := make(chan string)
	results := make(chan urlResult, len(urls))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range jobs {
				results <- p.processURL(ctx, url)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, url := range urls {
			select {
			case jobs <- url:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		report.ChunksIndexed += res.chunks
		if res.failure != nil {
			report.Failed = append(report.Failed, *res.failure)
			metrics.PagesFailed.Inc()
			p.logger.Error("failed to process url",
				"url", res.failure.URL, "stage", res.failure.Reason, "err", res.failure.Err)
		} else {
			report.Succeeded++
		}
	}

	p.logger.Info("ingestion complete",
		"summary", report.Summary(), "chunks", report.ChunksIndexed)
	return report
}

// processURL runs the sequential per-URL stages. A failure at any stage is
// contained here; the worker moves on to the next URL. Chunks written before
// a mid-document failure stay committed.
func (p *Pipeline) processURL(ctx context.Context, url string) urlResult {
	p.logger.Info("processing url", "url", url)

	text, err := p.fetchWithRetry(ctx, url)
	if err != nil {
		return urlResult{failure: &Failure{URL: url, Reason: ReasonFetch, Err: err}}
	}
	metrics.PagesFetched.Inc()

	chunks := p.chunker.Split(text, url)
	if len(chunks) == 0 {
		p.logger.Warn("page yielded no chunks", "url", url)
		return urlResult{}
	}

	written := 0
	var writeErr error
	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}

		metrics.EmbedRequests.Inc()
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			// Earlier batches are already committed; that partial state is
			// accepted rather than rolled back.
			return urlResult{
				failure: &Failure{URL: url, Reason: ReasonEmbed, Err: err},
				chunks:  written,
			}
		}

		for i, ch := range batch {
			err := p.index.Insert(ctx, p.collection, vectors[i], domain.Entry{
				Text:      ch.Text,
				SourceURL: ch.SourceURL,
			})
			if err != nil {
				// Skip this entry, keep writing the rest.
				if writeErr == nil {
					writeErr = err
				}
				p.logger.Warn("index write failed, skipping entry",
					"url", url, "chunk", ch.Index, "err", err)
				continue
			}
			written++
			metrics.ChunksIndexed.Inc()
		}
	}

	if writeErr != nil {
		return urlResult{
			failure: &Failure{URL: url, Reason: ReasonWrite, Err: writeErr},
			chunks:  written,
		}
	}

	p.logger.Info("url processed", "url", url, "chunks", written)
	return urlResult{chunks: written}
}

// fetchWithRetry attempts the fetch up to 1+fetchRetries times. Retry lives
// here, not in the fetcher.
func (p *Pipeline) fetchWithRetry(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.fetchRetries; attempt++ {
		if attempt > 0 {
			backoff := Backoff(attempt - 1)
			p.logger.Warn("retrying fetch", "url", url, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := p.fetcher.Fetch(ctx, url)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}
