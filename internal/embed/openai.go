// Package embed turns text into fixed-dimension vectors through an
// OpenAI-compatible embeddings API.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"campusbot/internal/domain"
)

const defaultAPIBase = "https://api.openai.com/v1"

// ServiceError reports a transport or quota failure from the embedding
// service. The client does not retry; callers decide retry policy.
type ServiceError struct {
	StatusCode int // 0 for transport-level failures
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("embedding service: HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding service: %v", e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// OpenAI implements domain.Embedder against /v1/embeddings.
type OpenAI struct {
	apiKey    string
	apiBase   string
	model     string
	dimension int
	client    *http.Client
	logger    *slog.Logger
}

type Config struct {
	APIKey    string
	APIBase   string
	Model     string
	Dimension int
	Timeout   time.Duration
	Logger    *slog.Logger
}

func New(cfg Config) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:    cfg.APIKey,
		apiBase:   cfg.APIBase,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    cfg.Logger,
	}
}

func (o *OpenAI) Model() string  { return o.model }
func (o *OpenAI) Dimension() int { return o.dimension }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("embedding service: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service returned %d", resp.StatusCode)
	}
	return nil
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage domain.Usage `json:"usage"`
}

// Embed returns the vector for a single text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, preserving input order.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := embeddingRequest{
		Model:          o.model,
		Input:          texts,
		EncodingFormat: "float",
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &ServiceError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", string(respBody)),
		}
	}

	var er embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, &ServiceError{Err: fmt.Errorf("decode: %w", err)}
	}
	if len(er.Data) != len(texts) {
		return nil, &ServiceError{
			Err: fmt.Errorf("got %d embeddings for %d inputs", len(er.Data), len(texts)),
		}
	}

	// The API reports an index per item; order by it rather than trusting
	// response order.
	vecs := make([][]float32, len(texts))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, &ServiceError{Err: fmt.Errorf("embedding index %d out of range", d.Index)}
		}
		if len(d.Embedding) != o.dimension {
			return nil, &ServiceError{
				Err: fmt.Errorf("embedding dimension %d, expected %d", len(d.Embedding), o.dimension),
			}
		}
		vecs[d.Index] = d.Embedding
	}

	o.logger.Debug("embeddings created",
		"model", o.model, "inputs", len(texts), "tokens", er.Usage.TotalTokens)
	return vecs, nil
}
