package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeEmbeddingServer returns vectors where each component equals the input's
// index in the batch, so order preservation is checkable.
func fakeEmbeddingServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Data  []item         `json:"data"`
			Usage map[string]int `json:"usage"`
		}{Usage: map[string]int{"total_tokens": 7}}

		// Reverse response order on purpose; the client must reorder by index.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			for j := range vec {
				vec[j] = float32(i)
			}
			resp.Data = append(resp.Data, item{Index: i, Embedding: vec})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedBatch_PreservesInputOrder(t *testing.T) {
	srv := fakeEmbeddingServer(t, 4)
	defer srv.Close()

	e := New(Config{APIBase: srv.URL, APIKey: "k", Dimension: 4})
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second", "third"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vector %d out of order: leading component %f", i, v[0])
		}
	}
}

func TestEmbed_SingleText(t *testing.T) {
	srv := fakeEmbeddingServer(t, 4)
	defer srv.Close()

	e := New(Config{APIBase: srv.URL, APIKey: "k", Dimension: 4})
	vec, err := e.Embed(context.Background(), "where is the library")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("expected 4-dim vector, got %d", len(vec))
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	e := New(Config{APIBase: "http://invalid.localhost", APIKey: "k"})
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected no error for empty input, got %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil result, got %v", vecs)
	}
}

func TestEmbedBatch_QuotaFailure_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := New(Config{APIBase: srv.URL, APIKey: "k"})
	_, err := e.EmbedBatch(context.Background(), []string{"q"})
	if err == nil {
		t.Fatal("expected error")
	}
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ServiceError, got %T", err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", se.StatusCode)
	}
}

func TestEmbedBatch_TransportFailure_ServiceError(t *testing.T) {
	e := New(Config{APIBase: "http://127.0.0.1:1", APIKey: "k"})
	_, err := e.EmbedBatch(context.Background(), []string{"q"})
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ServiceError, got %T (%v)", err, err)
	}
	if se.StatusCode != 0 {
		t.Errorf("transport failure should have StatusCode 0, got %d", se.StatusCode)
	}
}

func TestEmbedBatch_DimensionMismatch(t *testing.T) {
	srv := fakeEmbeddingServer(t, 4)
	defer srv.Close()

	e := New(Config{APIBase: srv.URL, APIKey: "k", Dimension: 1536})
	_, err := e.EmbedBatch(context.Background(), []string{"q"})
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ServiceError for dimension mismatch, got %T", err)
	}
}
