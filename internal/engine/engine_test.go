package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"campusbot/internal/domain"
	"campusbot/internal/retrieval"
)

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, s.err
}

func (s *stubEmbedder) Dimension() int { return 2 }
func (s *stubEmbedder) Model() string  { return "stub" }

type stubIndex struct {
	results []domain.SearchResult
}

func (s *stubIndex) Create(context.Context, string, int, domain.Metric) error      { return nil }
func (s *stubIndex) Insert(context.Context, string, []float32, domain.Entry) error { return nil }
func (s *stubIndex) Search(context.Context, string, []float32, int) ([]domain.SearchResult, error) {
	return s.results, nil
}

// recordingGenerator captures the conversation it was asked to complete.
type recordingGenerator struct {
	gotMessages []domain.Message
	failWith    error
}

func (g *recordingGenerator) Name() string                  { return "recording" }
func (g *recordingGenerator) Healthy(context.Context) error { return nil }

func (g *recordingGenerator) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	g.gotMessages = req.Messages
	if g.failWith != nil {
		return nil, g.failWith
	}
	return &domain.ChatResponse{Content: "answer", FinishReason: "stop"}, nil
}

func (g *recordingGenerator) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	g.gotMessages = req.Messages
	if g.failWith != nil {
		return g.failWith
	}
	out <- domain.StreamEvent{Type: domain.StreamToken, Content: "answer"}
	out <- domain.StreamEvent{Type: domain.StreamDone}
	return nil
}

func newTestEngine(emb *stubEmbedder, idx *stubIndex, gen *recordingGenerator) *Engine {
	return New(Config{
		Retriever: retrieval.NewRetriever(retrieval.RetrieverConfig{
			Embedder: emb, Index: idx, Collection: "pages", TopK: 10,
		}),
		Assembler: retrieval.NewAssembler("test persona"),
		Generator: gen,
		TopK:      10,
	})
}

func TestAsk_GroundsAnswerInRetrievedContext(t *testing.T) {
	idx := &stubIndex{results: []domain.SearchResult{
		{Entry: domain.Entry{Text: "dining hall closes at 21"}, Score: 0.9},
	}}
	gen := &recordingGenerator{}
	e := newTestEngine(&stubEmbedder{}, idx, gen)

	resp, err := e.Ask(context.Background(), "dining hours?", []domain.Message{
		{Role: domain.RoleUser, Content: "dining hours?"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "answer" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(gen.gotMessages) != 2 || gen.gotMessages[0].Role != domain.RoleSystem {
		t.Fatalf("generator should see system + history, got %+v", gen.gotMessages)
	}
	if !strings.Contains(gen.gotMessages[0].Content, "dining hall closes at 21") {
		t.Error("retrieved chunk missing from system message")
	}
}

func TestAsk_RetrievalFailureDegradesToEmptyContext(t *testing.T) {
	gen := &recordingGenerator{}
	e := newTestEngine(&stubEmbedder{err: errors.New("embed service down")}, &stubIndex{}, gen)

	resp, err := e.Ask(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("retrieval failure must not fail the request: %v", err)
	}
	if resp.Content != "answer" {
		t.Errorf("content = %q", resp.Content)
	}
	if !strings.Contains(gen.gotMessages[0].Content, "START CONTEXT\n\nEND CONTEXT") {
		t.Errorf("expected empty context block:\n%s", gen.gotMessages[0].Content)
	}
}

func TestAsk_GenerationFailureIsTerminal(t *testing.T) {
	gen := &recordingGenerator{failWith: errors.New("model overloaded")}
	e := newTestEngine(&stubEmbedder{}, &stubIndex{}, gen)

	resp, err := e.Ask(context.Background(), "q", nil)
	if err == nil {
		t.Fatal("generation failure must surface as an error")
	}
	if resp != nil {
		t.Errorf("no partial response on failure, got %+v", resp)
	}
}

func TestAskStream_TokensThenDone(t *testing.T) {
	gen := &recordingGenerator{}
	e := newTestEngine(&stubEmbedder{}, &stubIndex{}, gen)

	out := make(chan domain.StreamEvent, 8)
	if err := e.AskStream(context.Background(), "q", nil, out); err != nil {
		t.Fatal(err)
	}
	close(out)

	var types []domain.StreamEventType
	for ev := range out {
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[0] != domain.StreamToken || types[1] != domain.StreamDone {
		t.Errorf("events = %v", types)
	}
}

func TestAskStream_GenerationFailureReturned(t *testing.T) {
	gen := &recordingGenerator{failWith: errors.New("boom")}
	e := newTestEngine(&stubEmbedder{}, &stubIndex{}, gen)

	out := make(chan domain.StreamEvent, 8)
	if err := e.AskStream(context.Background(), "q", nil, out); err == nil {
		t.Fatal("expected error")
	}
}
