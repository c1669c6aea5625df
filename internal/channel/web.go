package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"campusbot/internal/domain"
	"campusbot/internal/engine"
	"campusbot/internal/metrics"
)

const maxBodySize = 1 << 20 // 1MB

// IndexStats reports entry counts for the status endpoint.
type IndexStats interface {
	Count(ctx context.Context, collection string) (int, error)
}

// Web serves the chat API: the client posts the full conversation and
// receives the answer as an SSE token stream, the same shape the embedding
// of this bot in a web page expects.
type Web struct {
	host       string
	port       int
	engine     *engine.Engine
	generator  domain.Generator
	stats      IndexStats
	collection string
	version    string
	metricsOn  bool
	logger     *slog.Logger
	server     *http.Server
}

type WebConfig struct {
	Host       string
	Port       int
	Engine     *engine.Engine
	Generator  domain.Generator
	Stats      IndexStats
	Collection string
	Version    string
	Metrics    bool
	Logger     *slog.Logger
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Web{
		host:       cfg.Host,
		port:       cfg.Port,
		engine:     cfg.Engine,
		generator:  cfg.Generator,
		stats:      cfg.Stats,
		collection: cfg.Collection,
		version:    cfg.Version,
		metricsOn:  cfg.Metrics,
		logger:     cfg.Logger,
	}
}

func (w *Web) Name() string { return "web" }

// Handler builds the route table. Exposed separately from Start for tests.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", w.handleChat)
	mux.HandleFunc("GET /status", w.handleStatus)
	if w.metricsOn {
		mux.Handle("GET /metrics", metrics.Collector.Handler())
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (w *Web) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{Addr: addr, Handler: w.Handler()}

	w.logger.Info("web channel started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

type chatRequest struct {
	Messages []domain.Message `json:"messages"`
}

// handleChat answers the latest user message in the posted conversation,
// streaming SSE events: token events, then one done event. A generation
// failure becomes an error event, never a silent empty answer.
func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "streaming not supported", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(rw, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(rw, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	query := latestUserMessage(req.Messages)
	if query == "" {
		http.Error(rw, "no user message in conversation", http.StatusBadRequest)
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	metrics.SSEConnections.Inc()
	defer metrics.SSEConnections.Dec()

	ctx := r.Context()
	out := make(chan domain.StreamEvent, 32)
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.engine.AskStream(ctx, query, req.Messages, out)
		close(out)
	}()

	for ev := range out {
		writeSSE(rw, ev)
		flusher.Flush()
	}

	if err := <-errCh; err != nil && ctx.Err() == nil {
		w.logger.Error("chat stream failed", "err", err)
		writeSSE(rw, domain.StreamEvent{Type: domain.StreamError, Content: err.Error()})
		flusher.Flush()
	}
}

func writeSSE(rw http.ResponseWriter, ev domain.StreamEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(rw, "data: %s\n\n", data)
}

// latestUserMessage returns the content of the last user-role message.
func latestUserMessage(msgs []domain.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": w.version,
		"time":    time.Now().Format(time.RFC3339),
	}

	if w.stats != nil {
		n, err := w.stats.Count(r.Context(), w.collection)
		if err != nil {
			status["index"] = map[string]any{"error": err.Error()}
			status["status"] = "degraded"
		} else {
			status["index"] = map[string]any{"collection": w.collection, "entries": n}
		}
	}

	if w.generator != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := w.generator.Healthy(ctx); err != nil {
			status["generator"] = map[string]any{"error": err.Error()}
			status["status"] = "degraded"
		} else {
			status["generator"] = map[string]any{"name": w.generator.Name(), "healthy": true}
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(status)
}
