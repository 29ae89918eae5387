// Package main implements the corpus API server: document ingestion, hybrid
// search, and filtered deletion over the vector store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CorpusAI/corpus-mvp/engine/domain"
	"github.com/CorpusAI/corpus-mvp/engine/hybrid"
	"github.com/CorpusAI/corpus-mvp/engine/ingest"
	"github.com/CorpusAI/corpus-mvp/engine/semantic"
	"github.com/CorpusAI/corpus-mvp/pkg/metrics"
	"github.com/CorpusAI/corpus-mvp/pkg/mid"
	"github.com/CorpusAI/corpus-mvp/pkg/ollama"
	"github.com/CorpusAI/corpus-mvp/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	OllamaURL   string
	OllamaModel string
	EmbedDims   int
	QdrantURL   string
	Collection  string
	CORSOrigin  string
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: envOr("OLLAMA_MODEL", "nomic-embed-text"),
		EmbedDims:   envIntOr("EMBED_DIMS", 768),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "corpus"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Qdrant ---
	store, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx, cfg.EmbedDims); err != nil {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}

	// --- Embedder with circuit breaker ---
	embedder := ollama.New(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbedDims)
	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	guarded := &guardedEmbedder{inner: embedder, breaker: breaker}

	// --- Services ---
	ingestSvc := ingest.NewService(ingest.Deps{
		Embedder: guarded,
		Store:    store,
		Logger:   logger,
	})
	searchEngine := hybrid.New(guarded, store, logger)

	reg := metrics.New()

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(store))
	mux.HandleFunc("POST /api/ingest", handleIngest(ingestSvc, reg, logger))
	mux.HandleFunc("POST /api/search", handleSearch(searchEngine, reg, logger))
	mux.HandleFunc("POST /api/documents/delete", handleDelete(store, reg, logger))
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("corpus-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// guardedEmbedder runs embedding calls through a circuit breaker so a dead
// embedding service sheds load instead of queueing requests.
type guardedEmbedder struct {
	inner   *ollama.Client
	breaker *resilience.Breaker
}

func (g *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var inner error
		out, inner = g.inner.Embed(ctx, text)
		return inner
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, domain.Unavailable("embedding service", err)
	}
	return out, err
}

func (g *guardedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var inner error
		out, inner = g.inner.EmbedBatch(ctx, texts)
		return inner
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, domain.Unavailable("embedding service", err)
	}
	return out, err
}

func (g *guardedEmbedder) Dimensions() int   { return g.inner.Dimensions() }
func (g *guardedEmbedder) ModelName() string { return g.inner.ModelName() }

// --- Handlers ---

// ingester is the slice of ingest.Service the handler needs.
type ingester interface {
	Ingest(ctx context.Context, text string, meta domain.Metadata) (ingest.Receipt, error)
}

// searcher is the slice of hybrid.Engine the handler needs.
type searcher interface {
	Search(ctx context.Context, query string, filter *domain.SearchFilter, opts hybrid.Options) ([]hybrid.Result, error)
}

// deleter is the slice of semantic.VectorStore the delete handler needs.
type deleter interface {
	DeleteByFilter(ctx context.Context, filter *domain.SearchFilter) (uint64, error)
}

// prober reports store health.
type prober interface {
	Health(ctx context.Context) semantic.Health
}

func handleHealth(store prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := store.Health(r.Context())
		status := http.StatusOK
		if !h.Available {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"status":         map[bool]string{true: "ok", false: "degraded"}[h.Available],
			"document_count": h.DocumentCount,
		})
	}
}

// IngestRequest is the JSON body for POST /api/ingest.
type IngestRequest struct {
	Text     string          `json:"text"`
	Metadata domain.Metadata `json:"metadata"`
}

func handleIngest(svc ingester, reg *metrics.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		receipt, err := svc.Ingest(r.Context(), req.Text, req.Metadata)
		if err != nil {
			writeDomainError(w, err, logger)
			return
		}

		reg.Counter("corpus_api_documents_ingested_total", "documents ingested via API").Inc()
		reg.Counter("corpus_api_chunks_created_total", "chunks created via API").Add(int64(receipt.ChunksCreated))
		writeJSON(w, http.StatusOK, receipt)
	}
}

// SearchRequest is the JSON body for POST /api/search.
type SearchRequest struct {
	Query         string               `json:"query"`
	Filter        *domain.SearchFilter `json:"filter,omitempty"`
	Limit         int                  `json:"limit,omitempty"`
	VectorWeight  *float64             `json:"vector_weight,omitempty"`
	KeywordWeight *float64             `json:"keyword_weight,omitempty"`
}

// SearchResponse is the JSON response for POST /api/search.
type SearchResponse struct {
	Results []hybrid.Result `json:"results"`
	Count   int             `json:"count"`
}

func handleSearch(engine searcher, reg *metrics.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		opts := hybrid.DefaultOptions()
		if req.Limit > 0 {
			opts.Limit = req.Limit
		}
		if req.VectorWeight != nil {
			opts.VectorWeight = *req.VectorWeight
		}
		if req.KeywordWeight != nil {
			opts.KeywordWeight = *req.KeywordWeight
		}

		results, err := engine.Search(r.Context(), req.Query, req.Filter, opts)
		if err != nil {
			writeDomainError(w, err, logger)
			return
		}

		reg.Counter("corpus_api_searches_total", "search requests served").Inc()
		if results == nil {
			results = []hybrid.Result{}
		}
		writeJSON(w, http.StatusOK, SearchResponse{Results: results, Count: len(results)})
	}
}

// DeleteRequest is the JSON body for POST /api/documents/delete.
type DeleteRequest struct {
	Filter *domain.SearchFilter `json:"filter"`
}

func handleDelete(store deleter, reg *metrics.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		deleted, err := store.DeleteByFilter(r.Context(), req.Filter)
		if err != nil {
			writeDomainError(w, err, logger)
			return
		}

		reg.Counter("corpus_api_points_deleted_total", "points deleted via API").Add(int64(deleted))
		writeJSON(w, http.StatusOK, map[string]uint64{"deleted": deleted})
	}
}

// writeDomainError maps the error taxonomy onto HTTP statuses: validation
// failures are the caller's fault, availability failures are retryable.
func writeDomainError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case domain.IsRetryable(err):
		logger.Warn("dependency unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
