// Package main implements the retrieval query API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/rag"
	"github.com/Scopeo/draftnrun-sub004/engine/semantic"
	"github.com/Scopeo/draftnrun-sub004/pkg/config"
	"github.com/Scopeo/draftnrun-sub004/pkg/metrics"
	"github.com/Scopeo/draftnrun-sub004/pkg/mid"
	"github.com/Scopeo/draftnrun-sub004/pkg/ollama"
	"github.com/Scopeo/draftnrun-sub004/pkg/resilience"
)

const maxRequestBody = 1 << 20

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config")
	flag.Parse()

	config.LoadDotenv()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := semantic.New(cfg.Qdrant.Addr, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	reg := metrics.New()
	opts := cfg.RetrievalOptions()
	opts.Metrics = reg
	embedder := ollama.NewEmbedClient(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.EmbedOptions())
	svc := rag.New(embedder, store, cfg.Registry(logger), opts, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      newHandler(svc, reg, searchLimiter(cfg.HTTP), cfg.HTTP.CORSOrigin, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.HTTP.Port, "qdrant", cfg.Qdrant.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// searcher is the part of rag.Service the handlers need.
type searcher interface {
	Search(ctx context.Context, req rag.SearchRequest) ([]domain.SourceChunk, error)
}

// searchLimiter returns nil when search rate limiting is off.
func searchLimiter(c config.HTTPConfig) *resilience.Limiter {
	if c.SearchRatePerSecond <= 0 {
		return nil
	}
	return resilience.NewLimiter(resilience.LimiterOpts{Rate: c.SearchRatePerSecond, Burst: c.SearchBurst})
}

func newHandler(svc searcher, reg *metrics.Registry, limit *resilience.Limiter, corsOrigin string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	var search http.Handler = handleSearch(svc, logger)
	if limit != nil {
		search = mid.RateLimit(limit)(search)
	}
	mux.Handle("POST /api/search", search)
	mux.Handle("GET /metrics", reg.Handler())

	return mid.Chain(mux,
		mid.Recover(logger),
		mid.WithRequestID(),
		mid.OTel("draftnrun-api"),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS(corsOrigin),
		mid.MaxBody(maxRequestBody),
	)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SearchResponse is the JSON response for POST /api/search.
type SearchResponse struct {
	Chunks []domain.SourceChunk `json:"chunks"`
	Count  int                  `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func handleSearch(svc searcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rag.SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if req.Index == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "index is required"})
			return
		}

		chunks, err := svc.Search(r.Context(), req)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				logger.Error("search failed", "err", err, "index", req.Index, "request_id", mid.RequestID(r.Context()))
			}
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, SearchResponse{Chunks: chunks, Count: len(chunks)})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsBatchFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
