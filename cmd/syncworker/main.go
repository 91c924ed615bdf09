// Command syncworker consumes index sync jobs from NATS and applies them to
// Qdrant.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Scopeo/draftnrun-sub004/engine/ingest"
	"github.com/Scopeo/draftnrun-sub004/engine/semantic"
	"github.com/Scopeo/draftnrun-sub004/engine/syncer"
	"github.com/Scopeo/draftnrun-sub004/pkg/config"
	"github.com/Scopeo/draftnrun-sub004/pkg/fn"
	"github.com/Scopeo/draftnrun-sub004/pkg/lock"
	"github.com/Scopeo/draftnrun-sub004/pkg/metrics"
	"github.com/Scopeo/draftnrun-sub004/pkg/ollama"
	"github.com/Scopeo/draftnrun-sub004/pkg/resilience"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var (
		configPath = flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config")
		attempts   = flag.Int("attempts", fn.DefaultRetry.MaxAttempts, "attempts per job before it goes to the DLQ")
		jobTimeout = flag.Duration("job-timeout", ingest.DefaultJobTimeout, "upper bound for one job including retries")
		jobRate    = flag.Float64("job-rate", 0, "jobs started per second, 0 for unlimited")
	)
	flag.Parse()

	config.LoadDotenv()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	retry := fn.DefaultRetry
	retry.MaxAttempts = *attempts
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: *jobRate, Burst: 1})
	if err := run(cfg, retry, limiter, *jobTimeout, logger); err != nil {
		logger.Error("syncworker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, retry fn.RetryOpts, limiter *resilience.Limiter, jobTimeout time.Duration, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	reg.CollectRuntime(ctx, "draftnrun_syncworker", 15*time.Second)
	reg.ServeAsync(ctx, cfg.MetricsPort, logger)

	store, err := semantic.New(cfg.Qdrant.Addr, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	opts := cfg.SyncOptions()
	opts.Logger = logger
	opts.Metrics = syncer.NewMetrics(reg)
	if cfg.LockDir != "" {
		dir, err := lock.NewDir(cfg.LockDir)
		if err != nil {
			return err
		}
		opts.Locker = dir
	}
	embedder := ollama.NewEmbedClient(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.EmbedOptions())
	engine := syncer.New(store, embedder, cfg.Registry(logger), opts)

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("draftnrun-syncworker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	worker := ingest.NewWorker(ingest.Deps{
		Syncer:     engine,
		Retry:      retry,
		Limiter:    limiter,
		JobTimeout: jobTimeout,
		Logger:     logger,
	})
	sub, err := ingest.StartConsumer(nc, worker)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ingest.SyncSubject, err)
	}
	logger.Info("syncworker started",
		"subject", ingest.SyncSubject, "queue", ingest.QueueGroup,
		"nats", cfg.NATSURL, "qdrant", cfg.Qdrant.Addr)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	if err := sub.Drain(); err != nil {
		logger.Warn("drain subscription", "err", err)
	}
	return nc.Drain()
}
