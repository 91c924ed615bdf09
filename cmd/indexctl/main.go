// Command indexctl syncs snapshots into vector indexes and queries them.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Scopeo/draftnrun-sub004/engine/rag"
	"github.com/Scopeo/draftnrun-sub004/engine/schema"
	"github.com/Scopeo/draftnrun-sub004/engine/semantic"
	"github.com/Scopeo/draftnrun-sub004/engine/syncer"
	"github.com/Scopeo/draftnrun-sub004/pkg/config"
	"github.com/Scopeo/draftnrun-sub004/pkg/lock"
	"github.com/Scopeo/draftnrun-sub004/pkg/ollama"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(openEnv).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	config  string
	memory  bool
	verbose bool
}

// env is what a subcommand runs against.
type env struct {
	cfg     config.Config
	index   semantic.Index
	embed   syncer.Embedder
	schemas *schema.Registry
	logger  *slog.Logger
	close   func() error
}

func (e *env) syncer() *syncer.Engine {
	opts := e.cfg.SyncOptions()
	opts.Logger = e.logger
	if e.cfg.LockDir != "" {
		if dir, err := lock.NewDir(e.cfg.LockDir); err == nil {
			opts.Locker = dir
		} else {
			e.logger.Warn("lock dir unavailable, syncing without lock", "err", err)
		}
	}
	return syncer.New(e.index, e.embed, e.schemas, opts)
}

func (e *env) retrieval() *rag.Service {
	return rag.New(e.embed, e.index, e.schemas, e.cfg.RetrievalOptions(), e.logger)
}

type envOpener func(g globalFlags, stderr io.Writer) (*env, error)

// openEnv connects to Qdrant and the embedding gateway described by the
// loaded configuration.
func openEnv(g globalFlags, stderr io.Writer) (*env, error) {
	config.LoadDotenv()
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, err
	}
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	e := &env{
		cfg:     cfg,
		embed:   ollama.NewEmbedClient(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.EmbedOptions()),
		schemas: cfg.Registry(logger),
		logger:  logger,
		close:   func() error { return nil },
	}
	if g.memory {
		e.index = semantic.NewMemory()
		return e, nil
	}
	store, err := semantic.New(cfg.Qdrant.Addr, cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	e.index = store
	e.close = store.Close
	return e, nil
}

func newRootCmd(open envOpener) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:          "indexctl",
		Short:        "Sync chunk snapshots into vector indexes and query them",
		SilenceUsage: true,
		Long: `indexctl keeps a Qdrant collection in line with an authoritative snapshot
of content chunks, read from a JSON Lines file or a SQLite table, and runs
retrieval queries against it.`,
	}
	root.PersistentFlags().StringVar(&g.config, "config", os.Getenv("CONFIG_FILE"), "path to YAML config")
	root.PersistentFlags().BoolVar(&g.memory, "memory", false, "use an in-process index instead of Qdrant")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log progress to stderr")

	// withEnv opens the environment for a subcommand and closes it afterwards.
	withEnv := func(run func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			e, err := open(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := e.close(); cerr != nil {
					e.logger.Warn("close index", "err", cerr)
				}
			}()
			return run(cmd, e, args)
		}
	}

	root.AddCommand(
		newSyncCmd(withEnv),
		newPlanCmd(withEnv),
		newSearchCmd(withEnv),
		newCountCmd(withEnv),
		newDropCmd(withEnv),
		newPublishCmd(&g),
	)
	return root
}

type runWithEnv func(run func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error
