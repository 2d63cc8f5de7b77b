package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/flowforge/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/flowforge/internal/events"
	"github.com/hugo-lorenzo-mato/flowforge/internal/service/queue"
	"github.com/hugo-lorenzo-mato/flowforge/internal/service/workflow"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run workers and the reaper without the API server",
	Long: `Run the worker pool and reaper against the shared state database.
Use this to scale job throughput on machines that do not need to serve
the HTTP API.`,
	RunE: runWork,
}

var workWorkers int

func init() {
	rootCmd.AddCommand(workCmd)

	workCmd.Flags().IntVar(&workWorkers, "workers", 0,
		"worker pool size (default: queue.workers from config)")
}

func runWork(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if workWorkers > 0 {
		cfg.Queue.Workers = workWorkers
	}
	logger := newLogger(cfg)

	store, err := state.NewSQLiteStore(cfg.State.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.New(100)
	defer bus.Close()

	registry, err := buildProviderRegistry(cfg, logger)
	if err != nil {
		return err
	}

	engine := workflow.NewEngine(store, workflow.NewPublisher(cfg.Publish.Dir), bus, logger,
		workflow.WithDefaultMaxRetries(cfg.Queue.MaxRetries))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := queue.NewPool(store, newInvoker(registry, cfg), engine, bus, logger, queue.PoolOptions{
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval,
		Backoff:      queue.NewBackoff(cfg.Queue.BackoffBase, cfg.Queue.BackoffMax),
	})
	reaper := queue.NewReaper(store, engine, bus, logger, queue.ReaperOptions{
		Interval: cfg.Queue.ReaperInterval,
		Timeout:  cfg.Queue.ReaperTimeout,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return reaper.Run(ctx) })

	logger.Info("workers started", "workers", cfg.Queue.Workers, "state", cfg.State.Path)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
