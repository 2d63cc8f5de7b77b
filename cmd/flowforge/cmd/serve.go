package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/flowforge/internal/adapters/provider"
	"github.com/hugo-lorenzo-mato/flowforge/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/flowforge/internal/api"
	"github.com/hugo-lorenzo-mato/flowforge/internal/config"
	"github.com/hugo-lorenzo-mato/flowforge/internal/events"
	"github.com/hugo-lorenzo-mato/flowforge/internal/logging"
	"github.com/hugo-lorenzo-mato/flowforge/internal/service/queue"
	"github.com/hugo-lorenzo-mato/flowforge/internal/service/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, worker pool and reaper",
	Long: `Start everything one node needs: the HTTP API, the worker pool that
claims and runs jobs, the reaper that recovers crashed workers, and the
workflow definition watcher.

Examples:
  # Start with defaults (localhost:8080)
  flowforge serve

  # Start on a custom host and port
  flowforge serve --host 0.0.0.0 --port 3000

  # API only, workers run elsewhere via 'flowforge work'
  flowforge serve --workers 0`,
	RunE: runServe,
}

var (
	serveHost    string
	servePort    int
	serveWorkers int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "host address to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", -1,
		"worker pool size (0 disables workers on this node)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveWorkers >= 0 {
		cfg.Queue.Workers = serveWorkers
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

	publisher := workflow.NewPublisher(cfg.Publish.Dir)
	engine := workflow.NewEngine(store, publisher, bus, logger,
		workflow.WithDefaultMaxRetries(cfg.Queue.MaxRetries))

	defLoader := workflow.NewDefinitionLoader(store, logger)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Definitions.Dir != "" {
		if _, err := os.Stat(cfg.Definitions.Dir); err == nil {
			if _, err := defLoader.LoadDir(ctx, cfg.Definitions.Dir); err != nil {
				return err
			}
		}
	}

	server := api.NewServer(store, engine, bus, api.WithLogger(logger))
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, addr)
	})

	if cfg.Queue.Workers > 0 {
		pool := queue.NewPool(store, newInvoker(registry, cfg), engine, bus, logger, queue.PoolOptions{
			Workers:      cfg.Queue.Workers,
			PollInterval: cfg.Queue.PollInterval,
			Backoff:      queue.NewBackoff(cfg.Queue.BackoffBase, cfg.Queue.BackoffMax),
		})
		g.Go(func() error {
			return pool.Run(ctx)
		})
	}

	reaper := queue.NewReaper(store, engine, bus, logger, queue.ReaperOptions{
		Interval: cfg.Queue.ReaperInterval,
		Timeout:  cfg.Queue.ReaperTimeout,
	})
	g.Go(func() error {
		return reaper.Run(ctx)
	})

	if cfg.Definitions.Watch && cfg.Definitions.Dir != "" {
		if _, err := os.Stat(cfg.Definitions.Dir); err == nil {
			g.Go(func() error {
				err := defLoader.Watch(ctx, cfg.Definitions.Dir)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	}

	logger.Info("flowforge started",
		"addr", addr, "workers", cfg.Queue.Workers, "state", cfg.State.Path)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildProviderRegistry registers every enabled provider from config.
func buildProviderRegistry(cfg *config.Config, logger *logging.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if cfg.Providers.OpenAI.Enabled && cfg.Providers.OpenAI.APIKey != "" {
		p, err := provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			Timeout: cfg.Providers.OpenAI.Timeout,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}
	if cfg.Providers.Anthropic.Enabled && cfg.Providers.Anthropic.APIKey != "" {
		p, err := provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:  cfg.Providers.Anthropic.APIKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
			Timeout: cfg.Providers.Anthropic.Timeout,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}

	if len(registry.Names()) == 0 {
		logger.Warn("no providers configured, ai jobs will fail until one is enabled")
	} else {
		logger.Info("providers configured", "available", registry.Names())
	}
	return registry, nil
}

func newInvoker(registry *provider.Registry, cfg *config.Config) *queue.Invoker {
	return queue.NewInvoker(registry, cfg.Providers, cfg.Queue.InvokeTimeout)
}
