package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/sidekick/internal/config"
	"github.com/dohr-michael/sidekick/internal/events"
	"github.com/dohr-michael/sidekick/internal/gateway"
	"github.com/dohr-michael/sidekick/internal/notify"
	"github.com/dohr-michael/sidekick/internal/pipeline"
	"github.com/dohr-michael/sidekick/internal/store"
	"github.com/dohr-michael/sidekick/internal/stream"
	"github.com/dohr-michael/sidekick/internal/tasks"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Sidekick task server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// SIGHUP rereads .env and the config file; listeners pick up whatever
	// can change without a restart.
	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := reloader.Reload(); err != nil {
				slog.Error("config reload", "error", err)
			}
		}
	}()

	// Event bus + JSONL audit journal
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	journal := events.NewJournal(filepath.Join(config.SidekickPath(), "events"), bus)
	defer journal.Close()

	// Task store
	taskStore, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer taskStore.Close()

	// Orchestrator + notification relay
	relay := notify.NewRelay(bus, cfg.Notify.Enabled)
	reloader.OnReload(func(next *config.Config) {
		relay.SetEnabled(next.Notify.Enabled)
	})
	service := tasks.NewService(taskStore, bus, relay)

	// Tasks left streaming by a crash would conflict forever.
	if recovered, err := service.RecoverStale(ctx); err != nil {
		return fmt.Errorf("recover streaming tasks: %w", err)
	} else if recovered > 0 {
		slog.Info("recovered tasks left streaming by a previous run", "count", recovered)
	}

	// Stream registry + retention sweep
	registry := stream.NewRegistry(cfg.Streams.Retention.Duration())
	sweeper, err := stream.NewSweeper(registry, cfg.Streams.SweepSpec)
	if err != nil {
		return fmt.Errorf("init stream sweeper: %w", err)
	}
	go sweeper.Run(ctx)

	// Generation pipeline
	provider, ok := cfg.Models.Providers[cfg.Models.Default]
	if !ok {
		if cfg.Models.Default != "" {
			return fmt.Errorf("model provider %q not configured", cfg.Models.Default)
		}
		provider = config.ProviderConfig{
			Driver: "anthropic",
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
		}
	}
	chatModel, err := pipeline.CreateModel(ctx, provider)
	if err != nil {
		return fmt.Errorf("init chat model: %w", err)
	}
	pipe, err := pipeline.NewEinoPipeline(chatModel, pipeline.BuiltinToolInfos())
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	slog.Info("pipeline ready", "provider", cfg.Models.Default, "model", provider.Model)

	// Gateway server
	chat := gateway.NewChatHandler(service, registry, pipe, bus, cfg.Gateway.IdleTimeout.Duration())
	server := gateway.NewServer(bus, service, chat, cfg.Gateway.Host, cfg.Gateway.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
