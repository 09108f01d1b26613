package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turnrelay/pkg/bus"
	"turnrelay/pkg/config"
	"turnrelay/pkg/dispatch"
	"turnrelay/pkg/gateway"
	"turnrelay/pkg/logger"
	"turnrelay/pkg/observability"
	"turnrelay/pkg/provider"
	"turnrelay/pkg/telemetry"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the batch dispatch worker",
	Long:  "Polls the configured queue, dispatches chat-turn events to model adapters and serves health, readiness and metrics endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		if _, err := logger.Setup(cfg.Logging, "turnrelay"); err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		log := slog.Default().With("component", "cmd.worker")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runWorker(runCtx, cfg, cmd.OutOrStdout(), log); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Worker failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(ctx context.Context, cfg *config.Config, traceOut io.Writer, log *slog.Logger) error {
	var cleanup closer
	defer cleanup.close(log)

	shutdownTracing, err := telemetry.Setup(cfg.Telemetry, traceOut)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	cleanup.add(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(shutdownCtx)
	})

	store := buildSecretStore(cfg)
	materializeSecrets(ctx, cfg, store, log)

	registry, err := provider.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize adapters: %w", err)
	}

	resolver, err := buildResolver(cfg, store, log)
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(cfg, log, &cleanup)
	if err != nil {
		return err
	}

	transport, err := buildTransport(cfg, log)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	cleanup.add(transport.Close)

	events := bus.NewBus()
	cleanup.add(func() error {
		events.Close()
		return nil
	})
	go events.ObserveEvents(ctx, log)

	metrics := observability.NewMetrics()
	dispatcher, err := dispatch.NewDispatcher(dispatch.Deps{
		Registry: registry,
		Resolver: resolver,
		Notifier: notifier,
		Metrics:  metrics,
		Bus:      events,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	svc, err := gateway.NewService(cfg, transport, dispatcher, metrics, log)
	if err != nil {
		return fmt.Errorf("initialize worker service: %w", err)
	}

	log.Info("Worker configured",
		"queue", cfg.Queue.Type,
		"adapters", registry.Patterns(),
		"web_search", cfg.WebSearch.Enabled,
		"knowledge_base", cfg.Retrieval.Weaviate.Enabled,
	)
	return svc.Run(ctx)
}
