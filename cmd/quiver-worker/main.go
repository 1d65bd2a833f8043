package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/quiverfi/quiver/pkg/cmd"
	"github.com/quiverfi/quiver/pkg/conditions"
	"github.com/quiverfi/quiver/pkg/engine"
	"github.com/quiverfi/quiver/pkg/events"
	"github.com/quiverfi/quiver/pkg/executor"
	"github.com/quiverfi/quiver/pkg/log"
	"github.com/quiverfi/quiver/pkg/otelhelper"
	"github.com/quiverfi/quiver/pkg/prices"
	"github.com/quiverfi/quiver/pkg/reconciler"
	"github.com/quiverfi/quiver/pkg/scheduler"
	"github.com/quiverfi/quiver/pkg/swap"
	"github.com/quiverfi/quiver/pkg/triggers"
	"github.com/quiverfi/quiver/pkg/vault"
)

func main() {
	command := &cli.Command{
		Name:                  "quiver-worker",
		Usage:                 "Run the evaluation, execution and background queue workers",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:     "price-api-url",
				Usage:    "Base URL of the market data service",
				Required: true,
				Sources:  cli.EnvVars("PRICE_API_URL"),
			},
			&cli.StringFlag{
				Name:     "swap-api-url",
				Usage:    "Base URL of the swap routing service",
				Required: true,
				Sources:  cli.EnvVars("SWAP_API_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the price cache (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.IntFlag{
				Name:    "rate-per-minute",
				Usage:   "Per-queue job rate limit (0 disables)",
				Value:   120,
				Sources: cli.EnvVars("RATE_PER_MINUTE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "json",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("quiver-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing Quiver worker")

	store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(
		command.String("event-bus"),
		command.String("kafka-brokers"),
		"quiver-worker",
		logger,
	)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	accessor, err := newPriceAccessor(command, logger)
	if err != nil {
		return err
	}

	ledger := vault.NewLedger(store, accessor, logger)
	provider := swap.NewHTTPProvider(command.String("swap-api-url"))

	orchestrator := executor.NewOrchestrator(store, ledger, provider, eventBus, logger)

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "quiver-worker")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		orchestrator.WithTracer(tracer)
	}

	evaluator := triggers.NewEvaluator(accessor, logger)
	gate := conditions.NewGate(accessor, logger)
	evaluation := scheduler.NewEvaluationHandler(store, evaluator, gate, eventBus, logger)

	refresher := prices.NewRefresher(store, accessor, logger)
	sweeper := reconciler.NewSweeper(store, eventBus, logger)

	rate := int(command.Int("rate-per-minute"))

	eng := engine.New(eventBus, logger)

	evaluationPool := engine.NewWorkerPool(
		events.TriggerEvaluationTopic, engine.DefaultEvaluationConcurrency, rate, logger)
	executionPool := engine.NewWorkerPool(
		events.ExecutionTopic, engine.DefaultExecutionConcurrency, rate, logger,
		engine.WithExhaustedFunc(orchestrator.FinalizeExhausted))
	backgroundPool := engine.NewWorkerPool(
		events.BackgroundTopic, engine.DefaultBackgroundConcurrency, rate, logger)

	eng.RegisterHandler(events.TriggerEvaluationRequestedEvent, evaluationPool, evaluation.Handle)
	eng.RegisterHandler(events.ExecutionRequestedEvent, executionPool, orchestrator.Handle)
	eng.RegisterHandler(events.PriceRefreshRequestedEvent, backgroundPool, func(ctx context.Context, _ any) error {
		return refresher.Refresh(ctx)
	})
	eng.RegisterHandler(events.ReconcileRequestedEvent, backgroundPool, func(ctx context.Context, _ any) error {
		return sweeper.Sweep(ctx)
	})

	return eng.Start(ctx)
}

// newPriceAccessor builds the price/balance accessor, wrapped by the Redis
// read-through cache when a Redis URL is configured.
func newPriceAccessor(command *cli.Command, logger *slog.Logger) (prices.Accessor, error) {
	accessor := prices.NewHTTPAccessor(command.String("price-api-url"))

	redisURL := command.String("redis-url")
	if redisURL == "" {
		return accessor, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return prices.NewCachedAccessor(accessor, redis.NewClient(opts), logger), nil
}
