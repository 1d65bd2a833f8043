package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/quiverfi/quiver/pkg/cmd"
	"github.com/quiverfi/quiver/pkg/engine"
	"github.com/quiverfi/quiver/pkg/events"
	"github.com/quiverfi/quiver/pkg/log"
	"github.com/quiverfi/quiver/pkg/notify"
)

func main() {
	command := &cli.Command{
		Name:                  "quiver-notifier",
		Usage:                 "Fan outcome notifications out to user channels",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
				Name:    "email-relay-url",
				Usage:   "Mail relay endpoint for the email channel",
				Sources: cli.EnvVars("EMAIL_RELAY_URL"),
			},
			&cli.StringFlag{
				Name:    "chat-webhook-url",
				Usage:   "Webhook endpoint for the chat-bot channel",
				Sources: cli.EnvVars("CHAT_WEBHOOK_URL"),
			},
			&cli.StringFlag{
				Name:    "push-gateway-url",
				Usage:   "Gateway endpoint for the push channel",
				Sources: cli.EnvVars("PUSH_GATEWAY_URL"),
			},
			&cli.IntFlag{
				Name:    "rate-per-minute",
				Usage:   "Notification job rate limit (0 disables)",
				Value:   300,
				Sources: cli.EnvVars("RATE_PER_MINUTE"),
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

	logger := log.WithModule("quiver-notifier")
	logger.InfoContext(ctx, "Initializing Quiver notifier")

	store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(
		command.String("event-bus"),
		command.String("kafka-brokers"),
		"quiver-notifier",
		logger,
	)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	dispatcher := notify.NewDispatcher(store, []notify.Channel{
		notify.NewInAppChannel(),
		notify.NewEmailChannel(command.String("email-relay-url")),
		notify.NewChatBotChannel(command.String("chat-webhook-url")),
		notify.NewPushChannel(command.String("push-gateway-url")),
	}, logger)

	eng := engine.New(eventBus, logger)

	pool := engine.NewWorkerPool(
		events.NotificationTopic,
		engine.DefaultNotificationConcurrency,
		int(command.Int("rate-per-minute")),
		logger,
	)

	eng.RegisterHandler(events.NotificationRequestedEvent, pool, dispatcher.Handle)

	return eng.Start(ctx)
}
