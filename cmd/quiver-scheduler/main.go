package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/quiverfi/quiver/pkg/cmd"
	"github.com/quiverfi/quiver/pkg/log"
	"github.com/quiverfi/quiver/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "quiver-scheduler",
		Usage:                 "Enqueue trigger evaluation passes and background jobs on a cadence",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "Evaluation pass interval",
				Value:   scheduler.DefaultInterval,
				Sources: cli.EnvVars("SCHEDULER_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "price-refresh-schedule",
				Usage:   "Cron spec for the price refresh job",
				Sources: cli.EnvVars("PRICE_REFRESH_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "reconcile-schedule",
				Usage:   "Cron spec for the stale execution sweep",
				Sources: cli.EnvVars("RECONCILE_SCHEDULE"),
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
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("quiver-scheduler")
			logger.InfoContext(ctx, "Initializing Quiver scheduler")

			eventBus := cmd.NewEventBus(
				command.String("event-bus"),
				command.String("kafka-brokers"),
				"quiver-scheduler",
				logger,
			)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			opts := []scheduler.Option{}

			if interval := command.Duration("interval"); interval > 0 {
				opts = append(opts, scheduler.WithInterval(interval))
			}

			if spec := command.String("price-refresh-schedule"); spec != "" {
				opts = append(opts, scheduler.WithPriceRefreshSpec(spec))
			}

			if spec := command.String("reconcile-schedule"); spec != "" {
				opts = append(opts, scheduler.WithReconcileSpec(spec))
			}

			return scheduler.NewScheduler(eventBus, logger, opts...).Start(ctx)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		panic(err)
	}
}
