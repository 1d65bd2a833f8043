// Package scheduler drives trigger evaluation: a fixed-interval tick
// enqueues evaluation passes and cron jobs enqueue the background
// price-refresh and reconciliation work.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quiverfi/quiver/pkg/eventbus"
	"github.com/quiverfi/quiver/pkg/events"
)

const (
	DefaultInterval = 30 * time.Second

	defaultPriceRefreshSpec = "*/2 * * * *"
	defaultReconcileSpec    = "*/5 * * * *"
)

// Scheduler enqueues work on a cadence. It owns no evaluation logic; the
// evaluation worker consumes what it publishes.
type Scheduler struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger

	interval         time.Duration
	priceRefreshSpec string
	reconcileSpec    string

	cron *cron.Cron
}

type Option func(*Scheduler)

func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

func WithPriceRefreshSpec(spec string) Option {
	return func(s *Scheduler) {
		s.priceRefreshSpec = spec
	}
}

func WithReconcileSpec(spec string) Option {
	return func(s *Scheduler) {
		s.reconcileSpec = spec
	}
}

func NewScheduler(publisher eventbus.EventPublisher, logger *slog.Logger, opts ...Option) *Scheduler {
	scheduler := &Scheduler{
		publisher:        publisher,
		logger:           logger.With("module", "scheduler"),
		interval:         DefaultInterval,
		priceRefreshSpec: defaultPriceRefreshSpec,
		reconcileSpec:    defaultReconcileSpec,
		cron:             cron.New(),
	}

	for _, opt := range opts {
		opt(scheduler)
	}

	return scheduler
}

// Start runs the tick loop until ctx is cancelled. Background cron jobs
// are registered before the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.registerCronJobs(ctx); err != nil {
		return err
	}

	s.cron.Start()
	defer s.cron.Stop()

	s.logger.InfoContext(ctx, "scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")

			return nil
		case <-ticker.C:
			s.enqueueEvaluationPass(ctx)
		}
	}
}

// TriggerWorkflow enqueues an on-demand evaluation of a single workflow.
func (s *Scheduler) TriggerWorkflow(ctx context.Context, workflowID string) error {
	event := events.TriggerEvaluationRequested{
		BaseEvent:  events.NewBaseEvent(events.TriggerEvaluationRequestedEvent),
		WorkflowID: workflowID,
	}

	if err := s.publisher.Publish(ctx, workflowID, event); err != nil {
		return fmt.Errorf("failed to enqueue evaluation for workflow %s: %w", workflowID, err)
	}

	return nil
}

func (s *Scheduler) enqueueEvaluationPass(ctx context.Context) {
	event := events.TriggerEvaluationRequested{
		BaseEvent: events.NewBaseEvent(events.TriggerEvaluationRequestedEvent),
	}

	if err := s.publisher.Publish(ctx, event.ID, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue evaluation pass", "error", err)

		return
	}

	s.logger.DebugContext(ctx, "evaluation pass enqueued", "event_id", event.ID)
}

func (s *Scheduler) registerCronJobs(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.priceRefreshSpec, func() {
		event := events.PriceRefreshRequested{
			BaseEvent: events.NewBaseEvent(events.PriceRefreshRequestedEvent),
		}

		if err := s.publisher.Publish(ctx, event.ID, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to enqueue price refresh", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid price refresh schedule %q: %w", s.priceRefreshSpec, err)
	}

	_, err = s.cron.AddFunc(s.reconcileSpec, func() {
		event := events.ReconcileRequested{
			BaseEvent: events.NewBaseEvent(events.ReconcileRequestedEvent),
		}

		if err := s.publisher.Publish(ctx, event.ID, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to enqueue reconcile", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.reconcileSpec, err)
	}

	return nil
}
