// Package engine owns the queue handles and worker pools of one process.
// It is constructed once by the entry point and passed to anything that
// needs to enqueue work; shutdown cancels workers and closes the transport
// deterministically.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quiverfi/quiver/pkg/eventbus"
	"github.com/quiverfi/quiver/pkg/events"
	"github.com/quiverfi/quiver/pkg/models"
)

// Default per-queue concurrency bounds.
const (
	DefaultEvaluationConcurrency   = 5
	DefaultExecutionConcurrency    = 3
	DefaultNotificationConcurrency = 10
	DefaultBackgroundConcurrency   = 2
)

// executionDelay lets upstream writes settle before the execution worker
// picks the request up.
const executionDelay = time.Second

// QueueStats is a point-in-time counter snapshot for one queue.
type QueueStats struct {
	Topic     string `json:"topic"`
	Enqueued  int64  `json:"enqueued"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

type queueCounters struct {
	enqueued  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// Engine is the process-wide facade over the four queues.
type Engine struct {
	bus    eventbus.EventBus
	logger *slog.Logger

	mu       sync.Mutex
	counters map[string]*queueCounters
	topics   map[string]struct{}
}

func New(bus eventbus.EventBus, logger *slog.Logger) *Engine {
	return &Engine{
		bus:      bus,
		logger:   logger.With("module", "engine"),
		counters: make(map[string]*queueCounters),
		topics:   make(map[string]struct{}),
	}
}

// EnqueueTriggerEvaluation requests an evaluation pass; a non-empty
// workflowID narrows the pass to one workflow.
func (e *Engine) EnqueueTriggerEvaluation(ctx context.Context, workflowID string) error {
	event := events.TriggerEvaluationRequested{
		BaseEvent:  events.NewBaseEvent(events.TriggerEvaluationRequestedEvent),
		WorkflowID: workflowID,
	}

	return e.publish(ctx, event.ID, event, eventbus.PublishOptions{})
}

// EnqueueExecution requests an execution at elevated priority after a
// short eligibility delay.
func (e *Engine) EnqueueExecution(ctx context.Context, workflowID string, triggeredBy models.TriggeredBy) error {
	event := events.ExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionRequestedEvent),
		WorkflowID:  workflowID,
		TriggeredBy: triggeredBy,
	}

	opts := eventbus.PublishOptions{
		Priority: events.PriorityElevated,
		Delay:    executionDelay,
	}

	return e.publish(ctx, workflowID, event, opts)
}

// EnqueueNotification requests a fan-out to one user.
func (e *Engine) EnqueueNotification(ctx context.Context, userID string, kind models.NotificationKind, title, message string, metadata map[string]any) error {
	event := events.NotificationRequested{
		BaseEvent: events.NewBaseEvent(events.NotificationRequestedEvent),
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		Metadata:  metadata,
	}

	return e.publish(ctx, userID, event, eventbus.PublishOptions{})
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event, opts eventbus.PublishOptions) error {
	topic := event.GetType().Topic()

	if err := e.bus.PublishWithOptions(ctx, key, event, opts); err != nil {
		return fmt.Errorf("failed to enqueue on %s: %w", topic, err)
	}

	e.countersFor(topic).enqueued.Add(1)

	return nil
}

// RegisterHandler binds a handler to an event type, wrapped by the pool
// governing that event's queue.
func (e *Engine) RegisterHandler(eventType events.EventType, pool *WorkerPool, handler eventbus.EventHandler) {
	topic := eventType.Topic()
	counters := e.countersFor(topic)

	wrapped := pool.Wrap(handler)

	e.bus.Handle(eventType, func(ctx context.Context, event any) error {
		err := wrapped(ctx, event)
		if err != nil {
			counters.failed.Add(1)

			return err
		}

		counters.processed.Add(1)

		return nil
	})

	e.mu.Lock()
	e.topics[topic] = struct{}{}
	e.mu.Unlock()
}

// Start subscribes every queue that has at least one registered handler
// and blocks until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	topics := make([]string, 0, len(e.topics))
	for topic := range e.topics {
		topics = append(topics, topic)
	}
	e.mu.Unlock()

	for _, topic := range topics {
		if err := e.bus.Subscribe(ctx, topic); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}

		e.logger.InfoContext(ctx, "queue subscribed", "topic", topic)
	}

	<-ctx.Done()

	return nil
}

// Shutdown closes the queue transport. Workers stop when their
// subscription context is cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine shutting down")

	if err := e.bus.Close(); err != nil {
		return fmt.Errorf("failed to close event bus: %w", err)
	}

	return nil
}

// Stats returns a snapshot of every queue seen by this process.
func (e *Engine) Stats() []QueueStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := make([]QueueStats, 0, len(e.counters))

	for topic, counters := range e.counters {
		stats = append(stats, QueueStats{
			Topic:     topic,
			Enqueued:  counters.enqueued.Load(),
			Processed: counters.processed.Load(),
			Failed:    counters.failed.Load(),
		})
	}

	return stats
}

func (e *Engine) countersFor(topic string) *queueCounters {
	e.mu.Lock()
	defer e.mu.Unlock()

	counters, ok := e.counters[topic]
	if !ok {
		counters = &queueCounters{}
		e.counters[topic] = counters
	}

	return counters
}
