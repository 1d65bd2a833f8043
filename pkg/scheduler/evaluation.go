package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quiverfi/quiver/pkg/conditions"
	"github.com/quiverfi/quiver/pkg/eventbus"
	"github.com/quiverfi/quiver/pkg/events"
	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
	"github.com/quiverfi/quiver/pkg/triggers"
)

// DefaultCooldown suppresses repeat firings of a trigger whose predicate
// stays true across consecutive passes, unless the trigger overrides it.
const DefaultCooldown = 5 * time.Minute

// executionDelay gives the workflow save a moment to settle before the
// execution worker dequeues the request.
const executionDelay = time.Second

// EvaluationHandler consumes evaluation requests: it loads the active
// workflows, evaluates trigger and gate, and enqueues execution requests
// for matched rules.
type EvaluationHandler struct {
	workflows persistence.WorkflowRepository
	evaluator *triggers.Evaluator
	gate      *conditions.Gate
	publisher eventbus.EventPublisher
	logger    *slog.Logger

	cooldown time.Duration
	now      func() time.Time
}

func NewEvaluationHandler(
	workflows persistence.WorkflowRepository,
	evaluator *triggers.Evaluator,
	gate *conditions.Gate,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *EvaluationHandler {
	return &EvaluationHandler{
		workflows: workflows,
		evaluator: evaluator,
		gate:      gate,
		publisher: publisher,
		logger:    logger.With("module", "evaluation_handler"),
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
}

// Handle runs one evaluation pass. Per-workflow errors are logged and do
// not abort evaluation of the remaining workflows.
func (h *EvaluationHandler) Handle(ctx context.Context, event any) error {
	request, ok := event.(*events.TriggerEvaluationRequested)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	filter := persistence.WorkflowFilter{ActiveOnly: true, ID: request.WorkflowID}

	workflows, err := h.workflows.Workflows(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	fired := 0

	for _, workflow := range workflows {
		ok, err := h.evaluateWorkflow(ctx, workflow)
		if err != nil {
			h.logger.ErrorContext(ctx, "workflow evaluation failed",
				"workflow_id", workflow.ID, "error", err)

			continue
		}

		if ok {
			fired++
		}
	}

	h.logger.InfoContext(ctx, "evaluation pass complete",
		"workflows", len(workflows), "fired", fired)

	return nil
}

func (h *EvaluationHandler) evaluateWorkflow(ctx context.Context, workflow *models.Workflow) (bool, error) {
	if workflow.Trigger == nil {
		return false, nil
	}

	now := h.now().UTC()

	if workflow.InCooldown(now, workflow.Trigger.Cooldown(h.cooldown)) {
		h.logger.DebugContext(ctx, "workflow in cool-down, skipping", "workflow_id", workflow.ID)

		return false, nil
	}

	fired, err := h.evaluator.Evaluate(ctx, workflow)
	if err != nil {
		return false, fmt.Errorf("trigger evaluation: %w", err)
	}

	if !fired {
		return false, nil
	}

	passed, err := h.gate.Evaluate(ctx, workflow.WalletAddress, workflow.Conditions)
	if err != nil {
		return false, fmt.Errorf("condition gate: %w", err)
	}

	if !passed {
		h.logger.DebugContext(ctx, "trigger fired but gate refused", "workflow_id", workflow.ID)

		return false, nil
	}

	if err := h.enqueueExecution(ctx, workflow, now); err != nil {
		return false, err
	}

	// The cool-down marker is written when the request is enqueued, not
	// when the execution finishes.
	workflow.LastFiredAt = &now
	if err := h.workflows.SaveWorkflow(ctx, workflow); err != nil {
		h.logger.WarnContext(ctx, "failed to record cool-down marker",
			"workflow_id", workflow.ID, "error", err)
	}

	return true, nil
}

func (h *EvaluationHandler) enqueueExecution(ctx context.Context, workflow *models.Workflow, now time.Time) error {
	event := events.ExecutionRequested{
		BaseEvent:  events.NewBaseEvent(events.ExecutionRequestedEvent),
		WorkflowID: workflow.ID,
		TriggeredBy: models.TriggeredBy{
			TriggerID:   workflow.Trigger.ID,
			TriggerKind: workflow.Trigger.Kind,
			Timestamp:   now,
		},
	}

	opts := eventbus.PublishOptions{
		Priority: events.PriorityElevated,
		Delay:    executionDelay,
	}

	if err := h.publisher.PublishWithOptions(ctx, workflow.ID, event, opts); err != nil {
		return fmt.Errorf("failed to enqueue execution: %w", err)
	}

	h.logger.InfoContext(ctx, "execution request enqueued",
		"workflow_id", workflow.ID, "trigger_kind", workflow.Trigger.Kind)

	return nil
}
