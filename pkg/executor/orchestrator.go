// Package executor runs a workflow's action list when an execution request
// is dequeued, coordinating collateral and the swap-routing provider.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/quiverfi/quiver/pkg/engine"
	"github.com/quiverfi/quiver/pkg/eventbus"
	"github.com/quiverfi/quiver/pkg/events"
	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/otelhelper"
	"github.com/quiverfi/quiver/pkg/persistence"
	"github.com/quiverfi/quiver/pkg/swap"
	"github.com/quiverfi/quiver/pkg/vault"
)

// Orchestrator consumes execution requests. For each request it creates a
// PENDING execution, runs the actions strictly in sequence and finalizes
// the record exactly once.
type Orchestrator struct {
	store     persistence.Persistence
	ledger    *vault.Ledger
	provider  swap.Provider
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewOrchestrator(
	store persistence.Persistence,
	ledger *vault.Ledger,
	provider swap.Provider,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		ledger:    ledger,
		provider:  provider,
		publisher: publisher,
		logger:    logger.With("module", "executor"),
		tracer:    noop.NewTracerProvider().Tracer("executor"),
		now:       time.Now,
	}
}

// WithTracer installs the tracer spanning each execution.
func (o *Orchestrator) WithTracer(tracer trace.Tracer) *Orchestrator {
	o.tracer = tracer

	return o
}

// Handle processes one execution request. Business failures finalize the
// execution as FAILED and are not retried; transient failures leave the
// record PENDING and propagate so the job layer retries the request.
func (o *Orchestrator) Handle(ctx context.Context, event any) error {
	request, ok := event.(*events.ExecutionRequested)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "execution.handle",
		attribute.String(otelhelper.WorkflowIDKey, request.WorkflowID),
		attribute.String(otelhelper.EventIDKey, request.ID),
	)
	defer span.End()

	if err := o.handle(ctx, request); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

func (o *Orchestrator) handle(ctx context.Context, request *events.ExecutionRequested) error {
	workflow, err := o.store.WorkflowByID(ctx, request.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			o.logger.WarnContext(ctx, "execution requested for missing workflow",
				"workflow_id", request.WorkflowID)

			return nil
		}

		return engine.Transient(fmt.Errorf("failed to load workflow: %w", err))
	}

	// A deactivation racing an enqueued request wins: skip without writing
	// a terminal record.
	if !workflow.IsActive {
		o.logger.InfoContext(ctx, "workflow deactivated before dequeue, skipping",
			"workflow_id", workflow.ID)

		return nil
	}

	execution, err := o.loadOrCreateExecution(ctx, request)
	if err != nil {
		return err
	}

	if execution == nil {
		// Redelivery of an already-finalized request.
		return nil
	}

	return o.runActions(ctx, workflow, execution)
}

// loadOrCreateExecution reuses the PENDING record from an earlier attempt
// of the same request, keyed by the request id, so retries never spawn
// duplicate executions. A nil execution means the request already reached
// a terminal status.
func (o *Orchestrator) loadOrCreateExecution(ctx context.Context, request *events.ExecutionRequested) (*models.Execution, error) {
	execution, err := o.store.ExecutionByID(ctx, request.ID)
	if err == nil {
		if execution.Terminal() {
			o.logger.InfoContext(ctx, "execution already finalized, ignoring redelivery",
				"execution_id", execution.ID, "status", execution.Status)

			return nil, nil
		}

		return execution, nil
	}

	if !persistence.IsExecutionNotFound(err) {
		return nil, engine.Transient(fmt.Errorf("failed to load execution: %w", err))
	}

	execution = models.NewExecution(request.ID, request.WorkflowID, request.TriggeredBy)

	if err := o.store.SaveExecution(ctx, execution); err != nil {
		return nil, engine.Transient(fmt.Errorf("failed to create execution: %w", err))
	}

	o.logger.InfoContext(ctx, "execution started",
		"execution_id", execution.ID, "workflow_id", request.WorkflowID,
		"triggered_by", request.TriggeredBy.String())

	return execution, nil
}

// FinalizeExhausted resolves an execution whose transient failure outlived
// the retry budget, recording the last error as the terminal state. Called
// by the job layer after the final attempt.
func (o *Orchestrator) FinalizeExhausted(ctx context.Context, event any, cause error) {
	request, ok := event.(*events.ExecutionRequested)
	if !ok {
		return
	}

	execution, err := o.store.ExecutionByID(ctx, request.ID)
	if err != nil {
		if !persistence.IsExecutionNotFound(err) {
			o.logger.ErrorContext(ctx, "cannot finalize exhausted execution",
				"execution_id", request.ID, "error", err)

			return
		}

		execution = models.NewExecution(request.ID, request.WorkflowID, request.TriggeredBy)
	}

	if execution.Terminal() {
		return
	}

	terminal := fmt.Errorf("retries exhausted: %w", cause)

	workflow, err := o.store.WorkflowByID(ctx, request.WorkflowID)
	if err != nil {
		o.logger.ErrorContext(ctx, "finalizing exhausted execution without owner notification",
			"execution_id", execution.ID, "error", err)

		if err := execution.Fail(terminal.Error()); err == nil {
			if err := o.store.SaveExecution(ctx, execution); err != nil {
				o.logger.ErrorContext(ctx, "failed to save exhausted execution",
					"execution_id", execution.ID, "error", err)
			}
		}

		return
	}

	if err := o.fail(ctx, workflow, execution, terminal); err != nil {
		o.logger.ErrorContext(ctx, "failed to finalize exhausted execution",
			"execution_id", execution.ID, "error", err)
	}
}

func (o *Orchestrator) runActions(ctx context.Context, workflow *models.Workflow, execution *models.Execution) error {
	actions := make([]*models.Action, len(workflow.Actions))
	copy(actions, workflow.Actions)
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Position < actions[j].Position })

	// Fail fast: the first failure halts the sequence, completed actions
	// are not rolled back.
	for _, action := range actions[execution.ActionsExecuted:] {
		order, err := o.runAction(ctx, workflow, execution, action)
		if err != nil {
			if engine.IsTransient(err) {
				return err
			}

			return o.fail(ctx, workflow, execution, err)
		}

		orderID := ""
		if order != nil {
			orderID = order.ID
		}

		// Progress lives on the execution record, so orders placed before a
		// transient failure survive the retry.
		if err := execution.RecordAction(orderID); err != nil {
			return o.fail(ctx, workflow, execution, err)
		}

		if err := o.store.SaveExecution(ctx, execution); err != nil {
			return engine.Transient(fmt.Errorf("failed to record action progress: %w", err))
		}
	}

	return o.complete(ctx, workflow, execution)
}

func (o *Orchestrator) runAction(ctx context.Context, workflow *models.Workflow, execution *models.Execution, action *models.Action) (*swap.Order, error) {
	switch action.Kind {
	case models.ActionKindSwap:
		return o.runSwap(ctx, workflow, execution, action)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownActionKind, action.Kind)
	}
}

func (o *Orchestrator) runSwap(ctx context.Context, workflow *models.Workflow, execution *models.Execution, action *models.Action) (*swap.Order, error) {
	config := action.Swap
	if config == nil {
		return nil, fmt.Errorf("swap action %s has no configuration", action.ID)
	}

	srcChain, dstChain, err := config.EffectiveChains()
	if err != nil {
		return nil, err
	}

	sufficient, balance, err := o.ledger.SufficientBalance(
		ctx, workflow.OwnerID, workflow.WalletAddress, config.FromToken, srcChain, config.Amount)
	if err != nil {
		return nil, engine.Transient(err)
	}

	if !sufficient {
		return nil, fmt.Errorf("%w: swap needs %f %s on %s, balance is %f",
			vault.ErrInsufficientCollateral, config.Amount, config.FromToken, srcChain, balance)
	}

	receiver := config.Receiver
	if receiver == "" {
		receiver = workflow.WalletAddress
	}

	order, err := o.provider.CreateOrder(ctx, swap.OrderRequest{
		CorrelationID: execution.ID + ":" + action.ID,
		FromToken:     config.FromToken,
		ToToken:       config.ToToken,
		Amount:        config.Amount,
		FromChain:     srcChain,
		ToChain:       dstChain,
		Receiver:      receiver,
		Deadline:      config.Deadline(o.now().UTC()),
	})
	if err != nil {
		// A rejection is the provider's verdict on this order, so retrying
		// the identical request cannot succeed. Only infrastructure
		// failures go back to the retry loop.
		if errors.Is(err, swap.ErrOrderRejected) {
			return nil, fmt.Errorf("order creation failed: %w", err)
		}

		return nil, engine.Transient(fmt.Errorf("order creation failed: %w", err))
	}

	// Reserve only after the order exists, so collateral is never held for
	// swaps that were never placed.
	_, err = o.ledger.Reserve(ctx, vault.ReserveRequest{
		UserID:        workflow.OwnerID,
		Chain:         srcChain,
		Token:         config.FromToken,
		Amount:        config.Amount,
		CorrelationID: order.ID,
	})
	if err != nil {
		if errors.Is(err, vault.ErrInsufficientCollateral) {
			return nil, err
		}

		return nil, engine.Transient(fmt.Errorf("reservation failed: %w", err))
	}

	o.logger.InfoContext(ctx, "swap order placed",
		"execution_id", execution.ID, "order_id", order.ID,
		"from", config.FromToken, "to", config.ToToken,
		"src_chain", srcChain, "dst_chain", dstChain, "amount", config.Amount)

	return order, nil
}

func (o *Orchestrator) complete(ctx context.Context, workflow *models.Workflow, execution *models.Execution) error {
	if err := execution.Complete(); err != nil {
		return fmt.Errorf("failed to finalize execution %s: %w", execution.ID, err)
	}

	if err := o.store.SaveExecution(ctx, execution); err != nil {
		return engine.Transient(fmt.Errorf("failed to save completed execution: %w", err))
	}

	o.recordExecutedAt(ctx, workflow)

	o.enqueueNotification(ctx, workflow, events.NotificationRequested{
		BaseEvent: events.NewBaseEvent(events.NotificationRequestedEvent),
		UserID:    workflow.OwnerID,
		Kind:      models.NotificationKindExecutionSucceeded,
		Title:     "Automation executed",
		Message:   fmt.Sprintf("Your rule %q executed successfully.", workflow.Name),
		Metadata: map[string]any{
			"workflow_id":  workflow.ID,
			"execution_id": execution.ID,
			"order_ids":    execution.OrderIDs,
		},
	})

	o.logger.InfoContext(ctx, "execution completed",
		"execution_id", execution.ID, "workflow_id", workflow.ID,
		"actions_executed", execution.ActionsExecuted)

	return nil
}

// fail finalizes a business failure. The user sees the failure in plain
// language; the raw error stays in the execution record and the log.
func (o *Orchestrator) fail(ctx context.Context, workflow *models.Workflow, execution *models.Execution, cause error) error {
	if err := execution.Fail(cause.Error()); err != nil {
		return fmt.Errorf("failed to finalize execution %s: %w", execution.ID, err)
	}

	if err := o.store.SaveExecution(ctx, execution); err != nil {
		return engine.Transient(fmt.Errorf("failed to save failed execution: %w", err))
	}

	o.recordExecutedAt(ctx, workflow)

	message := fmt.Sprintf("Your rule %q could not execute: %s.", workflow.Name, userFacingReason(cause))

	o.enqueueNotification(ctx, workflow, events.NotificationRequested{
		BaseEvent: events.NewBaseEvent(events.NotificationRequestedEvent),
		UserID:    workflow.OwnerID,
		Kind:      models.NotificationKindExecutionFailed,
		Title:     "Automation failed",
		Message:   message,
		Metadata: map[string]any{
			"workflow_id":  workflow.ID,
			"execution_id": execution.ID,
			"error":        cause.Error(),
		},
	})

	o.logger.WarnContext(ctx, "execution failed",
		"execution_id", execution.ID, "workflow_id", workflow.ID, "error", cause)

	return nil
}

func (o *Orchestrator) recordExecutedAt(ctx context.Context, workflow *models.Workflow) {
	now := o.now().UTC()
	workflow.LastExecutedAt = &now

	if err := o.store.SaveWorkflow(ctx, workflow); err != nil {
		o.logger.WarnContext(ctx, "failed to record last executed time",
			"workflow_id", workflow.ID, "error", err)
	}
}

func (o *Orchestrator) enqueueNotification(ctx context.Context, workflow *models.Workflow, event events.NotificationRequested) {
	if err := o.publisher.Publish(ctx, workflow.OwnerID, event); err != nil {
		o.logger.ErrorContext(ctx, "failed to enqueue notification",
			"workflow_id", workflow.ID, "error", err)
	}
}

func userFacingReason(cause error) string {
	switch {
	case errors.Is(cause, vault.ErrInsufficientCollateral):
		return "insufficient collateral to cover the swap"
	case errors.Is(cause, swap.ErrOrderRejected):
		return "the swap provider rejected the order"
	default:
		return cause.Error()
	}
}
