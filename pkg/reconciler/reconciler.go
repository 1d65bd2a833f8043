// Package reconciler resolves executions stranded in PENDING by a worker
// crash, preserving the state machine's terminality guarantee.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quiverfi/quiver/pkg/eventbus"
	"github.com/quiverfi/quiver/pkg/events"
	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
)

// DefaultStaleBound is how long an execution may stay PENDING before the
// sweep declares it abandoned. Generous enough to outlive the retry budget
// of a live worker.
const DefaultStaleBound = 15 * time.Minute

// Sweeper marks executions PENDING beyond the staleness bound as FAILED
// with a stale reason.
type Sweeper struct {
	store     persistence.Persistence
	publisher eventbus.EventPublisher
	logger    *slog.Logger

	staleBound time.Duration
	now        func() time.Time
}

func NewSweeper(store persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		publisher:  publisher,
		logger:     logger.With("module", "reconciler"),
		staleBound: DefaultStaleBound,
		now:        time.Now,
	}
}

// WithStaleBound overrides the staleness bound.
func (s *Sweeper) WithStaleBound(bound time.Duration) *Sweeper {
	s.staleBound = bound

	return s
}

// Sweep runs one reconciliation pass. Per-execution failures are logged
// and do not abort the rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.staleBound)

	stale, err := s.store.PendingExecutionsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to load stale executions: %w", err)
	}

	swept := 0

	for _, execution := range stale {
		if err := s.resolve(ctx, execution); err != nil {
			s.logger.ErrorContext(ctx, "failed to resolve stale execution",
				"execution_id", execution.ID, "error", err)

			continue
		}

		swept++
	}

	if len(stale) > 0 {
		s.logger.WarnContext(ctx, "reconciliation pass resolved stale executions",
			"found", len(stale), "swept", swept)
	}

	return nil
}

func (s *Sweeper) resolve(ctx context.Context, execution *models.Execution) error {
	reason := fmt.Sprintf("stale: pending since %s, beyond the %s reconciliation bound",
		execution.CreatedAt.Format(time.RFC3339), s.staleBound)

	if err := execution.Fail(reason); err != nil {
		return err
	}

	if err := s.store.SaveExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to save swept execution: %w", err)
	}

	s.notifyOwner(ctx, execution)

	return nil
}

func (s *Sweeper) notifyOwner(ctx context.Context, execution *models.Execution) {
	workflow, err := s.store.WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		s.logger.WarnContext(ctx, "cannot notify owner of swept execution",
			"execution_id", execution.ID, "workflow_id", execution.WorkflowID, "error", err)

		return
	}

	event := events.NotificationRequested{
		BaseEvent: events.NewBaseEvent(events.NotificationRequestedEvent),
		UserID:    workflow.OwnerID,
		Kind:      models.NotificationKindExecutionFailed,
		Title:     "Automation did not finish",
		Message:   fmt.Sprintf("Your rule %q was interrupted and has been marked failed.", workflow.Name),
		Metadata: map[string]any{
			"workflow_id":  workflow.ID,
			"execution_id": execution.ID,
			"reason":       "stale",
		},
	}

	if err := s.publisher.Publish(ctx, workflow.OwnerID, event); err != nil {
		s.logger.WarnContext(ctx, "failed to enqueue stale-execution notification",
			"execution_id", execution.ID, "error", err)
	}
}
