// Package persistence provides the data storage abstraction for workflows,
// executions, collateral and notifications.
package persistence

import (
	"context"
	"time"

	"github.com/quiverfi/quiver/pkg/models"
)

// WorkflowFilter narrows workflow queries. The zero value matches all
// non-deleted workflows.
type WorkflowFilter struct {
	ActiveOnly bool
	ID         string
}

type WorkflowRepository interface {
	Workflows(ctx context.Context, filter WorkflowFilter) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)

	// ExecutionsByWorkflow returns executions ordered by recency.
	ExecutionsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error)

	// PendingExecutionsBefore returns executions still PENDING that were
	// created before the cutoff, for the staleness sweep.
	PendingExecutionsBefore(ctx context.Context, cutoff time.Time) ([]*models.Execution, error)
}

type CollateralRepository interface {
	SaveDeposit(ctx context.Context, deposit *models.Deposit) error
	DepositsByUser(ctx context.Context, userID, chain, token string) ([]*models.Deposit, error)
	LockDeposits(ctx context.Context, ids []string) error

	SaveReservation(ctx context.Context, reservation *models.CollateralReservation) error
	ReservationByCorrelationID(ctx context.Context, correlationID string) (*models.CollateralReservation, error)
	ReservationsByUser(ctx context.Context, userID, chain, token string) ([]*models.CollateralReservation, error)
}

type NotificationRepository interface {
	SaveNotification(ctx context.Context, event *models.NotificationEvent) error
	NotificationsByUser(ctx context.Context, userID string, limit int) ([]*models.NotificationEvent, error)
	ChannelPreferences(ctx context.Context, userID string) (*models.ChannelPreferences, error)
	SaveChannelPreferences(ctx context.Context, prefs *models.ChannelPreferences) error
}

type Persistence interface {
	WorkflowRepository
	ExecutionRepository
	CollateralRepository
	NotificationRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
