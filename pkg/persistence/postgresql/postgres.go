// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflowRepo     *WorkflowRepository
	executionRepo    *ExecutionRepository
	collateralRepo   *CollateralRepository
	notificationRepo *NotificationRepository
}

// NewPersistence connects, runs migrations and wires the repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:               database,
		logger:           logger,
		workflowRepo:     NewWorkflowRepository(database, logger),
		executionRepo:    NewExecutionRepository(database, logger),
		collateralRepo:   NewCollateralRepository(database, logger),
		notificationRepo: NewNotificationRepository(database, logger),
	}, nil
}

func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Workflow repository delegation.

func (p *Persistence) Workflows(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	return p.workflowRepo.GetAll(ctx, filter)
}

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	return p.workflowRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return p.workflowRepo.Save(ctx, workflow)
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return p.workflowRepo.Delete(ctx, id)
}

// Execution repository delegation.

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	return p.executionRepo.Save(ctx, execution)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	return p.executionRepo.GetByID(ctx, id)
}

func (p *Persistence) ExecutionsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	return p.executionRepo.GetByWorkflow(ctx, workflowID, limit)
}

func (p *Persistence) PendingExecutionsBefore(ctx context.Context, cutoff time.Time) ([]*models.Execution, error) {
	return p.executionRepo.GetPendingBefore(ctx, cutoff)
}

// Collateral repository delegation.

func (p *Persistence) SaveDeposit(ctx context.Context, deposit *models.Deposit) error {
	return p.collateralRepo.SaveDeposit(ctx, deposit)
}

func (p *Persistence) DepositsByUser(ctx context.Context, userID, chain, token string) ([]*models.Deposit, error) {
	return p.collateralRepo.DepositsByUser(ctx, userID, chain, token)
}

func (p *Persistence) LockDeposits(ctx context.Context, ids []string) error {
	return p.collateralRepo.LockDeposits(ctx, ids)
}

func (p *Persistence) SaveReservation(ctx context.Context, reservation *models.CollateralReservation) error {
	return p.collateralRepo.SaveReservation(ctx, reservation)
}

func (p *Persistence) ReservationByCorrelationID(ctx context.Context, correlationID string) (*models.CollateralReservation, error) {
	return p.collateralRepo.ReservationByCorrelationID(ctx, correlationID)
}

func (p *Persistence) ReservationsByUser(ctx context.Context, userID, chain, token string) ([]*models.CollateralReservation, error) {
	return p.collateralRepo.ReservationsByUser(ctx, userID, chain, token)
}

// Notification repository delegation.

func (p *Persistence) SaveNotification(ctx context.Context, event *models.NotificationEvent) error {
	return p.notificationRepo.Save(ctx, event)
}

func (p *Persistence) NotificationsByUser(ctx context.Context, userID string, limit int) ([]*models.NotificationEvent, error) {
	return p.notificationRepo.GetByUser(ctx, userID, limit)
}

func (p *Persistence) ChannelPreferences(ctx context.Context, userID string) (*models.ChannelPreferences, error) {
	return p.notificationRepo.Preferences(ctx, userID)
}

func (p *Persistence) SaveChannelPreferences(ctx context.Context, prefs *models.ChannelPreferences) error {
	return p.notificationRepo.SavePreferences(ctx, prefs)
}
