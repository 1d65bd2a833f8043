package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
)

// ExecutionRepository handles execution-record database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Save upserts the execution. The status guard in the UPDATE arm keeps
// terminal rows immutable even under racing writers.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	triggeredBy, err := json.Marshal(execution.TriggeredBy)
	if err != nil {
		return fmt.Errorf("failed to marshal triggered_by: %w", err)
	}

	orderIDs, err := json.Marshal(execution.OrderIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal order_ids: %w", err)
	}

	query := `
		INSERT INTO executions (id, workflow_id, status, actions_executed,
			order_ids, triggered_by, error, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			actions_executed = EXCLUDED.actions_executed,
			order_ids = EXCLUDED.order_ids,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
		WHERE executions.status = 'PENDING'
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		execution.ActionsExecuted,
		orderIDs,
		triggeredBy,
		execution.Error,
		execution.CreatedAt,
		execution.FinishedAt,
	)
	if err != nil {
		return &persistence.ExecutionError{Op: "Save", ExecutionID: execution.ID, Err: err}
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `
		SELECT id, workflow_id, status, actions_executed, order_ids, triggered_by, error, created_at, finished_at
		FROM executions
		WHERE id = $1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ExecutionError{Op: "GetByID", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// GetByWorkflow returns executions for one workflow, newest first.
func (r *ExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, workflow_id, status, actions_executed, order_ids, triggered_by, error, created_at, finished_at
		FROM executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.queryExecutions(ctx, query, workflowID, limit)
}

// GetPendingBefore returns PENDING executions created before the cutoff.
func (r *ExecutionRepository) GetPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Execution, error) {
	query := `
		SELECT id, workflow_id, status, actions_executed, order_ids, triggered_by, error, created_at, finished_at
		FROM executions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
	`

	return r.queryExecutions(ctx, query, cutoff)
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.Execution, error) {
	execution := &models.Execution{}

	var orderIDs, triggeredBy json.RawMessage

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&execution.ActionsExecuted,
		&orderIDs,
		&triggeredBy,
		&execution.Error,
		&execution.CreatedAt,
		&execution.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(orderIDs, &execution.OrderIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order_ids: %w", err)
	}

	if err := json.Unmarshal(triggeredBy, &execution.TriggeredBy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal triggered_by: %w", err)
	}

	return execution, nil
}
