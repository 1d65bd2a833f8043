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

// WorkflowRepository handles workflow-related database operations,
// including the owned trigger, condition and action rows.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetAll returns workflows matching the filter, newest first.
func (r *WorkflowRepository) GetAll(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	query := `
		SELECT
			id
		  , owner_id
		  , name
		  , description
		  , wallet_address
		  , is_active
		  , last_fired_at
		  , last_executed_at
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflows
		WHERE deleted_at IS NULL
		  AND ($1 = FALSE OR is_active = TRUE)
		  AND ($2 = '' OR id = $2::uuid)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, filter.ActiveOnly, filter.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflowBase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		err = r.loadOwnedRows(ctx, workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow components: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , owner_id
		  , name
		  , description
		  , wallet_address
		  , is_active
		  , last_fired_at
		  , last_executed_at
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := r.scanWorkflowBase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadOwnedRows(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to load workflow components: %w", err)
	}

	return workflow, nil
}

// Save upserts the workflow base row and replaces its owned trigger,
// condition and action rows in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	workflowQuery := `
		INSERT INTO workflows (id, owner_id, name, description, wallet_address,
			is_active, last_fired_at, last_executed_at, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			wallet_address = EXCLUDED.wallet_address,
			is_active = EXCLUDED.is_active,
			last_fired_at = EXCLUDED.last_fired_at,
			last_executed_at = EXCLUDED.last_executed_at,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, workflowQuery,
		workflow.ID,
		workflow.OwnerID,
		workflow.Name,
		workflow.Description,
		workflow.WalletAddress,
		workflow.IsActive,
		workflow.LastFiredAt,
		workflow.LastExecutedAt,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	err = r.saveOwnedRows(ctx, tx, workflow)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Delete soft deletes a workflow and halts further scheduling.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE workflows
		SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflowBase(row rowScanner) (*models.Workflow, error) {
	workflow := &models.Workflow{}

	err := row.Scan(
		&workflow.ID,
		&workflow.OwnerID,
		&workflow.Name,
		&workflow.Description,
		&workflow.WalletAddress,
		&workflow.IsActive,
		&workflow.LastFiredAt,
		&workflow.LastExecutedAt,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// loadOwnedRows loads the trigger, conditions and actions. Config blobs
// are decoded here so unknown kinds fail at the load boundary.
func (r *WorkflowRepository) loadOwnedRows(ctx context.Context, workflow *models.Workflow) error {
	triggerQuery := `
		SELECT id, kind, chain, config, created_at
		FROM triggers
		WHERE workflow_id = $1
	`

	row := r.db.QueryRowContext(ctx, triggerQuery, workflow.ID)

	var (
		triggerID string
		kind      string
		chain     string
		config    json.RawMessage
		createdAt time.Time
	)

	err := row.Scan(&triggerID, &kind, &chain, &config, &createdAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load trigger: %w", err)
	}

	if err == nil {
		trigger, decodeErr := models.DecodeTrigger(triggerID, workflow.ID, chain, models.TriggerKind(kind), config)
		if decodeErr != nil {
			return decodeErr
		}

		trigger.CreatedAt = createdAt
		workflow.Trigger = trigger
	}

	err = r.loadConditions(ctx, workflow)
	if err != nil {
		return err
	}

	return r.loadActions(ctx, workflow)
}

func (r *WorkflowRepository) loadConditions(ctx context.Context, workflow *models.Workflow) error {
	query := `
		SELECT id, kind, config, created_at
		FROM conditions
		WHERE workflow_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query conditions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflow.Conditions = make([]*models.Condition, 0)

	for rows.Next() {
		var (
			id        string
			kind      string
			config    json.RawMessage
			createdAt time.Time
		)

		if err := rows.Scan(&id, &kind, &config, &createdAt); err != nil {
			return fmt.Errorf("failed to scan condition: %w", err)
		}

		condition, err := models.DecodeCondition(id, workflow.ID, models.ConditionKind(kind), config)
		if err != nil {
			return err
		}

		condition.CreatedAt = createdAt
		workflow.Conditions = append(workflow.Conditions, condition)
	}

	return rows.Err()
}

func (r *WorkflowRepository) loadActions(ctx context.Context, workflow *models.Workflow) error {
	query := `
		SELECT id, kind, position, config, created_at
		FROM actions
		WHERE workflow_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query actions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflow.Actions = make([]*models.Action, 0)

	for rows.Next() {
		var (
			id        string
			kind      string
			position  int
			config    json.RawMessage
			createdAt time.Time
		)

		if err := rows.Scan(&id, &kind, &position, &config, &createdAt); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}

		action, err := models.DecodeAction(id, workflow.ID, models.ActionKind(kind), position, config)
		if err != nil {
			return err
		}

		action.CreatedAt = createdAt
		workflow.Actions = append(workflow.Actions, action)
	}

	return rows.Err()
}

func (r *WorkflowRepository) saveOwnedRows(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	for _, table := range []string{"triggers", "conditions", "actions"} {
		_, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE workflow_id = $1", workflow.ID)
		if err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if workflow.Trigger != nil {
		if workflow.Trigger.ID == "" {
			workflow.Trigger.ID = uuid.New().String()
		}

		config, err := workflow.Trigger.EncodeConfig()
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO triggers (id, workflow_id, kind, chain, config, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
		`, workflow.Trigger.ID, workflow.ID, workflow.Trigger.Kind, workflow.Trigger.Chain, config)
		if err != nil {
			return fmt.Errorf("failed to save trigger: %w", err)
		}
	}

	for _, condition := range workflow.Conditions {
		if condition.ID == "" {
			condition.ID = uuid.New().String()
		}

		config, err := condition.EncodeConfig()
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO conditions (id, workflow_id, kind, config, created_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, condition.ID, workflow.ID, condition.Kind, config)
		if err != nil {
			return fmt.Errorf("failed to save condition: %w", err)
		}
	}

	for i, action := range workflow.Actions {
		if action.ID == "" {
			action.ID = uuid.New().String()
		}

		config, err := action.EncodeConfig()
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO actions (id, workflow_id, kind, position, config, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
		`, action.ID, workflow.ID, action.Kind, i, config)
		if err != nil {
			return fmt.Errorf("failed to save action: %w", err)
		}
	}

	return nil
}
