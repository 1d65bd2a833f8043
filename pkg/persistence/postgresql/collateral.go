package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
)

// CollateralRepository handles deposit and reservation rows.
type CollateralRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCollateralRepository(db *sql.DB, logger *slog.Logger) *CollateralRepository {
	return &CollateralRepository{db: db, logger: logger}
}

func (r *CollateralRepository) SaveDeposit(ctx context.Context, deposit *models.Deposit) error {
	if deposit.ID == "" {
		deposit.ID = uuid.New().String()
	}

	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}

	var workflowID any
	if deposit.WorkflowID != "" {
		workflowID = deposit.WorkflowID
	}

	query := `
		INSERT INTO deposits (id, user_id, workflow_id, chain, token, amount, locked, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		deposit.ID,
		deposit.UserID,
		workflowID,
		deposit.Chain,
		deposit.Token,
		deposit.Amount,
		deposit.Locked,
		deposit.TxHash,
		deposit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save deposit: %w", err)
	}

	return nil
}

func (r *CollateralRepository) DepositsByUser(ctx context.Context, userID, chain, token string) ([]*models.Deposit, error) {
	query := `
		SELECT id, user_id, COALESCE(workflow_id::text, ''), chain, token, amount, locked, tx_hash, created_at
		FROM deposits
		WHERE user_id = $1 AND chain = $2 AND token = $3
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, userID, chain, token)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposits: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	deposits := make([]*models.Deposit, 0)

	for rows.Next() {
		deposit := &models.Deposit{}

		err := rows.Scan(
			&deposit.ID,
			&deposit.UserID,
			&deposit.WorkflowID,
			&deposit.Chain,
			&deposit.Token,
			&deposit.Amount,
			&deposit.Locked,
			&deposit.TxHash,
			&deposit.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}

		deposits = append(deposits, deposit)
	}

	return deposits, rows.Err()
}

func (r *CollateralRepository) LockDeposits(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE deposits SET locked = TRUE WHERE id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to lock deposits: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if int(affected) != len(ids) {
		return persistence.ErrDepositNotFound
	}

	return nil
}

// SaveReservation inserts the hold after re-checking the collateral sum
// inside one transaction. The FOR UPDATE on the user's deposit rows
// serializes reserves for the same asset across processes, so two workers
// cannot both pass the check and over-reserve. The UNIQUE constraint on
// correlation_id makes concurrent duplicate reserves race-safe: the loser
// observes ErrDuplicateReservation and reads the winner's row.
func (r *CollateralRepository) SaveReservation(ctx context.Context, reservation *models.CollateralReservation) error {
	if reservation.ID == "" {
		reservation.ID = uuid.New().String()
	}

	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reservation transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	// Idempotency first: a retry of an already-reserved correlation id must
	// report the duplicate, not re-run the collateral check.
	var existing string

	err = tx.QueryRowContext(ctx,
		"SELECT id FROM collateral_reservations WHERE correlation_id = $1",
		reservation.CorrelationID,
	).Scan(&existing)

	switch {
	case err == nil:
		return persistence.ErrDuplicateReservation
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check existing reservation: %w", err)
	}

	depositRows, err := tx.QueryContext(ctx, `
		SELECT amount FROM deposits
		WHERE user_id = $1 AND chain = $2 AND token = $3
		FOR UPDATE
	`, reservation.UserID, reservation.Chain, reservation.Token)
	if err != nil {
		return fmt.Errorf("failed to lock deposits: %w", err)
	}

	deposited := 0.0

	for depositRows.Next() {
		var amount float64
		if err := depositRows.Scan(&amount); err != nil {
			_ = depositRows.Close()

			return fmt.Errorf("failed to scan deposit amount: %w", err)
		}

		deposited += amount
	}

	if err := depositRows.Close(); err != nil {
		return fmt.Errorf("failed to read deposits: %w", err)
	}

	var reserved float64

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM collateral_reservations
		WHERE user_id = $1 AND chain = $2 AND token = $3
	`, reservation.UserID, reservation.Chain, reservation.Token).Scan(&reserved)
	if err != nil {
		return fmt.Errorf("failed to sum reservations: %w", err)
	}

	if reserved+reservation.Amount > deposited {
		return fmt.Errorf("%w: %f reserved + %f requested > %f deposited",
			persistence.ErrCollateralExceeded, reserved, reservation.Amount, deposited)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO collateral_reservations (id, user_id, chain, token, amount, correlation_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (correlation_id) DO NOTHING
	`,
		reservation.ID,
		reservation.UserID,
		reservation.Chain,
		reservation.Token,
		reservation.Amount,
		reservation.CorrelationID,
		reservation.Status,
		reservation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrDuplicateReservation
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}

	return nil
}

func (r *CollateralRepository) ReservationByCorrelationID(ctx context.Context, correlationID string) (*models.CollateralReservation, error) {
	query := `
		SELECT id, user_id, chain, token, amount, correlation_id, status, created_at
		FROM collateral_reservations
		WHERE correlation_id = $1
	`

	reservation := &models.CollateralReservation{}

	err := r.db.QueryRowContext(ctx, query, correlationID).Scan(
		&reservation.ID,
		&reservation.UserID,
		&reservation.Chain,
		&reservation.Token,
		&reservation.Amount,
		&reservation.CorrelationID,
		&reservation.Status,
		&reservation.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrReservationNotFound
		}

		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}

	return reservation, nil
}

func (r *CollateralRepository) ReservationsByUser(ctx context.Context, userID, chain, token string) ([]*models.CollateralReservation, error) {
	query := `
		SELECT id, user_id, chain, token, amount, correlation_id, status, created_at
		FROM collateral_reservations
		WHERE user_id = $1 AND chain = $2 AND token = $3
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, userID, chain, token)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	reservations := make([]*models.CollateralReservation, 0)

	for rows.Next() {
		reservation := &models.CollateralReservation{}

		err := rows.Scan(
			&reservation.ID,
			&reservation.UserID,
			&reservation.Chain,
			&reservation.Token,
			&reservation.Amount,
			&reservation.CorrelationID,
			&reservation.Status,
			&reservation.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}

		reservations = append(reservations, reservation)
	}

	return reservations, rows.Err()
}
