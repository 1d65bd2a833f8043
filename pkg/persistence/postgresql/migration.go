package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

const currentSchemaVersion = 2

// MigrationManager handles database schema migrations.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations map[int]string
}

func NewMigrationManager(logger *slog.Logger, db *sql.DB, migrations map[int]string) *MigrationManager {
	return &MigrationManager{
		db:         db,
		logger:     logger,
		migrations: migrations,
	}
}

// RunMigrations handles database schema creation and updates.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting database migrations")

	err := m.createMigrationsTable(ctx)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := m.getCurrentSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	m.logger.InfoContext(ctx, "Current schema version", "version", currentVersion)

	for version := currentVersion + 1; version <= currentSchemaVersion; version++ {
		migration, ok := m.migrations[version]
		if !ok {
			return fmt.Errorf("missing migration for version %d", version)
		}

		err = m.applyMigration(ctx, version, migration)
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", version, err)
		}
	}

	m.logger.InfoContext(ctx, "Database migrations completed", "version", currentSchemaVersion)

	return nil
}

func (m *MigrationManager) createMigrationsTable(ctx context.Context) error {
	createMigrationsSQL := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`

	_, err := m.db.ExecContext(ctx, createMigrationsSQL)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	return nil
}

func (m *MigrationManager) getCurrentSchemaVersion(ctx context.Context) (int, error) {
	var version int

	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query current schema version: %w", err)
	}

	return version, nil
}

func (m *MigrationManager) applyMigration(ctx context.Context, version int, migration string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, migration)
	if err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	_, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
	if err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}

	return tx.Commit()
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id UUID PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				wallet_address TEXT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT FALSE,
				last_fired_at TIMESTAMP WITH TIME ZONE,
				last_executed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_active
				ON workflows (is_active) WHERE deleted_at IS NULL;

			CREATE TABLE IF NOT EXISTS triggers (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
				kind TEXT NOT NULL,
				chain TEXT NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_triggers_workflow ON triggers (workflow_id);

			CREATE TABLE IF NOT EXISTS conditions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
				kind TEXT NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_conditions_workflow ON conditions (workflow_id);

			CREATE TABLE IF NOT EXISTS actions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
				kind TEXT NOT NULL,
				position INTEGER NOT NULL DEFAULT 0,
				config JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_actions_workflow ON actions (workflow_id);

			CREATE TABLE IF NOT EXISTS executions (
				id TEXT PRIMARY KEY,
				workflow_id UUID NOT NULL,
				status TEXT NOT NULL,
				actions_executed INTEGER NOT NULL DEFAULT 0,
				triggered_by JSONB NOT NULL DEFAULT '{}',
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_executions_workflow
				ON executions (workflow_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_executions_pending
				ON executions (created_at) WHERE status = 'PENDING';

			CREATE TABLE IF NOT EXISTS deposits (
				id UUID PRIMARY KEY,
				user_id TEXT NOT NULL,
				workflow_id UUID,
				chain TEXT NOT NULL,
				token TEXT NOT NULL,
				amount DOUBLE PRECISION NOT NULL,
				locked BOOLEAN NOT NULL DEFAULT FALSE,
				tx_hash TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_deposits_user
				ON deposits (user_id, chain, token);

			CREATE TABLE IF NOT EXISTS collateral_reservations (
				id UUID PRIMARY KEY,
				user_id TEXT NOT NULL,
				chain TEXT NOT NULL,
				token TEXT NOT NULL,
				amount DOUBLE PRECISION NOT NULL,
				correlation_id TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_reservations_user
				ON collateral_reservations (user_id, chain, token);

			CREATE TABLE IF NOT EXISTS notifications (
				id UUID PRIMARY KEY,
				user_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				delivered JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				read_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_notifications_user
				ON notifications (user_id, created_at DESC);

			CREATE TABLE IF NOT EXISTS channel_preferences (
				user_id TEXT PRIMARY KEY,
				email_enabled BOOLEAN NOT NULL DEFAULT FALSE,
				email_address TEXT NOT NULL DEFAULT '',
				chat_enabled BOOLEAN NOT NULL DEFAULT FALSE,
				chat_id TEXT NOT NULL DEFAULT '',
				push_enabled BOOLEAN NOT NULL DEFAULT FALSE,
				push_token TEXT NOT NULL DEFAULT ''
			);
		`,
		2: `
			ALTER TABLE executions
				ADD COLUMN IF NOT EXISTS order_ids JSONB NOT NULL DEFAULT '[]';
		`,
	}
}
