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

// NotificationRepository handles notification events and channel
// preferences.
type NotificationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewNotificationRepository(db *sql.DB, logger *slog.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

func (r *NotificationRepository) Save(ctx context.Context, event *models.NotificationEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	delivered, err := json.Marshal(event.Delivered)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery outcomes: %w", err)
	}

	query := `
		INSERT INTO notifications (id, user_id, kind, title, message, metadata, delivered, created_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		event.Kind,
		event.Title,
		event.Message,
		metadata,
		delivered,
		event.CreatedAt,
		event.ReadAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}

	return nil
}

func (r *NotificationRepository) GetByUser(ctx context.Context, userID string, limit int) ([]*models.NotificationEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, kind, title, message, metadata, delivered, created_at, read_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	notifications := make([]*models.NotificationEvent, 0)

	for rows.Next() {
		event := &models.NotificationEvent{}

		var metadata, delivered json.RawMessage

		err := rows.Scan(
			&event.ID,
			&event.UserID,
			&event.Kind,
			&event.Title,
			&event.Message,
			&metadata,
			&delivered,
			&event.CreatedAt,
			&event.ReadAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		if err := json.Unmarshal(delivered, &event.Delivered); err != nil {
			return nil, fmt.Errorf("failed to unmarshal delivery outcomes: %w", err)
		}

		notifications = append(notifications, event)
	}

	return notifications, rows.Err()
}

func (r *NotificationRepository) Preferences(ctx context.Context, userID string) (*models.ChannelPreferences, error) {
	query := `
		SELECT user_id, email_enabled, email_address, chat_enabled, chat_id, push_enabled, push_token
		FROM channel_preferences
		WHERE user_id = $1
	`

	prefs := &models.ChannelPreferences{}

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&prefs.UserID,
		&prefs.EmailEnabled,
		&prefs.EmailAddress,
		&prefs.ChatEnabled,
		&prefs.ChatID,
		&prefs.PushEnabled,
		&prefs.PushToken,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrPreferencesNotFound
		}

		return nil, fmt.Errorf("failed to scan channel preferences: %w", err)
	}

	return prefs, nil
}

func (r *NotificationRepository) SavePreferences(ctx context.Context, prefs *models.ChannelPreferences) error {
	query := `
		INSERT INTO channel_preferences (user_id, email_enabled, email_address,
			chat_enabled, chat_id, push_enabled, push_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			email_enabled = EXCLUDED.email_enabled,
			email_address = EXCLUDED.email_address,
			chat_enabled = EXCLUDED.chat_enabled,
			chat_id = EXCLUDED.chat_id,
			push_enabled = EXCLUDED.push_enabled,
			push_token = EXCLUDED.push_token
	`

	_, err := r.db.ExecContext(ctx, query,
		prefs.UserID,
		prefs.EmailEnabled,
		prefs.EmailAddress,
		prefs.ChatEnabled,
		prefs.ChatID,
		prefs.PushEnabled,
		prefs.PushToken,
	)
	if err != nil {
		return fmt.Errorf("failed to save channel preferences: %w", err)
	}

	return nil
}
