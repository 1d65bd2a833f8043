// Package notify fans outcome events out to users across their configured
// channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quiverfi/quiver/pkg/engine"
	"github.com/quiverfi/quiver/pkg/events"
	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
)

// Dispatcher consumes notification requests, delivers over each enabled
// channel independently and persists one NotificationEvent with the
// per-channel outcome map.
type Dispatcher struct {
	store    persistence.NotificationRepository
	channels map[models.ChannelKind]Channel
	logger   *slog.Logger
}

func NewDispatcher(store persistence.NotificationRepository, channels []Channel, logger *slog.Logger) *Dispatcher {
	byKind := make(map[models.ChannelKind]Channel, len(channels))

	for _, channel := range channels {
		byKind[channel.Kind()] = channel
	}

	return &Dispatcher{
		store:    store,
		channels: byKind,
		logger:   logger.With("module", "notifier"),
	}
}

// Handle delivers one notification. A channel failure is recorded in the
// outcome map and never fails the event as a whole; only a persistence
// failure propagates for retry.
func (d *Dispatcher) Handle(ctx context.Context, event any) error {
	request, ok := event.(*events.NotificationRequested)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	prefs, err := d.preferences(ctx, request.UserID)
	if err != nil {
		return engine.Transient(fmt.Errorf("failed to load channel preferences: %w", err))
	}

	notification := &models.NotificationEvent{
		ID:        uuid.New().String(),
		UserID:    request.UserID,
		Kind:      request.Kind,
		Title:     request.Title,
		Message:   request.Message,
		Metadata:  request.Metadata,
		Delivered: make(map[models.ChannelKind]bool),
		CreatedAt: time.Now().UTC(),
	}

	for _, kind := range prefs.Enabled() {
		notification.Delivered[kind] = d.deliver(ctx, kind, prefs, notification)
	}

	if err := d.store.SaveNotification(ctx, notification); err != nil {
		return engine.Transient(fmt.Errorf("failed to persist notification: %w", err))
	}

	d.logger.InfoContext(ctx, "notification dispatched",
		"notification_id", notification.ID, "user_id", request.UserID,
		"kind", request.Kind, "outcomes", notification.Delivered)

	return nil
}

// preferences returns the stored preferences, or the zero preference set
// for users who never configured any channel. In-app stays enabled either
// way.
func (d *Dispatcher) preferences(ctx context.Context, userID string) (*models.ChannelPreferences, error) {
	prefs, err := d.store.ChannelPreferences(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrPreferencesNotFound) {
			return &models.ChannelPreferences{UserID: userID}, nil
		}

		return nil, err
	}

	return prefs, nil
}

func (d *Dispatcher) deliver(ctx context.Context, kind models.ChannelKind, prefs *models.ChannelPreferences, notification *models.NotificationEvent) bool {
	channel, exists := d.channels[kind]
	if !exists {
		d.logger.WarnContext(ctx, "no channel registered for kind", "kind", kind)

		return false
	}

	if err := channel.Send(ctx, prefs, notification); err != nil {
		d.logger.WarnContext(ctx, "channel delivery failed",
			"kind", kind, "user_id", prefs.UserID, "error", err)

		return false
	}

	return true
}
