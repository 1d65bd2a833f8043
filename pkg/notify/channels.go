package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/quiverfi/quiver/pkg/models"
)

var ErrChannelNotConfigured = errors.New("channel endpoint not configured")

// Channel delivers one notification over one medium. Implementations are
// independent; one channel's failure never blocks another.
type Channel interface {
	Kind() models.ChannelKind
	Send(ctx context.Context, prefs *models.ChannelPreferences, event *models.NotificationEvent) error
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("delivery rejected with status %d", resp.StatusCode)
	}

	return nil
}

func newChannelClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// EmailChannel renders an HTML/plaintext pair and hands it to the mail
// relay.
type EmailChannel struct {
	relayURL string
	client   *http.Client
}

func NewEmailChannel(relayURL string) *EmailChannel {
	return &EmailChannel{relayURL: relayURL, client: newChannelClient()}
}

func (c *EmailChannel) Kind() models.ChannelKind {
	return models.ChannelEmail
}

func (c *EmailChannel) Send(ctx context.Context, prefs *models.ChannelPreferences, event *models.NotificationEvent) error {
	if c.relayURL == "" {
		return ErrChannelNotConfigured
	}

	if prefs.EmailAddress == "" {
		return errors.New("user has no email address on file")
	}

	html := fmt.Sprintf(
		"<html><body><h2>%s %s</h2><p>%s</p></body></html>",
		event.Kind.Icon(), event.Title, event.Message)

	text := fmt.Sprintf("%s %s\n\n%s", event.Kind.Icon(), event.Title, event.Message)

	return postJSON(ctx, c.client, c.relayURL, map[string]any{
		"to":      prefs.EmailAddress,
		"subject": event.Title,
		"html":    html,
		"text":    text,
	})
}

// ChatBotChannel posts the message with its structured metadata (workflow,
// execution, order identifiers) to the bot webhook.
type ChatBotChannel struct {
	webhookURL string
	client     *http.Client
}

func NewChatBotChannel(webhookURL string) *ChatBotChannel {
	return &ChatBotChannel{webhookURL: webhookURL, client: newChannelClient()}
}

func (c *ChatBotChannel) Kind() models.ChannelKind {
	return models.ChannelChatBot
}

func (c *ChatBotChannel) Send(ctx context.Context, prefs *models.ChannelPreferences, event *models.NotificationEvent) error {
	if c.webhookURL == "" {
		return ErrChannelNotConfigured
	}

	if prefs.ChatID == "" {
		return errors.New("user has no chat id on file")
	}

	return postJSON(ctx, c.client, c.webhookURL, map[string]any{
		"chat_id":  prefs.ChatID,
		"text":     fmt.Sprintf("%s *%s*\n%s", event.Kind.Icon(), event.Title, event.Message),
		"metadata": event.Metadata,
	})
}

// PushChannel sends a mobile push via the push gateway.
type PushChannel struct {
	gatewayURL string
	client     *http.Client
}

func NewPushChannel(gatewayURL string) *PushChannel {
	return &PushChannel{gatewayURL: gatewayURL, client: newChannelClient()}
}

func (c *PushChannel) Kind() models.ChannelKind {
	return models.ChannelPush
}

func (c *PushChannel) Send(ctx context.Context, prefs *models.ChannelPreferences, event *models.NotificationEvent) error {
	if c.gatewayURL == "" {
		return ErrChannelNotConfigured
	}

	if prefs.PushToken == "" {
		return errors.New("user has no push token on file")
	}

	return postJSON(ctx, c.client, c.gatewayURL, map[string]any{
		"token": prefs.PushToken,
		"title": event.Title,
		"body":  event.Message,
	})
}

// InAppChannel is the always-on channel: the persisted notification record
// is the in-app feed, so delivery succeeds once the event exists.
type InAppChannel struct{}

func NewInAppChannel() *InAppChannel {
	return &InAppChannel{}
}

func (c *InAppChannel) Kind() models.ChannelKind {
	return models.ChannelInApp
}

func (c *InAppChannel) Send(_ context.Context, _ *models.ChannelPreferences, _ *models.NotificationEvent) error {
	return nil
}
