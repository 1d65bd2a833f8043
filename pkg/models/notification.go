package models

import "time"

// NotificationKind classifies outcome events fanned out to users.
type NotificationKind string

const (
	NotificationKindExecutionSucceeded NotificationKind = "execution.succeeded"
	NotificationKindExecutionFailed    NotificationKind = "execution.failed"
	NotificationKindRiskAlert          NotificationKind = "risk.alert"
)

// Icon maps a notification kind to the glyph rendered by text channels.
// Unknown kinds fall back to a generic bell rather than failing delivery.
func (k NotificationKind) Icon() string {
	switch k {
	case NotificationKindExecutionSucceeded:
		return "✅"
	case NotificationKindExecutionFailed:
		return "❌"
	case NotificationKindRiskAlert:
		return "⚠️"
	default:
		return "🔔"
	}
}

// ChannelKind names a delivery channel.
type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelChatBot ChannelKind = "chatbot"
	ChannelPush    ChannelKind = "push"
	ChannelInApp   ChannelKind = "inapp"
)

// ChannelPreferences holds a user's per-channel opt-ins and destinations.
// The in-app channel is always enabled and cannot be disabled.
type ChannelPreferences struct {
	UserID       string `json:"user_id"`
	EmailEnabled bool   `json:"email_enabled"`
	EmailAddress string `json:"email_address,omitempty"`
	ChatEnabled  bool   `json:"chat_enabled"`
	ChatID       string `json:"chat_id,omitempty"`
	PushEnabled  bool   `json:"push_enabled"`
	PushToken    string `json:"push_token,omitempty"`
}

// Enabled returns the channels that should receive deliveries.
func (p *ChannelPreferences) Enabled() []ChannelKind {
	channels := []ChannelKind{ChannelInApp}

	if p.EmailEnabled {
		channels = append(channels, ChannelEmail)
	}

	if p.ChatEnabled {
		channels = append(channels, ChannelChatBot)
	}

	if p.PushEnabled {
		channels = append(channels, ChannelPush)
	}

	return channels
}

// NotificationEvent is the persisted record of one fan-out: the message
// plus the per-channel delivery outcome. Immutable once delivered.
type NotificationEvent struct {
	ID        string               `json:"id"`
	UserID    string               `json:"user_id"`
	Kind      NotificationKind     `json:"kind"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Metadata  map[string]any       `json:"metadata,omitempty"`
	Delivered map[ChannelKind]bool `json:"delivered"`
	CreatedAt time.Time            `json:"created_at"`
	ReadAt    *time.Time           `json:"read_at,omitempty"`
}
