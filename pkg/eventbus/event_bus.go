// Package eventbus provides the durable queue transport connecting the
// scheduler, execution workers and the notification dispatcher.
package eventbus

import (
	"context"
	"time"

	"github.com/quiverfi/quiver/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// PublishOptions carry per-message queue semantics.
type PublishOptions struct {
	// Priority marks the message for preferential handling downstream.
	Priority string

	// Delay holds the message back before it becomes eligible for
	// processing, letting upstream writes settle.
	Delay time.Duration
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
	PublishWithOptions(ctx context.Context, key string, event Event, opts PublishOptions) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler)
	Subscribe(ctx context.Context, topic string) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
