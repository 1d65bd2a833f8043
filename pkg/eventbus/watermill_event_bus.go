package eventbus

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/quiverfi/quiver/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	return eb.PublishWithOptions(ctx, key, event, PublishOptions{})
}

func (eb *WatermillEventBus) PublishWithOptions(_ context.Context, key string, event Event, opts PublishOptions) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	if opts.Priority != "" {
		msg.Metadata.Set(events.PriorityMetadataKey, opts.Priority)
	}

	if opts.Delay > 0 {
		eligibleAt := time.Now().UTC().Add(opts.Delay)
		msg.Metadata.Set(events.EligibleAtMetadataKey, strconv.FormatInt(eligibleAt.UnixMilli(), 10))
	}

	return eb.publisher.Publish(event.GetType().Topic(), msg)
}

// Handle registers the handler invoked for a given event type. Handlers
// must be registered before Subscribe.
func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) {
	eb.subscriptions[eventType] = handler
}

// Subscribe consumes one topic until ctx is cancelled. Messages with an
// unknown type or no registered handler are acked and dropped; handler
// errors nack the message so the broker redelivers it.
//
// Each decoded message is dispatched on its own goroutine. The consume
// loop never waits on a handler, so the worker-pool semaphore wrapping
// the handler is the effective concurrency bound and a slow job does not
// head-of-line block the messages behind it.
func (eb *WatermillEventBus) Subscribe(ctx context.Context, topic string) error {
	messages, err := eb.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			event, ok := decodeEvent(eventType, msg.Payload)
			if !ok {
				msg.Nack()

				continue
			}

			go eb.dispatch(ctx, handler, msg, event)
		}
	}()

	return nil
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, handler EventHandler, msg *message.Message, event any) {
	waitUntilEligible(ctx, msg)

	if err := handler(contextWithMessageMetadata(ctx, msg), event); err != nil {
		msg.Nack()

		return
	}

	msg.Ack()
}

func decodeEvent(eventType events.EventType, payload []byte) (any, bool) {
	var event any

	switch eventType {
	case events.TriggerEvaluationRequestedEvent:
		event = &events.TriggerEvaluationRequested{}
	case events.ExecutionRequestedEvent:
		event = &events.ExecutionRequested{}
	case events.NotificationRequestedEvent:
		event = &events.NotificationRequested{}
	case events.PriceRefreshRequestedEvent:
		event = &events.PriceRefreshRequested{}
	case events.ReconcileRequestedEvent:
		event = &events.ReconcileRequested{}
	default:
		return nil, false
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, false
	}

	return event, true
}

// waitUntilEligible honors the eligible-at delay stamped at publish time.
func waitUntilEligible(ctx context.Context, msg *message.Message) {
	raw := msg.Metadata.Get(events.EligibleAtMetadataKey)
	if raw == "" {
		return
	}

	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}

	wait := time.Until(time.UnixMilli(millis))
	if wait <= 0 {
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

type metadataContextKey string

const priorityContextKey metadataContextKey = "priority"

func contextWithMessageMetadata(ctx context.Context, msg *message.Message) context.Context {
	priority := msg.Metadata.Get(events.PriorityMetadataKey)
	if priority == "" {
		return ctx
	}

	return context.WithValue(ctx, priorityContextKey, priority)
}

// PriorityFromContext returns the priority stamped on the message being
// handled, if any.
func PriorityFromContext(ctx context.Context) string {
	priority, _ := ctx.Value(priorityContextKey).(string)

	return priority
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
