package eventbus_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverfi/quiver/pkg/channels/gochannel"
	"github.com/quiverfi/quiver/pkg/eventbus"
	"github.com/quiverfi/quiver/pkg/events"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)

	received := make(chan any, 1)

	bus.Handle(events.NotificationRequestedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx, events.NotificationTopic))

	published := events.NotificationRequested{
		BaseEvent: events.NewBaseEvent(events.NotificationRequestedEvent),
		UserID:    "user-1",
		Title:     "Automation executed",
	}

	require.NoError(t, bus.Publish(ctx, "user-1", published))

	select {
	case event := <-received:
		request, ok := event.(*events.NotificationRequested)
		require.True(t, ok, "handler must receive the decoded payload type")
		assert.Equal(t, published.ID, request.ID)
		assert.Equal(t, "user-1", request.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestWatermillEventBus_PriorityMetadataReachesHandler(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)

	priorities := make(chan string, 1)

	bus.Handle(events.ExecutionRequestedEvent, func(ctx context.Context, _ any) error {
		priorities <- eventbus.PriorityFromContext(ctx)

		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx, events.ExecutionTopic))

	event := events.ExecutionRequested{
		BaseEvent:  events.NewBaseEvent(events.ExecutionRequestedEvent),
		WorkflowID: "workflow-1",
	}

	require.NoError(t, bus.PublishWithOptions(ctx, "workflow-1", event,
		eventbus.PublishOptions{Priority: events.PriorityElevated}))

	select {
	case priority := <-priorities:
		assert.Equal(t, events.PriorityElevated, priority)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestWatermillEventBus_DelayHoldsMessageBack(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)

	handled := make(chan time.Time, 1)

	bus.Handle(events.ExecutionRequestedEvent, func(_ context.Context, _ any) error {
		handled <- time.Now()

		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx, events.ExecutionTopic))

	delay := 200 * time.Millisecond
	start := time.Now()

	event := events.ExecutionRequested{
		BaseEvent:  events.NewBaseEvent(events.ExecutionRequestedEvent),
		WorkflowID: "workflow-1",
	}

	require.NoError(t, bus.PublishWithOptions(ctx, "workflow-1", event,
		eventbus.PublishOptions{Delay: delay}))

	select {
	case handledAt := <-handled:
		assert.GreaterOrEqual(t, handledAt.Sub(start), delay)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

// feedSubscriber hands out a preloaded message stream without waiting for
// acks, the way a broker with prefetched messages does.
type feedSubscriber struct {
	messages chan *message.Message
}

func (s *feedSubscriber) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	return s.messages, nil
}

func (s *feedSubscriber) Close() error {
	return nil
}

func notificationMessage(t *testing.T, userID string) *message.Message {
	t.Helper()

	event := events.NotificationRequested{
		BaseEvent: events.NewBaseEvent(events.NotificationRequestedEvent),
		UserID:    userID,
	}

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(events.NotificationRequestedEvent))

	return msg
}

func TestWatermillEventBus_MessagesAreDispatchedConcurrently(t *testing.T) {
	t.Parallel()

	feed := &feedSubscriber{messages: make(chan *message.Message, 3)}
	for i := range 3 {
		feed.messages <- notificationMessage(t, fmt.Sprintf("user-%d", i))
	}
	close(feed.messages)

	pub, _, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, feed)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		inFlight int
		peak     int
	)

	wg.Add(3)

	bus.Handle(events.NotificationRequestedEvent, func(_ context.Context, _ any) error {
		defer wg.Done()

		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(150 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()

		return nil
	})

	require.NoError(t, bus.Subscribe(context.Background(), events.NotificationTopic))

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, peak, 2,
		"deliveries must overlap instead of running one at a time")
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
