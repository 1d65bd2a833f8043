// Package events defines the queue topics and job payloads exchanged
// between the scheduler, workers and notifier.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/quiverfi/quiver/pkg/models"
)

type EventType string

// Queue topics. Each topic is an independently-workered durable queue.
const (
	TriggerEvaluationTopic = "quiver.trigger.evaluations"
	ExecutionTopic         = "quiver.executions"
	NotificationTopic      = "quiver.notifications"
	BackgroundTopic        = "quiver.background"
)

const (
	EventMetadataKey      = "key"
	EventTypeMetadataKey  = "event_type"
	PriorityMetadataKey   = "priority"
	EligibleAtMetadataKey = "eligible_at"
)

const (
	PriorityNormal   = "normal"
	PriorityElevated = "elevated"
)

const (
	TriggerEvaluationRequestedEvent EventType = "trigger.evaluation.requested"
	ExecutionRequestedEvent         EventType = "execution.requested"
	NotificationRequestedEvent      EventType = "notification.requested"
	PriceRefreshRequestedEvent      EventType = "price.refresh.requested"
	ReconcileRequestedEvent         EventType = "reconcile.requested"
)

// Topic returns the queue a given event type is published to.
func (t EventType) Topic() string {
	switch t {
	case TriggerEvaluationRequestedEvent:
		return TriggerEvaluationTopic
	case ExecutionRequestedEvent:
		return ExecutionTopic
	case NotificationRequestedEvent:
		return NotificationTopic
	default:
		return BackgroundTopic
	}
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	WorkerID  string    `json:"worker_id,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// TriggerEvaluationRequested asks the evaluation worker to run one pass.
// WorkflowID is empty for a full pass over every active workflow.
type TriggerEvaluationRequested struct {
	BaseEvent

	WorkflowID string `json:"workflow_id,omitempty"`
}

func (e TriggerEvaluationRequested) GetType() EventType {
	return TriggerEvaluationRequestedEvent
}

// ExecutionRequested is the wire contract between the scheduler and the
// execution worker.
type ExecutionRequested struct {
	BaseEvent

	WorkflowID  string             `json:"workflow_id"`
	TriggeredBy models.TriggeredBy `json:"triggered_by"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

// NotificationRequested carries one outcome event toward the dispatcher.
type NotificationRequested struct {
	BaseEvent

	UserID   string                  `json:"user_id"`
	Kind     models.NotificationKind `json:"kind"`
	Title    string                  `json:"title"`
	Message  string                  `json:"message"`
	Metadata map[string]any          `json:"metadata,omitempty"`
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}

// PriceRefreshRequested asks the background worker to refresh the cached
// price of every token referenced by an active price-threshold trigger.
type PriceRefreshRequested struct {
	BaseEvent
}

func (e PriceRefreshRequested) GetType() EventType {
	return PriceRefreshRequestedEvent
}

// ReconcileRequested asks the background worker to sweep executions stuck
// in PENDING beyond the staleness bound.
type ReconcileRequested struct {
	BaseEvent
}

func (e ReconcileRequested) GetType() EventType {
	return ReconcileRequestedEvent
}
