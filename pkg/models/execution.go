package models

import (
	"errors"
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of one attempted firing. PENDING
// is the only initial state; COMPLETED and FAILED are terminal and no
// transition ever leaves them.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

var (
	ErrExecutionTerminal    = errors.New("execution already in a terminal status")
	ErrExecutionNotPending  = errors.New("execution is not pending")
	ErrActionCountDecreased = errors.New("actions executed count cannot decrease")
)

// TriggeredBy records the provenance of an execution request: either a
// manual invocation or the trigger that fired.
type TriggeredBy struct {
	Manual      bool        `json:"manual,omitempty"`
	TriggerID   string      `json:"trigger_id,omitempty"`
	TriggerKind TriggerKind `json:"trigger_kind,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

func (t TriggeredBy) String() string {
	if t.Manual {
		return "manual"
	}

	return fmt.Sprintf("%s:%s", t.TriggerKind, t.TriggerID)
}

// Execution is one recorded attempt to run a workflow's actions. Records
// are created in PENDING, updated exactly once to a terminal status, and
// never deleted.
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	Status          ExecutionStatus `json:"status"`
	ActionsExecuted int             `json:"actions_executed"`
	OrderIDs        []string        `json:"order_ids,omitempty"`
	TriggeredBy     TriggeredBy     `json:"triggered_by"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// NewExecution creates a PENDING execution record.
func NewExecution(id, workflowID string, triggeredBy TriggeredBy) *Execution {
	return &Execution{
		ID:          id,
		WorkflowID:  workflowID,
		Status:      ExecutionStatusPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   time.Now().UTC(),
	}
}

// RecordAction increments the executed-action counter and keeps the
// placed order id, if any, on the record. Only legal while the execution
// is still pending; the counter is monotonic.
func (e *Execution) RecordAction(orderID string) error {
	if e.Status != ExecutionStatusPending {
		return fmt.Errorf("%w: %s", ErrExecutionNotPending, e.Status)
	}

	e.ActionsExecuted++

	if orderID != "" {
		e.OrderIDs = append(e.OrderIDs, orderID)
	}

	return nil
}

// Complete moves PENDING -> COMPLETED.
func (e *Execution) Complete() error {
	return e.finish(ExecutionStatusCompleted, "")
}

// Fail moves PENDING -> FAILED, recording the terminal error message.
func (e *Execution) Fail(message string) error {
	return e.finish(ExecutionStatusFailed, message)
}

func (e *Execution) finish(status ExecutionStatus, message string) error {
	if e.Status != ExecutionStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrExecutionTerminal, e.Status, status)
	}

	now := time.Now().UTC()
	e.Status = status
	e.Error = message
	e.FinishedAt = &now

	return nil
}

// Terminal reports whether the execution reached COMPLETED or FAILED.
func (e *Execution) Terminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusFailed
}
