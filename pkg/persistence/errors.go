// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrReservationNotFound indicates no reservation exists for the given correlation id.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrDepositNotFound indicates a deposit was not found by the given identifier.
	ErrDepositNotFound = errors.New("deposit not found")

	// ErrPreferencesNotFound indicates no channel preferences exist for the user.
	ErrPreferencesNotFound = errors.New("channel preferences not found")

	// ErrDuplicateReservation indicates a reservation already exists for the
	// correlation id; callers treat the existing row as the result.
	ErrDuplicateReservation = errors.New("reservation already exists for correlation id")

	// ErrCollateralExceeded indicates the reservation would push the total
	// held amount past the user's deposited collateral. The store enforces
	// this so concurrent writers through different processes cannot
	// over-reserve.
	ErrCollateralExceeded = errors.New("reservation exceeds deposited collateral")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsReservationNotFound checks if an error indicates a reservation was not found.
func IsReservationNotFound(err error) bool {
	return errors.Is(err, ErrReservationNotFound)
}

// IsPreferencesNotFound checks if an error indicates the user has no stored
// channel preferences.
func IsPreferencesNotFound(err error) bool {
	return errors.Is(err, ErrPreferencesNotFound)
}
