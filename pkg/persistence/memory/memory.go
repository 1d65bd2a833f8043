// Package memory provides an in-memory persistence implementation used by
// tests and single-process local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
)

type Persistence struct {
	mu sync.RWMutex

	workflows     map[string]*models.Workflow
	executions    map[string]*models.Execution
	deposits      map[string]*models.Deposit
	reservations  map[string]*models.CollateralReservation // keyed by correlation id
	notifications map[string][]*models.NotificationEvent   // keyed by user id
	preferences   map[string]*models.ChannelPreferences
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:     make(map[string]*models.Workflow),
		executions:    make(map[string]*models.Execution),
		deposits:      make(map[string]*models.Deposit),
		reservations:  make(map[string]*models.CollateralReservation),
		notifications: make(map[string][]*models.NotificationEvent),
		preferences:   make(map[string]*models.ChannelPreferences),
	}
}

func (p *Persistence) Workflows(_ context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(p.workflows))

	for _, workflow := range p.workflows {
		if workflow.DeletedAt != nil {
			continue
		}

		if filter.ActiveOnly && !workflow.IsActive {
			continue
		}

		if filter.ID != "" && workflow.ID != filter.ID {
			continue
		}

		workflows = append(workflows, cloneWorkflow(workflow))
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, ok := p.workflows[id]
	if !ok || workflow.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return cloneWorkflow(workflow), nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	p.workflows[workflow.ID] = cloneWorkflow(workflow)

	return nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	workflow, ok := p.workflows[id]
	if !ok || workflow.DeletedAt != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now
	workflow.IsActive = false

	return nil
}

func (p *Persistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}

	p.executions[execution.ID] = cloneExecution(execution)

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return cloneExecution(execution), nil
}

func (p *Persistence) ExecutionsByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	executions := make([]*models.Execution, 0)

	for _, execution := range p.executions {
		if execution.WorkflowID != workflowID {
			continue
		}

		executions = append(executions, cloneExecution(execution))
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func (p *Persistence) PendingExecutionsBefore(_ context.Context, cutoff time.Time) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	executions := make([]*models.Execution, 0)

	for _, execution := range p.executions {
		if execution.Status != models.ExecutionStatusPending {
			continue
		}

		if !execution.CreatedAt.Before(cutoff) {
			continue
		}

		executions = append(executions, cloneExecution(execution))
	}

	return executions, nil
}

func (p *Persistence) SaveDeposit(_ context.Context, deposit *models.Deposit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if deposit.ID == "" {
		deposit.ID = uuid.New().String()
	}

	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}

	stored := *deposit
	p.deposits[deposit.ID] = &stored

	return nil
}

func (p *Persistence) DepositsByUser(_ context.Context, userID, chain, token string) ([]*models.Deposit, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	deposits := make([]*models.Deposit, 0)

	for _, deposit := range p.deposits {
		if deposit.UserID != userID || deposit.Chain != chain || deposit.Token != token {
			continue
		}

		clone := *deposit
		deposits = append(deposits, &clone)
	}

	sort.Slice(deposits, func(i, j int) bool {
		return deposits[i].CreatedAt.Before(deposits[j].CreatedAt)
	})

	return deposits, nil
}

func (p *Persistence) LockDeposits(_ context.Context, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		deposit, ok := p.deposits[id]
		if !ok {
			return persistence.ErrDepositNotFound
		}

		deposit.Locked = true
	}

	return nil
}

func (p *Persistence) SaveReservation(_ context.Context, reservation *models.CollateralReservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.reservations[reservation.CorrelationID]; exists {
		return persistence.ErrDuplicateReservation
	}

	deposited := 0.0

	for _, deposit := range p.deposits {
		if deposit.UserID == reservation.UserID && deposit.Chain == reservation.Chain && deposit.Token == reservation.Token {
			deposited += deposit.Amount
		}
	}

	reserved := 0.0

	for _, held := range p.reservations {
		if held.UserID == reservation.UserID && held.Chain == reservation.Chain && held.Token == reservation.Token {
			reserved += held.Amount
		}
	}

	if reserved+reservation.Amount > deposited {
		return fmt.Errorf("%w: %f reserved + %f requested > %f deposited",
			persistence.ErrCollateralExceeded, reserved, reservation.Amount, deposited)
	}

	if reservation.ID == "" {
		reservation.ID = uuid.New().String()
	}

	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = time.Now().UTC()
	}

	stored := *reservation
	p.reservations[reservation.CorrelationID] = &stored

	return nil
}

func (p *Persistence) ReservationByCorrelationID(_ context.Context, correlationID string) (*models.CollateralReservation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reservation, ok := p.reservations[correlationID]
	if !ok {
		return nil, persistence.ErrReservationNotFound
	}

	clone := *reservation

	return &clone, nil
}

func (p *Persistence) ReservationsByUser(_ context.Context, userID, chain, token string) ([]*models.CollateralReservation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reservations := make([]*models.CollateralReservation, 0)

	for _, reservation := range p.reservations {
		if reservation.UserID != userID || reservation.Chain != chain || reservation.Token != token {
			continue
		}

		clone := *reservation
		reservations = append(reservations, &clone)
	}

	return reservations, nil
}

func (p *Persistence) SaveNotification(_ context.Context, event *models.NotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	stored := *event
	p.notifications[event.UserID] = append(p.notifications[event.UserID], &stored)

	return nil
}

func (p *Persistence) NotificationsByUser(_ context.Context, userID string, limit int) ([]*models.NotificationEvent, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stored := p.notifications[userID]

	notifications := make([]*models.NotificationEvent, 0, len(stored))
	for _, event := range stored {
		clone := *event
		notifications = append(notifications, &clone)
	}

	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})

	if limit > 0 && len(notifications) > limit {
		notifications = notifications[:limit]
	}

	return notifications, nil
}

func (p *Persistence) ChannelPreferences(_ context.Context, userID string) (*models.ChannelPreferences, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prefs, ok := p.preferences[userID]
	if !ok {
		return nil, persistence.ErrPreferencesNotFound
	}

	clone := *prefs

	return &clone, nil
}

func (p *Persistence) SaveChannelPreferences(_ context.Context, prefs *models.ChannelPreferences) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored := *prefs
	p.preferences[prefs.UserID] = &stored

	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func cloneExecution(execution *models.Execution) *models.Execution {
	clone := *execution

	if execution.OrderIDs != nil {
		clone.OrderIDs = append([]string(nil), execution.OrderIDs...)
	}

	return &clone
}

func cloneWorkflow(workflow *models.Workflow) *models.Workflow {
	clone := *workflow

	if workflow.Trigger != nil {
		trigger := *workflow.Trigger
		clone.Trigger = &trigger
	}

	clone.Conditions = make([]*models.Condition, len(workflow.Conditions))
	for i, condition := range workflow.Conditions {
		conditionCopy := *condition
		clone.Conditions[i] = &conditionCopy
	}

	clone.Actions = make([]*models.Action, len(workflow.Actions))
	for i, action := range workflow.Actions {
		actionCopy := *action
		clone.Actions[i] = &actionCopy
	}

	return &clone
}
