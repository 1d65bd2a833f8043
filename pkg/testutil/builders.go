// Package testutil provides test data builders.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/quiverfi/quiver/pkg/models"
)

// CreateTestWorkflow builds an active workflow with a price-threshold
// trigger and a single same-chain swap action. Overrides customize it.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	workflowID := uuid.New().String()

	workflow := &models.Workflow{
		ID:            workflowID,
		OwnerID:       "user-1",
		Name:          "Test rule",
		WalletAddress: "0xabc",
		IsActive:      true,
		Trigger: &models.Trigger{
			ID:         uuid.New().String(),
			WorkflowID: workflowID,
			Kind:       models.TriggerKindPriceThreshold,
			Chain:      "ethereum",
			PriceThreshold: &models.PriceThresholdConfig{
				Token:     "ETH",
				Operator:  models.OperatorGreaterThan,
				Threshold: 3000,
			},
		},
		Actions: []*models.Action{
			{
				ID:         uuid.New().String(),
				WorkflowID: workflowID,
				Kind:       models.ActionKindSwap,
				Position:   0,
				Swap: &models.SwapConfig{
					FromToken: "ETH",
					ToToken:   "USDC",
					Amount:    1,
					ChainID:   "ethereum",
				},
			},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithOwner sets the owning user.
func WithOwner(ownerID string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.OwnerID = ownerID
	}
}

// Inactive deactivates the workflow.
func Inactive() func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.IsActive = false
	}
}

// WithTimeTrigger swaps the trigger for a time-based one.
func WithTimeTrigger(granularity models.ScheduleGranularity) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Trigger = &models.Trigger{
			ID:         uuid.New().String(),
			WorkflowID: w.ID,
			Kind:       models.TriggerKindTimeBased,
			Chain:      "ethereum",
			TimeBased:  &models.TimeBasedConfig{Granularity: granularity},
		}
	}
}

// WithBalanceTrigger swaps the trigger for a balance-change one.
func WithBalanceTrigger(operator models.ComparisonOperator, threshold float64) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Trigger = &models.Trigger{
			ID:         uuid.New().String(),
			WorkflowID: w.ID,
			Kind:       models.TriggerKindBalanceChange,
			Chain:      "ethereum",
			BalanceChange: &models.BalanceChangeConfig{
				Token:     "ETH",
				Operator:  operator,
				Threshold: threshold,
			},
		}
	}
}

// WithConditions replaces the workflow's conditions.
func WithConditions(conditions ...*models.Condition) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Conditions = conditions
	}
}

// WithSwapAmount sets the amount of the first swap action.
func WithSwapAmount(amount float64) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Actions[0].Swap.Amount = amount
	}
}

// WithActions replaces the workflow's actions.
func WithActions(actions ...*models.Action) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Actions = actions
	}
}

// MinBalanceCondition builds a MIN_BALANCE condition.
func MinBalanceCondition(token string, minimum float64) *models.Condition {
	return &models.Condition{
		ID:   uuid.New().String(),
		Kind: models.ConditionKindMinBalance,
		MinBalance: &models.MinBalanceConfig{
			Chain:   "ethereum",
			Token:   token,
			Minimum: minimum,
		},
	}
}

// TimeWindowCondition builds a TIME_WINDOW condition.
func TimeWindowCondition(startHour, endHour int) *models.Condition {
	return &models.Condition{
		ID:   uuid.New().String(),
		Kind: models.ConditionKindTimeWindow,
		TimeWindow: &models.TimeWindowConfig{
			StartHour: startHour,
			EndHour:   endHour,
		},
	}
}

// TestDeposit builds an unlocked deposit.
func TestDeposit(userID, chain, token string, amount float64) *models.Deposit {
	return &models.Deposit{
		ID:        uuid.New().String(),
		UserID:    userID,
		Chain:     chain,
		Token:     token,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
}
