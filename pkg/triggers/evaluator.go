// Package triggers evaluates per-kind trigger predicates against current
// prices, balances and the clock.
package triggers

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/prices"
)

// EqualsTolerance is the absolute tolerance used by the EQUALS operator.
const EqualsTolerance = 0.01

// Evaluator decides whether a workflow's trigger fires. Missing or
// malformed configuration evaluates to false with a log line; evaluation
// never panics a scheduler pass.
type Evaluator struct {
	accessor prices.Accessor
	logger   *slog.Logger
	now      func() time.Time
}

func NewEvaluator(accessor prices.Accessor, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		accessor: accessor,
		logger:   logger.With("module", "trigger_evaluator"),
		now:      time.Now,
	}
}

// Evaluate reports whether the workflow's trigger currently fires.
func (e *Evaluator) Evaluate(ctx context.Context, workflow *models.Workflow) (bool, error) {
	trigger := workflow.Trigger
	if trigger == nil {
		e.logger.WarnContext(ctx, "workflow has no trigger", "workflow_id", workflow.ID)

		return false, nil
	}

	switch trigger.Kind {
	case models.TriggerKindPriceThreshold:
		return e.priceThreshold(ctx, trigger)
	case models.TriggerKindTimeBased:
		return e.timeBased(ctx, workflow, trigger)
	case models.TriggerKindBalanceChange:
		return e.balanceChange(ctx, workflow, trigger)
	case models.TriggerKindMarketCondition:
		// Reserved extension point.
		return false, nil
	default:
		e.logger.ErrorContext(ctx, "trigger with unknown kind reached evaluation",
			"trigger_id", trigger.ID, "kind", trigger.Kind)

		return false, nil
	}
}

func (e *Evaluator) priceThreshold(ctx context.Context, trigger *models.Trigger) (bool, error) {
	config := trigger.PriceThreshold
	if config == nil || config.Token == "" || trigger.Chain == "" {
		e.logger.WarnContext(ctx, "price-threshold trigger missing configuration", "trigger_id", trigger.ID)

		return false, nil
	}

	price, err := e.accessor.GetPrice(ctx, config.Token, trigger.Chain)
	if err != nil {
		return false, err
	}

	return compare(price, config.Operator, config.Threshold), nil
}

func (e *Evaluator) timeBased(ctx context.Context, workflow *models.Workflow, trigger *models.Trigger) (bool, error) {
	config := trigger.TimeBased
	if config == nil {
		e.logger.WarnContext(ctx, "time-based trigger missing configuration", "trigger_id", trigger.ID)

		return false, nil
	}

	interval, err := config.Granularity.Interval()
	if err != nil {
		e.logger.WarnContext(ctx, "time-based trigger has invalid granularity",
			"trigger_id", trigger.ID, "error", err)

		return false, nil
	}

	// Never executed means due immediately.
	if workflow.LastExecutedAt == nil {
		return true, nil
	}

	return e.now().Sub(*workflow.LastExecutedAt) >= interval, nil
}

func (e *Evaluator) balanceChange(ctx context.Context, workflow *models.Workflow, trigger *models.Trigger) (bool, error) {
	config := trigger.BalanceChange
	if config == nil || config.Token == "" || trigger.Chain == "" {
		e.logger.WarnContext(ctx, "balance-change trigger missing configuration", "trigger_id", trigger.ID)

		return false, nil
	}

	balance, err := e.accessor.GetBalance(ctx, workflow.WalletAddress, config.Token, trigger.Chain)
	if err != nil {
		return false, err
	}

	switch config.Operator {
	case models.OperatorGreaterThan:
		return balance > config.Threshold, nil
	case models.OperatorLessThan:
		return balance < config.Threshold, nil
	default:
		e.logger.WarnContext(ctx, "balance-change trigger has unsupported operator",
			"trigger_id", trigger.ID, "operator", config.Operator)

		return false, nil
	}
}

func compare(observed float64, operator models.ComparisonOperator, threshold float64) bool {
	switch operator {
	case models.OperatorGreaterThan:
		return observed > threshold
	case models.OperatorLessThan:
		return observed < threshold
	case models.OperatorEquals:
		return math.Abs(observed-threshold) <= EqualsTolerance
	default:
		return false
	}
}
