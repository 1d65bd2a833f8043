// Package conditions evaluates the must-hold predicates gating execution
// after a trigger fires.
package conditions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/prices"
)

// Gate ANDs a workflow's conditions. An empty condition list passes.
type Gate struct {
	balances prices.Accessor
	logger   *slog.Logger
	now      func() time.Time
}

func NewGate(balances prices.Accessor, logger *slog.Logger) *Gate {
	return &Gate{
		balances: balances,
		logger:   logger.With("module", "condition_gate"),
		now:      time.Now,
	}
}

// Evaluate reports whether every condition holds for the workflow's wallet.
// The first failing condition short-circuits the pass; the result matches
// the full AND either way.
func (g *Gate) Evaluate(ctx context.Context, wallet string, conditions []*models.Condition) (bool, error) {
	for _, condition := range conditions {
		holds, err := g.holds(ctx, wallet, condition)
		if err != nil {
			return false, fmt.Errorf("condition %s: %w", condition.ID, err)
		}

		if !holds {
			g.logger.DebugContext(ctx, "condition not satisfied",
				"condition_id", condition.ID, "kind", condition.Kind)

			return false, nil
		}
	}

	return true, nil
}

func (g *Gate) holds(ctx context.Context, wallet string, condition *models.Condition) (bool, error) {
	switch condition.Kind {
	case models.ConditionKindMinBalance:
		if condition.MinBalance == nil {
			g.logger.WarnContext(ctx, "min-balance condition missing configuration", "condition_id", condition.ID)

			return false, nil
		}

		balance, err := g.balances.GetBalance(ctx, wallet, condition.MinBalance.Token, condition.MinBalance.Chain)
		if err != nil {
			return false, fmt.Errorf("balance lookup failed: %w", err)
		}

		return balance >= condition.MinBalance.Minimum, nil
	case models.ConditionKindTimeWindow:
		if condition.TimeWindow == nil {
			g.logger.WarnContext(ctx, "time-window condition missing configuration", "condition_id", condition.ID)

			return false, nil
		}

		return condition.TimeWindow.Contains(g.now()), nil
	default:
		// Unknown kinds are rejected at the load boundary; reaching this
		// means a decode bug, so fail the gate rather than the pass.
		g.logger.ErrorContext(ctx, "condition with unknown kind reached evaluation",
			"condition_id", condition.ID, "kind", condition.Kind)

		return false, nil
	}
}
