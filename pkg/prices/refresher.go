package prices

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quiverfi/quiver/pkg/models"
	"github.com/quiverfi/quiver/pkg/persistence"
)

// Refresher warms the price cache for every (token, chain) pair referenced
// by an active price-threshold trigger. Pairs are deduplicated so a token
// watched by many rules is fetched once per pass.
type Refresher struct {
	workflows persistence.WorkflowRepository
	accessor  Accessor
	logger    *slog.Logger
}

func NewRefresher(workflows persistence.WorkflowRepository, accessor Accessor, logger *slog.Logger) *Refresher {
	return &Refresher{
		workflows: workflows,
		accessor:  accessor,
		logger:    logger.With("module", "price_refresher"),
	}
}

type tokenChain struct {
	token string
	chain string
}

// Refresh runs one warm-up pass. Individual pair failures are logged and
// skipped; the pass only fails when the workflow set cannot be loaded.
func (r *Refresher) Refresh(ctx context.Context) error {
	workflows, err := r.workflows.Workflows(ctx, persistence.WorkflowFilter{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("failed to load active workflows: %w", err)
	}

	pairs := make(map[tokenChain]struct{})

	for _, workflow := range workflows {
		trigger := workflow.Trigger
		if trigger == nil || trigger.Kind != models.TriggerKindPriceThreshold || trigger.PriceThreshold == nil {
			continue
		}

		pairs[tokenChain{token: trigger.PriceThreshold.Token, chain: trigger.Chain}] = struct{}{}
	}

	refreshed := 0

	for pair := range pairs {
		if _, err := r.accessor.GetPrice(ctx, pair.token, pair.chain); err != nil {
			r.logger.WarnContext(ctx, "price refresh failed for pair",
				"token", pair.token, "chain", pair.chain, "error", err)

			continue
		}

		refreshed++
	}

	r.logger.InfoContext(ctx, "price refresh pass complete",
		"pairs", len(pairs), "refreshed", refreshed)

	return nil
}
