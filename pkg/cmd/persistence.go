package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quiverfi/quiver/pkg/persistence"
	"github.com/quiverfi/quiver/pkg/persistence/memory"
	"github.com/quiverfi/quiver/pkg/persistence/postgresql"
)

// NewPersistence builds the storage layer from the database URL scheme.
// postgres:// URLs get the production store; memory:// is for local runs
// and tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize PostgreSQL persistence: %w", err))
		}

		return store
	case "memory":
		return memory.NewPersistence()
	default:
		panic("Unsupported database URL: " + databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return provider
}
