package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/conduit/pkg/persistence"
	"github.com/dukex/conduit/pkg/persistence/file"
	"github.com/dukex/conduit/pkg/persistence/postgresql"
	"github.com/dukex/conduit/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewPersistence opens the store named by databaseURL. postgres:// and
// postgresql:// URLs select PostgreSQL; anything else is a directory for the
// file store, with or without a file:// prefix.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger.With("module", "postgresql"), databaseURL)
		if err != nil {
			return nil, err
		}

		logger.InfoContext(ctx, "Using PostgreSQL persistence")

		return store, nil
	default:
		root := strings.TrimPrefix(databaseURL, "file://")

		logger.InfoContext(ctx, "Using file persistence", "root", root)

		return file.NewPersistence(root), nil
	}
}

// NewBudgetRepository returns the Redis budget store when budgetStoreURL is
// set, otherwise the budget repository of the main persistence. The returned
// close function releases whatever was opened here.
func NewBudgetRepository(
	ctx context.Context,
	logger *slog.Logger,
	budgetStoreURL string,
	fallback persistence.Persistence,
) (persistence.BudgetRepository, func() error, error) {
	if budgetStoreURL == "" {
		return fallback.BudgetRepository(), func() error { return nil }, nil
	}

	repo, err := redis.Connect(ctx, logger.With("module", "redis"), budgetStoreURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open budget store: %w", err)
	}

	return repo, repo.Close, nil
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")
	if len(parts) < 2 {
		return "file"
	}

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
