package database

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/config"
)

//go:embed migrations/001_watchlist.sql
var watchlistSchema string

// Module provides database connectivity and migrations
var Module = fx.Module("database",
	fx.Provide(ProvideRepository),
	fx.Invoke(runMigrations),
)

// ProvideRepository creates a database repository from config
func ProvideRepository(cfg *config.Config, logger *zap.Logger) (*Repository, error) {
	logger.Info("Connecting to database...")
	repo, err := NewRepository(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return repo, nil
}

// runMigrations runs database migrations on startup
func runMigrations(repo *Repository, logger *zap.Logger) error {
	logger.Info("Running database migrations...")

	if err := repo.RunMigrations(context.Background(), watchlistSchema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Migrations completed successfully")
	return nil
}
