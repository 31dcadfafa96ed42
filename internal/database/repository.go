package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/marketdesk/livefeed/internal/config"
)

// Repository provides database operations
type Repository struct {
	db *sqlx.DB
}

// NewRepository opens the database connection and sizes the pool from
// the database section of the configuration.
func NewRepository(cfg config.DatabaseConfig) (*Repository, error) {
	db, err := sqlx.Connect("pgx", simpleProtocolDSN(cfg.ConnectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	configurePool(db, cfg)
	return &Repository{db: db}, nil
}

// simpleProtocolDSN ensures simple protocol to avoid server-side
// prepared statements.
func simpleProtocolDSN(dsn string) string {
	if dsn == "" || strings.Contains(dsn, "prefer_simple_protocol=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "prefer_simple_protocol=true"
}

func configurePool(db *sqlx.DB, cfg config.DatabaseConfig) {
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping verifies the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context, migrationSQL string) error {
	_, err := r.db.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// === Watchlist Operations ===

// AddWatchlistEntry creates a new watchlist entry. Adding a token that is
// already on the watchlist returns the existing entry.
func (r *Repository) AddWatchlistEntry(ctx context.Context, token, symbol string) (*WatchlistEntry, error) {
	if existing, err := r.GetWatchlistEntryByToken(ctx, token); err == nil {
		return existing, nil
	}

	entry := &WatchlistEntry{
		ID:     uuid.New(),
		Token:  token,
		Symbol: symbol,
	}

	query := `
		INSERT INTO watchlist_entries (id, token, symbol)
		VALUES (:id, :token, :symbol)
		RETURNING created_at
	`

	rows, err := r.db.NamedQueryContext(ctx, query, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to add watchlist entry: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.StructScan(entry); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
	}
	return entry, nil
}

// GetWatchlistEntryByToken retrieves an active watchlist entry by token
func (r *Repository) GetWatchlistEntryByToken(ctx context.Context, token string) (*WatchlistEntry, error) {
	var entry WatchlistEntry
	query := `
		SELECT id, token, symbol, created_at, deleted_at
		FROM watchlist_entries WHERE token = $1 AND deleted_at IS NULL
	`

	err := r.db.GetContext(ctx, &entry, query, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("watchlist entry not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist entry: %w", err)
	}

	return &entry, nil
}

// ListWatchlist retrieves all active watchlist entries
func (r *Repository) ListWatchlist(ctx context.Context) ([]WatchlistEntry, error) {
	var entries []WatchlistEntry
	query := `
		SELECT id, token, symbol, created_at, deleted_at
		FROM watchlist_entries
		WHERE deleted_at IS NULL
		ORDER BY created_at ASC
	`

	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}

	return entries, nil
}

// RemoveWatchlistEntry soft deletes a watchlist entry by token
func (r *Repository) RemoveWatchlistEntry(ctx context.Context, token string) error {
	query := `UPDATE watchlist_entries SET deleted_at = NOW() WHERE token = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("failed to remove watchlist entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("watchlist entry not found")
	}

	return nil
}

// WatchTokens returns the tokens of all active watchlist entries. It
// implements the feeds token source used to restore contract subscriptions
// on startup.
func (r *Repository) WatchTokens(ctx context.Context) ([]string, error) {
	entries, err := r.ListWatchlist(ctx)
	if err != nil {
		return nil, err
	}

	tokens := make([]string, 0, len(entries))
	for _, entry := range entries {
		tokens = append(tokens, entry.Token)
	}
	return tokens, nil
}
