package database

import (
	"time"

	"github.com/google/uuid"
)

// WatchlistEntry represents a persisted per-instrument contract subscription.
// Entries survive restarts; the feeds service resubscribes them on startup.
type WatchlistEntry struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Token     string     `db:"token" json:"token"`
	Symbol    string     `db:"symbol" json:"symbol"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}
