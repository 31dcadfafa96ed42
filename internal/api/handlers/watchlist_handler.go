package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/database"
	"github.com/marketdesk/livefeed/internal/stream"
)

// WatchlistStore persists watchlist entries
type WatchlistStore interface {
	ListWatchlist(ctx context.Context) ([]database.WatchlistEntry, error)
	AddWatchlistEntry(ctx context.Context, token, symbol string) (*database.WatchlistEntry, error)
	RemoveWatchlistEntry(ctx context.Context, token string) error
}

// ContractWatcher manages live per-instrument contract subscriptions
type ContractWatcher interface {
	Watch(token string, cb stream.Callback)
	Unwatch(token string)
	Quote(token string) (stream.Quote, bool)
}

// WatchlistHandler handles watchlist management endpoints
type WatchlistHandler struct {
	store     WatchlistStore
	contracts ContractWatcher
	logger    *zap.Logger
}

// NewWatchlistHandler creates a new watchlist handler
func NewWatchlistHandler(store WatchlistStore, contracts ContractWatcher, logger *zap.Logger) *WatchlistHandler {
	return &WatchlistHandler{
		store:     store,
		contracts: contracts,
		logger:    logger,
	}
}

// AddEntryRequest is the payload for adding a watchlist entry
type AddEntryRequest struct {
	Token  string `json:"token" binding:"required"`
	Symbol string `json:"symbol"`
}

// WatchlistEntryView is a watchlist entry with its last-known quote attached
type WatchlistEntryView struct {
	database.WatchlistEntry
	Quote *stream.Quote `json:"quote,omitempty"`
}

// ListEntries retrieves all watchlist entries with their last-known quotes
// GET /api/v1/watchlist
func (h *WatchlistHandler) ListEntries(c *gin.Context) {
	entries, err := h.store.ListWatchlist(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list watchlist", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to list watchlist",
		})
		return
	}

	views := make([]WatchlistEntryView, 0, len(entries))
	for _, entry := range entries {
		view := WatchlistEntryView{WatchlistEntry: entry}
		if quote, ok := h.contracts.Quote(entry.Token); ok {
			view.Quote = &quote
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Watchlist retrieved successfully",
		Data:    views,
	})
}

// AddEntry adds a token to the watchlist and subscribes its live feed
// POST /api/v1/watchlist
func (h *WatchlistHandler) AddEntry(c *gin.Context) {
	var req AddEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
		})
		return
	}

	entry, err := h.store.AddWatchlistEntry(c.Request.Context(), req.Token, req.Symbol)
	if err != nil {
		h.logger.Error("Failed to add watchlist entry",
			zap.String("token", req.Token),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to add watchlist entry",
		})
		return
	}

	h.contracts.Watch(req.Token, nil)

	c.JSON(http.StatusCreated, SuccessResponse{
		Message: "Watchlist entry added successfully",
		Data:    entry,
	})
}

// RemoveEntry removes a token from the watchlist and unsubscribes its feed
// DELETE /api/v1/watchlist/:token
func (h *WatchlistHandler) RemoveEntry(c *gin.Context) {
	token := c.Param("token")

	if err := h.store.RemoveWatchlistEntry(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Watchlist entry not found",
		})
		return
	}

	h.contracts.Unwatch(token)

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Watchlist entry removed successfully",
	})
}

// GetQuote retrieves the last-known quote for a watched token
// GET /api/v1/watchlist/:token/quote
func (h *WatchlistHandler) GetQuote(c *gin.Context) {
	token := c.Param("token")

	quote, ok := h.contracts.Quote(token)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "No quote received for token",
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Quote retrieved successfully",
		Data:    quote,
	})
}
