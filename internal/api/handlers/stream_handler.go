package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/stream"
)

// StatusSource exposes the connection status of the live-data channels
type StatusSource interface {
	Status() []stream.Stats
}

// MarketSource exposes the last-known market index quotes
type MarketSource interface {
	Snapshot() stream.Update
}

// StreamHandler handles live-data stream status and snapshot endpoints
type StreamHandler struct {
	status StatusSource
	market MarketSource
	logger *zap.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(status StatusSource, market MarketSource, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		status: status,
		market: market,
		logger: logger,
	}
}

// GetStatus returns the status of both streaming channels
// GET /api/v1/stream/status
func (h *StreamHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Stream status retrieved successfully",
		Data:    h.status.Status(),
	})
}

// GetMarketData returns the last-known market index quotes
// GET /api/v1/market
func (h *StreamHandler) GetMarketData(c *gin.Context) {
	snapshot := h.market.Snapshot()
	if len(snapshot) == 0 {
		c.JSON(http.StatusOK, SuccessResponse{
			Message: "No market data received yet",
			Data:    gin.H{},
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Market data retrieved successfully",
		Data:    snapshot,
	})
}
