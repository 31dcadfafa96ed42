package api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/api/handlers"
	"github.com/marketdesk/livefeed/internal/config"
	"github.com/marketdesk/livefeed/internal/metrics"
)

// NewHTTPServer creates the HTTP server with the API router attached
func NewHTTPServer(
	cfg *config.Config,
	streamHandler *handlers.StreamHandler,
	watchlistHandler *handlers.WatchlistHandler,
	registry *metrics.Registry,
	logger *zap.Logger,
) *http.Server {
	router := SetupRouter(streamHandler, watchlistHandler, registry, logger, cfg.Server.CORSAllowOrigin)

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
}
