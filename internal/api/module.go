package api

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/api/handlers"
	"github.com/marketdesk/livefeed/internal/database"
	"github.com/marketdesk/livefeed/internal/feeds"
)

// Module provides HTTP API components (handlers, routes, server)
var Module = fx.Module("api",
	fx.Provide(
		// HTTP Handlers
		func(svc *feeds.Service, market *feeds.MarketDataFeed, logger *zap.Logger) *handlers.StreamHandler {
			return handlers.NewStreamHandler(svc, market, logger)
		},
		func(repo *database.Repository, contracts *feeds.ContractsFeed, logger *zap.Logger) *handlers.WatchlistHandler {
			return handlers.NewWatchlistHandler(repo, contracts, logger)
		},

		// HTTP Server
		NewHTTPServer,
	),
)
