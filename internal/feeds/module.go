package feeds

import (
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/config"
	"github.com/marketdesk/livefeed/internal/database"
	"github.com/marketdesk/livefeed/internal/metrics"
	"github.com/marketdesk/livefeed/internal/stream"
)

const (
	marketDataPath = "/market-data"
	contractsPath  = "/contracts"
)

// Module provides the live-data feeds (market indices and contracts)
var Module = fx.Module("feeds",
	fx.Provide(
		NewMarketDataFromConfig,
		NewContractsFromConfig,
		func(market *MarketDataFeed, contracts *ContractsFeed, repo *database.Repository, logger *zap.Logger) *Service {
			return NewService(market, contracts, repo, logger)
		},
	),
)

// NewMarketDataFromConfig builds the broadcast market-index feed from
// application configuration.
func NewMarketDataFromConfig(cfg *config.Config, logger *zap.Logger, reg *metrics.Registry) *MarketDataFeed {
	mgr := newChannelManager(MarketDataSpec(), marketDataPath, cfg, logger, reg)
	return NewMarketDataFeed(mgr, logger)
}

// NewContractsFromConfig builds the keyed per-instrument contracts feed from
// application configuration.
func NewContractsFromConfig(cfg *config.Config, logger *zap.Logger, reg *metrics.Registry) *ContractsFeed {
	mgr := newChannelManager(ContractsSpec(), contractsPath, cfg, logger, reg)
	return NewContractsFeed(mgr, logger)
}

func newChannelManager(spec stream.ChannelSpec, path string, cfg *config.Config, logger *zap.Logger, reg *metrics.Registry) *stream.Manager {
	url := strings.TrimRight(cfg.Stream.BaseURL, "/") + path
	transport := stream.NewWebsocketTransport(url, logger)
	mgr := stream.NewManager(spec, cfg.Stream.ManagerConfig(), transport, logger)
	mgr.UseMetrics(reg.Channel(spec.Name))
	return mgr
}
