package feeds

import (
	"context"

	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/stream"
)

// TokenSource supplies the contract tokens to watch on startup,
// typically the persisted watchlist.
type TokenSource interface {
	WatchTokens(ctx context.Context) ([]string, error)
}

// Service bundles the two independent channels behind one start/stop
// surface and a connection status indicator for the UI.
type Service struct {
	Market    *MarketDataFeed
	Contracts *ContractsFeed

	tokens TokenSource
	logger *zap.Logger
}

func NewService(market *MarketDataFeed, contracts *ContractsFeed, tokens TokenSource, logger *zap.Logger) *Service {
	s := &Service{
		Market:    market,
		Contracts: contracts,
		tokens:    tokens,
		logger:    logger,
	}

	for _, mgr := range []*stream.Manager{market.Manager(), contracts.Manager()} {
		mgr := mgr
		mgr.OnConnect(func() {
			s.logger.Info("feed connected", zap.String("channel", mgr.Stats().Channel))
		})
		mgr.OnDisconnect(func() {
			s.logger.Info("feed disconnected", zap.String("channel", mgr.Stats().Channel))
		})
		mgr.OnError(func(err error) {
			s.logger.Error("feed error", zap.Error(err))
		})
	}

	return s
}

// Start connects both channels and restores the persisted watchlist. A
// channel that cannot connect immediately is left to its own
// reconnection policy; only configuration-level failures abort startup.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Market.Start(ctx); err != nil {
		s.logger.Warn("market data feed not yet connected", zap.Error(err))
	}
	if err := s.Contracts.Start(ctx); err != nil {
		s.logger.Warn("contracts feed not yet connected", zap.Error(err))
	}

	if s.tokens != nil {
		tokens, err := s.tokens.WatchTokens(ctx)
		if err != nil {
			return err
		}
		for _, token := range tokens {
			s.Contracts.Watch(token, nil)
		}
		s.logger.Info("restored watchlist subscriptions", zap.Int("tokens", len(tokens)))
	}

	return nil
}

func (s *Service) Stop() {
	if err := s.Market.Stop(); err != nil {
		s.logger.Warn("failed to stop market data feed", zap.Error(err))
	}
	if err := s.Contracts.Stop(); err != nil {
		s.logger.Warn("failed to stop contracts feed", zap.Error(err))
	}
}

// Status reports both channels' connection snapshots.
func (s *Service) Status() []stream.Stats {
	return []stream.Stats{
		s.Market.Manager().Stats(),
		s.Contracts.Manager().Stats(),
	}
}
