package feeds

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/stream"
)

// Keys of the broadcast market index payload.
const (
	IndexNifty50   = "nifty50"
	IndexNiftyBank = "niftyBank"
)

// MarketDataSpec describes the broadcast index channel: one upstream
// stream, a single implicit subscription, every consumer sees the whole
// payload.
func MarketDataSpec() stream.ChannelSpec {
	return stream.ChannelSpec{
		Name:        "market-data",
		UpdateEvent: "market_data_update",
		Broadcast:   true,
		SubscribeFrame: func(string) (string, interface{}) {
			return "subscribe_market_data", nil
		},
		UnsubscribeFrame: func(string) (string, interface{}, bool) {
			return "unsubscribe_market_data", nil, true
		},
	}
}

// MarketDataFeed owns the broadcast channel manager and keeps the
// last-known index quotes for consumers that join late (REST, UI).
type MarketDataFeed struct {
	mgr    *stream.Manager
	logger *zap.Logger

	mu        sync.RWMutex
	last      stream.Update
	listeners []stream.Callback
}

func NewMarketDataFeed(mgr *stream.Manager, logger *zap.Logger) *MarketDataFeed {
	f := &MarketDataFeed{
		mgr:    mgr,
		logger: logger,
		last:   make(stream.Update),
	}
	mgr.Subscribe(stream.BroadcastKey, f.consume)
	return f
}

func (f *MarketDataFeed) Start(ctx context.Context) error {
	return f.mgr.Connect(ctx)
}

func (f *MarketDataFeed) Stop() error {
	return f.mgr.Disconnect()
}

// OnUpdate registers an additional consumer. Unlike the manager's
// single-slot observers, feed listeners accumulate.
func (f *MarketDataFeed) OnUpdate(cb stream.Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, cb)
}

// Snapshot returns a copy of the last-known index quotes.
func (f *MarketDataFeed) Snapshot() stream.Update {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(stream.Update, len(f.last))
	for k, v := range f.last {
		out[k] = v
	}
	return out
}

func (f *MarketDataFeed) Manager() *stream.Manager {
	return f.mgr
}

func (f *MarketDataFeed) consume(update stream.Update) {
	f.mu.Lock()
	for k, v := range update {
		f.last[k] = v
	}
	listeners := make([]stream.Callback, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()

	for _, cb := range listeners {
		cb(update)
	}
}
