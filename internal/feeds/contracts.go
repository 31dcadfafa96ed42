package feeds

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/stream"
)

type tokenPayload struct {
	Token string `json:"token"`
}

// ContractsSpec describes the keyed per-instrument channel: one
// subscription per contract token, added and removed as the user
// selects instruments.
func ContractsSpec() stream.ChannelSpec {
	return stream.ChannelSpec{
		Name:        "contracts",
		UpdateEvent: "contract_updates",
		SubscribeFrame: func(key string) (string, interface{}) {
			return "subscribe_specific_contract", tokenPayload{Token: key}
		},
		UnsubscribeFrame: func(key string) (string, interface{}, bool) {
			return "unsubscribe_specific_contract", tokenPayload{Token: key}, true
		},
	}
}

// ContractsFeed owns the keyed contract channel manager and keeps the
// last-known quote per watched token.
type ContractsFeed struct {
	mgr    *stream.Manager
	logger *zap.Logger

	mu   sync.RWMutex
	last map[string]stream.Quote
}

func NewContractsFeed(mgr *stream.Manager, logger *zap.Logger) *ContractsFeed {
	return &ContractsFeed{
		mgr:    mgr,
		logger: logger,
		last:   make(map[string]stream.Quote),
	}
}

func (f *ContractsFeed) Start(ctx context.Context) error {
	return f.mgr.Connect(ctx)
}

func (f *ContractsFeed) Stop() error {
	return f.mgr.Disconnect()
}

// Watch subscribes to one contract token. cb may be nil when the caller
// only needs the cached quote. Watching an already-watched token
// replaces its callback.
func (f *ContractsFeed) Watch(token string, cb stream.Callback) {
	f.mgr.Subscribe(token, func(update stream.Update) {
		f.record(update)
		if cb != nil {
			cb(update)
		}
	})
}

// Unwatch unsubscribes from one contract token and forgets its cached
// quote.
func (f *ContractsFeed) Unwatch(token string) {
	f.mgr.Unsubscribe(token)

	f.mu.Lock()
	delete(f.last, token)
	f.mu.Unlock()
}

// Quote returns the last-known quote for token.
func (f *ContractsFeed) Quote(token string) (stream.Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.last[token]
	return q, ok
}

// Snapshot returns a copy of all last-known contract quotes.
func (f *ContractsFeed) Snapshot() map[string]stream.Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]stream.Quote, len(f.last))
	for k, v := range f.last {
		out[k] = v
	}
	return out
}

func (f *ContractsFeed) Manager() *stream.Manager {
	return f.mgr
}

func (f *ContractsFeed) record(update stream.Update) {
	f.mu.Lock()
	for k, v := range update {
		f.last[k] = v
	}
	f.mu.Unlock()
}
