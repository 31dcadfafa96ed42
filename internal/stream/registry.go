package stream

import (
	"sync"

	"github.com/shopspring/decimal"
)

// BroadcastKey is the implicit registry key used by broadcast channels,
// where a single upstream stream fans out to every registered consumer.
const BroadcastKey = "*"

// Quote is one validated price entry of an inbound frame.
type Quote struct {
	Price         decimal.Decimal  `json:"price"`
	ChangePercent decimal.Decimal  `json:"changePercent"`
	PreviousPrice *decimal.Decimal `json:"previousPrice,omitempty"`
}

// Update is the validated slice of a frame delivered to a consumer,
// keyed by entity identifier (index name or instrument token).
type Update map[string]Quote

// Callback consumes validated updates for one subscription.
type Callback func(Update)

// Entry pairs a subscription key with its consumer callback.
type Entry struct {
	Key      string
	Callback Callback
}

// Registry is the durable subscription map of one channel. Its contents
// are independent of connection state: entries are added by Subscribe and
// removed only by Unsubscribe, never by a disconnect. That durability is
// what makes resubscription replay after a reconnect meaningful.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Upsert adds or replaces the entry for key.
func (r *Registry) Upsert(key string, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = Entry{Key: key, Callback: cb}
}

// Remove deletes the entry for key and reports whether it existed.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	delete(r.entries, key)
	return ok
}

func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// Snapshot returns a copy of all current entries.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
