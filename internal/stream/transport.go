package stream

import (
	"context"
	"encoding/json"
)

// Frame is one named event on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TransportHandlers receives transport-level events for one dialed
// connection. OnClose fires exactly once per successful Dial, with a nil
// error on a clean local close and the read error otherwise.
type TransportHandlers struct {
	OnFrame func(Frame)
	OnClose func(err error)
}

// Transport is the bidirectional event socket a Manager drives. A
// Transport holds at most one live connection; Dial after Close is
// allowed. Implementations must be safe for concurrent use.
type Transport interface {
	Dial(ctx context.Context, h TransportHandlers) error
	Emit(event string, data interface{}) error
	Close() error
}
