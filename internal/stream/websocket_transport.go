package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	maxMessageSize   = 2 * 1024 * 1024
)

// WebsocketTransport carries JSON event frames over a single websocket
// connection.
type WebsocketTransport struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWebsocketTransport(url string, logger *zap.Logger) *WebsocketTransport {
	return &WebsocketTransport{
		url:    url,
		logger: logger,
	}
}

func (t *WebsocketTransport) Dial(ctx context.Context, h TransportHandlers) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return &OpenError{URL: t.url, Err: fmt.Errorf("already connected")}
	}
	t.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return &OpenError{URL: t.url, Err: err}
	}

	conn.SetReadLimit(maxMessageSize)

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readPump(conn, h)
	return nil
}

func (t *WebsocketTransport) readPump(conn *websocket.Conn, h TransportHandlers) {
	var readErr error
	defer func() {
		conn.Close()

		t.mu.Lock()
		locallyClosed := t.conn != conn
		if !locallyClosed {
			t.conn = nil
		}
		t.mu.Unlock()

		closeErr := readErr
		if locallyClosed || websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			closeErr = nil
		}
		if h.OnClose != nil {
			h.OnClose(closeErr)
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		var frame Frame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Event == "" {
			t.logger.Warn("discarding unparseable frame", zap.Error(err))
			continue
		}

		if h.OnFrame != nil {
			h.OnFrame(frame)
		}
	}
}

func (t *WebsocketTransport) Emit(event string, data interface{}) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("transport not connected")
	}

	frame := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		frame.Data = raw
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	return conn.WriteJSON(frame)
}

func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
