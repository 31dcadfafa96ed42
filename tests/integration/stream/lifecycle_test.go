package stream_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/feeds"
	"github.com/marketdesk/livefeed/internal/stream"
)

// wireFrame mirrors the JSON envelope both directions of the feed use.
type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// feedServer is an in-process stand-in for the upstream data bridge. It
// exposes each accepted websocket connection to the test.
type feedServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFeedServer() *feedServer {
	fs := &feedServer{conns: make(chan *websocket.Conn, 4)}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
	}))
	return fs
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *feedServer) close() {
	fs.srv.Close()
}

// accept waits for the next client connection.
func (fs *feedServer) accept() *websocket.Conn {
	select {
	case conn := <-fs.conns:
		return conn
	case <-time.After(5 * time.Second):
		Fail("timed out waiting for client connection")
		return nil
	}
}

// awaitEvent reads inbound frames until one matches event, ignoring
// heartbeats and anything else in between.
func awaitEvent(conn *websocket.Conn, event string) wireFrame {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			Fail("connection dropped while waiting for " + event + ": " + err.Error())
		}
		var frame wireFrame
		if json.Unmarshal(msg, &frame) != nil {
			continue
		}
		if frame.Event == event {
			return frame
		}
	}
	Fail("timed out waiting for event " + event)
	return wireFrame{}
}

func push(conn *websocket.Conn, event, payload string) {
	frame := wireFrame{Event: event, Data: json.RawMessage(payload)}
	raw, err := json.Marshal(frame)
	Expect(err).ToNot(HaveOccurred())
	Expect(conn.WriteMessage(websocket.TextMessage, raw)).To(Succeed())
}

func fastConfig() stream.Config {
	return stream.Config{
		StabilizationDelay:   20 * time.Millisecond,
		HeartbeatInterval:    500 * time.Millisecond,
		StalenessTimeout:     5 * time.Second,
		BackoffBase:          30 * time.Millisecond,
		BackoffCap:           60 * time.Millisecond,
		MaxReconnectAttempts: 5,
	}
}

var _ = Describe("Live feed over websocket", func() {
	var (
		server *feedServer
		mgr    *stream.Manager
	)

	AfterEach(func() {
		if mgr != nil {
			_ = mgr.Disconnect()
		}
		server.close()
	})

	Describe("Market data channel", func() {
		BeforeEach(func() {
			server = newFeedServer()
			transport := stream.NewWebsocketTransport(server.url(), zap.NewNop())
			mgr = stream.NewManager(feeds.MarketDataSpec(), fastConfig(), transport, zap.NewNop())
		})

		It("connects, subscribes and receives validated updates", func() {
			updates := make(chan stream.Update, 4)
			mgr.Subscribe(stream.BroadcastKey, func(u stream.Update) { updates <- u })

			Expect(mgr.Connect(context.Background())).To(Succeed())
			conn := server.accept()

			awaitEvent(conn, "subscribe_market_data")
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			push(conn, "market_data_update", `{
				"type": "market_data",
				"data": {
					"nifty50":   {"price": 24500.75, "changePercent": 0.42},
					"niftyBank": {"price": 51230.10, "changePercent": -1.05}
				},
				"timestamp": "2026-08-30T10:15:00Z"
			}`)

			var got stream.Update
			Eventually(updates).Should(Receive(&got))
			Expect(got).To(HaveLen(2))
			Expect(got).To(HaveKey("nifty50"))
		})

		It("reconnects and replays the subscription after a drop", func() {
			updates := make(chan stream.Update, 4)
			mgr.Subscribe(stream.BroadcastKey, func(u stream.Update) { updates <- u })

			Expect(mgr.Connect(context.Background())).To(Succeed())
			first := server.accept()
			awaitEvent(first, "subscribe_market_data")

			// upstream drops without a close handshake
			first.Close()

			second := server.accept()
			awaitEvent(second, "subscribe_market_data")
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			push(second, "market_data_update", `{"data": {"nifty50": {"price": 24510.00, "changePercent": 0.46}}}`)
			Eventually(updates).Should(Receive())
		})

		It("drops out-of-range entries and keeps the rest", func() {
			updates := make(chan stream.Update, 4)
			mgr.Subscribe(stream.BroadcastKey, func(u stream.Update) { updates <- u })

			Expect(mgr.Connect(context.Background())).To(Succeed())
			conn := server.accept()
			awaitEvent(conn, "subscribe_market_data")

			push(conn, "market_data_update", `{"data": {
				"nifty50":   {"price": 24500.75, "changePercent": 0.42},
				"niftyBank": {"price": -5, "changePercent": 0.1}
			}}`)

			var got stream.Update
			Eventually(updates).Should(Receive(&got))
			Expect(got).To(HaveLen(1))
			Expect(got).To(HaveKey("nifty50"))
		})
	})

	Describe("Contracts channel", func() {
		var feed *feeds.ContractsFeed

		BeforeEach(func() {
			server = newFeedServer()
			transport := stream.NewWebsocketTransport(server.url(), zap.NewNop())
			mgr = stream.NewManager(feeds.ContractsSpec(), fastConfig(), transport, zap.NewNop())
			feed = feeds.NewContractsFeed(mgr, zap.NewNop())
		})

		It("subscribes each watched token and routes its slice", func() {
			updates := make(chan stream.Update, 4)
			feed.Watch("2885", func(u stream.Update) { updates <- u })
			feed.Watch("11536", nil)

			Expect(mgr.Connect(context.Background())).To(Succeed())
			conn := server.accept()

			tokens := map[string]bool{}
			for i := 0; i < 2; i++ {
				frame := awaitEvent(conn, "subscribe_specific_contract")
				var payload struct {
					Token string `json:"token"`
				}
				Expect(json.Unmarshal(frame.Data, &payload)).To(Succeed())
				tokens[payload.Token] = true
			}
			Expect(tokens).To(HaveKey("2885"))
			Expect(tokens).To(HaveKey("11536"))

			push(conn, "contract_updates", `{"data": {
				"2885":  {"price": 612.40, "changePercent": 1.2},
				"11536": {"price": 89.15, "changePercent": -0.3}
			}}`)

			var got stream.Update
			Eventually(updates).Should(Receive(&got))
			Expect(got).To(HaveLen(1))
			Expect(got).To(HaveKey("2885"))

			Eventually(func() bool {
				_, ok := feed.Quote("11536")
				return ok
			}).Should(BeTrue())
		})

		It("sends the unsubscribe frame when a token is unwatched", func() {
			feed.Watch("2885", nil)

			Expect(mgr.Connect(context.Background())).To(Succeed())
			conn := server.accept()
			awaitEvent(conn, "subscribe_specific_contract")
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			feed.Unwatch("2885")

			frame := awaitEvent(conn, "unsubscribe_specific_contract")
			var payload struct {
				Token string `json:"token"`
			}
			Expect(json.Unmarshal(frame.Data, &payload)).To(Succeed())
			Expect(payload.Token).To(Equal("2885"))
		})
	})
})
