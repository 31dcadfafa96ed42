package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/stream"
)

type fakeEmit struct {
	event string
	data  interface{}
}

// fakeTransport records dials and emitted frames and lets tests inject
// inbound frames and connection drops.
type fakeTransport struct {
	mu       sync.Mutex
	dialErr  error
	handlers stream.TransportHandlers
	dials    int
	closes   int
	emitted  []fakeEmit
}

func (t *fakeTransport) Dial(ctx context.Context, h stream.TransportHandlers) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.dialErr != nil {
		return t.dialErr
	}
	t.handlers = h
	return nil
}

func (t *fakeTransport) Emit(event string, data interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitted = append(t.emitted, fakeEmit{event: event, data: data})
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	h := t.handlers
	t.closes++
	t.mu.Unlock()

	// the read loop of a real transport unwinds asynchronously
	if h.OnClose != nil {
		go h.OnClose(nil)
	}
	return nil
}

func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	h := t.handlers
	t.mu.Unlock()
	if h.OnClose != nil {
		h.OnClose(err)
	}
}

func (t *fakeTransport) frame(event, payload string) {
	t.mu.Lock()
	h := t.handlers
	t.mu.Unlock()
	if h.OnFrame != nil {
		h.OnFrame(stream.Frame{Event: event, Data: json.RawMessage(payload)})
	}
}

func (t *fakeTransport) setDialErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialErr = err
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

func (t *fakeTransport) emitCount(event string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.emitted {
		if e.event == event {
			n++
		}
	}
	return n
}

func broadcastSpec() stream.ChannelSpec {
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

func keyedSpec() stream.ChannelSpec {
	return stream.ChannelSpec{
		Name:        "contracts",
		UpdateEvent: "contract_updates",
		SubscribeFrame: func(key string) (string, interface{}) {
			return "subscribe_specific_contract", map[string]string{"token": key}
		},
		UnsubscribeFrame: func(key string) (string, interface{}, bool) {
			return "unsubscribe_specific_contract", map[string]string{"token": key}, true
		},
	}
}

func fastConfig() stream.Config {
	return stream.Config{
		StabilizationDelay:   10 * time.Millisecond,
		HeartbeatInterval:    25 * time.Millisecond,
		StalenessTimeout:     120 * time.Millisecond,
		BackoffBase:          10 * time.Millisecond,
		BackoffCap:           20 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

var _ = Describe("Manager", func() {
	var (
		transport *fakeTransport
		mgr       *stream.Manager
	)

	BeforeEach(func() {
		transport = &fakeTransport{}
		mgr = stream.NewManager(broadcastSpec(), fastConfig(), transport, zap.NewNop())
	})

	AfterEach(func() {
		_ = mgr.Disconnect()
	})

	Describe("Lifecycle", func() {
		It("starts disconnected", func() {
			Expect(mgr.State()).To(Equal(stream.StateDisconnected))
		})

		It("stabilizes after the stabilization delay", func() {
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Expect(mgr.State().IsConnected()).To(BeTrue())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))
		})

		It("notifies the connect observer on stabilization only", func() {
			connects := make(chan struct{}, 2)
			mgr.OnConnect(func() { connects <- struct{}{} })

			Expect(mgr.Connect(context.Background())).To(Succeed())
			Consistently(connects, "5ms").ShouldNot(Receive())
			Eventually(connects).Should(Receive())
		})

		It("ignores a second connect while already connected", func() {
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			Expect(mgr.Connect(context.Background())).To(Succeed())
			Expect(transport.dialCount()).To(Equal(1))
		})
	})

	Describe("Subscriptions", func() {
		It("defers subscribe requests made before connecting", func() {
			mgr.Subscribe(stream.BroadcastKey, func(stream.Update) {})
			Expect(transport.emitCount("subscribe_market_data")).To(BeZero())

			Expect(mgr.Connect(context.Background())).To(Succeed())

			Eventually(func() int {
				return transport.emitCount("subscribe_market_data")
			}).Should(Equal(1))
			Consistently(func() int {
				return transport.emitCount("subscribe_market_data")
			}, "30ms").Should(Equal(1))
		})

		It("emits immediately while stable", func() {
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			mgr.Subscribe(stream.BroadcastKey, func(stream.Update) {})
			Expect(transport.emitCount("subscribe_market_data")).To(Equal(1))
		})

		It("replays the registry after every stabilization", func() {
			mgr.Subscribe(stream.BroadcastKey, func(stream.Update) {})
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(func() int {
				return transport.emitCount("subscribe_market_data")
			}).Should(Equal(1))

			transport.drop(errors.New("connection reset"))
			Eventually(transport.dialCount).Should(Equal(2))
			Eventually(func() int {
				return transport.emitCount("subscribe_market_data")
			}).Should(Equal(2))
		})

		It("keeps the registry across a manual disconnect", func() {
			mgr.Subscribe(stream.BroadcastKey, func(stream.Update) {})
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			Expect(mgr.Disconnect()).To(Succeed())
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(func() int {
				return transport.emitCount("subscribe_market_data")
			}).Should(Equal(2))
		})
	})

	Describe("Dispatch", func() {
		It("hands whole payloads to the broadcast subscription", func() {
			updates := make(chan stream.Update, 1)
			mgr.Subscribe(stream.BroadcastKey, func(u stream.Update) { updates <- u })

			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			transport.frame("market_data_update", `{"data": {
				"nifty50":   {"price": 24500.75, "changePercent": 0.42},
				"niftyBank": {"price": 51230.10, "changePercent": -1.05}
			}}`)

			var got stream.Update
			Eventually(updates).Should(Receive(&got))
			Expect(got).To(HaveLen(2))
			Expect(got).To(HaveKey("nifty50"))
			Expect(got).To(HaveKey("niftyBank"))
		})

		It("drops malformed frames without touching consumers", func() {
			updates := make(chan stream.Update, 1)
			mgr.Subscribe(stream.BroadcastKey, func(u stream.Update) { updates <- u })

			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			transport.frame("market_data_update", `"not an object"`)
			Consistently(updates, "20ms").ShouldNot(Receive())
		})

		It("ignores frames from a superseded connection", func() {
			updates := make(chan stream.Update, 1)
			mgr.Subscribe(stream.BroadcastKey, func(u stream.Update) { updates <- u })

			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			stale := transport
			Expect(mgr.Disconnect()).To(Succeed())

			stale.frame("market_data_update", `{"data": {"nifty50": {"price": 1, "changePercent": 0}}}`)
			Consistently(updates, "20ms").ShouldNot(Receive())
		})
	})

	Describe("Keyed channels", func() {
		BeforeEach(func() {
			transport = &fakeTransport{}
			mgr = stream.NewManager(keyedSpec(), fastConfig(), transport, zap.NewNop())
		})

		It("routes each consumer only its own slice", func() {
			updatesA := make(chan stream.Update, 1)
			updatesB := make(chan stream.Update, 1)
			mgr.Subscribe("2885", func(u stream.Update) { updatesA <- u })
			mgr.Subscribe("11536", func(u stream.Update) { updatesB <- u })

			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			transport.frame("contract_updates", `{"data": {
				"2885":  {"price": 612.40, "changePercent": 1.2},
				"99999": {"price": 10.00, "changePercent": 0.1}
			}}`)

			var got stream.Update
			Eventually(updatesA).Should(Receive(&got))
			Expect(got).To(HaveLen(1))
			Expect(got).To(HaveKey("2885"))

			Consistently(updatesB, "20ms").ShouldNot(Receive())
		})

		It("sends one subscribe frame per registered token on replay", func() {
			mgr.Subscribe("2885", func(stream.Update) {})
			mgr.Subscribe("11536", func(stream.Update) {})

			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(func() int {
				return transport.emitCount("subscribe_specific_contract")
			}).Should(Equal(2))
		})

		It("sends the unsubscribe frame while stable", func() {
			mgr.Subscribe("2885", func(stream.Update) {})
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			mgr.Unsubscribe("2885")
			Expect(transport.emitCount("unsubscribe_specific_contract")).To(Equal(1))
		})
	})

	Describe("Reconnection", func() {
		It("reconnects automatically after a dropped connection", func() {
			errs := make(chan error, 1)
			mgr.OnError(func(err error) { errs <- err })

			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			transport.drop(errors.New("connection reset"))

			var got error
			Eventually(errs).Should(Receive(&got))
			var dropped *stream.DroppedError
			Expect(errors.As(got, &dropped)).To(BeTrue())

			Eventually(transport.dialCount).Should(Equal(2))
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))
		})

		It("does not reconnect after a manual disconnect", func() {
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			Expect(mgr.Disconnect()).To(Succeed())
			Expect(mgr.State()).To(Equal(stream.StateDisconnected))
			Consistently(transport.dialCount, "60ms").Should(Equal(1))
		})

		It("cancels a pending reconnect on manual disconnect", func() {
			cfg := fastConfig()
			cfg.BackoffBase = 200 * time.Millisecond
			cfg.BackoffCap = 200 * time.Millisecond
			slow := &fakeTransport{}
			slowMgr := stream.NewManager(broadcastSpec(), cfg, slow, zap.NewNop())

			Expect(slowMgr.Connect(context.Background())).To(Succeed())
			Eventually(slowMgr.State).Should(Equal(stream.StateConnectedStable))

			slow.drop(errors.New("connection reset"))
			Expect(slowMgr.State()).To(Equal(stream.StateDisconnected))

			// the backoff timer is pending; Disconnect must drop it
			Expect(slowMgr.Disconnect()).To(Succeed())
			Consistently(slow.dialCount, "300ms").Should(Equal(1))
			Expect(slowMgr.State()).To(Equal(stream.StateDisconnected))
		})

		It("is idempotent on disconnect", func() {
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			Expect(mgr.Disconnect()).To(Succeed())
			Expect(mgr.Disconnect()).To(Succeed())
			Expect(mgr.State()).To(Equal(stream.StateDisconnected))
		})

		It("stops retrying once the budget is exhausted", func() {
			errs := make(chan error, 8)
			mgr.OnError(func(err error) { errs <- err })
			transport.setDialErr(errors.New("connection refused"))

			Expect(mgr.Connect(context.Background())).To(HaveOccurred())

			// initial dial plus the full attempt budget
			Eventually(transport.dialCount).Should(Equal(4))
			Consistently(transport.dialCount, "60ms").Should(Equal(4))
			Expect(mgr.State()).To(Equal(stream.StateErrored))

			Eventually(func() bool {
				for {
					select {
					case err := <-errs:
						var exhausted *stream.ExhaustedError
						if errors.As(err, &exhausted) {
							return true
						}
					default:
						return false
					}
				}
			}).Should(BeTrue())
		})

		It("restores the budget on a manual connect", func() {
			transport.setDialErr(errors.New("connection refused"))
			Expect(mgr.Connect(context.Background())).To(HaveOccurred())
			Eventually(transport.dialCount).Should(Equal(4))

			transport.setDialErr(nil)
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))
		})
	})

	Describe("Watchdog", func() {
		It("emits heartbeat pings while stable", func() {
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			Eventually(func() int {
				return transport.emitCount("ping")
			}).Should(BeNumerically(">=", 1))
		})

		It("forces a reconnect after prolonged silence", func() {
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			// no frames arrive at all: the staleness window elapses and
			// the forced close engages the scheduler
			Eventually(transport.closeCount, "2s").Should(BeNumerically(">=", 1))
			Eventually(transport.dialCount, "2s").Should(BeNumerically(">=", 2))
		})

		It("treats pong acknowledgements as liveness", func() {
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			stopFeeding := make(chan struct{})
			go func() {
				ticker := time.NewTicker(20 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-stopFeeding:
						return
					case <-ticker.C:
						transport.frame("pong", `{}`)
					}
				}
			}()
			defer close(stopFeeding)

			Consistently(transport.closeCount, "300ms").Should(BeZero())
			Expect(mgr.State()).To(Equal(stream.StateConnectedStable))
		})
	})

	Describe("Stats", func() {
		It("reports the channel snapshot", func() {
			mgr.Subscribe(stream.BroadcastKey, func(stream.Update) {})
			Expect(mgr.Connect(context.Background())).To(Succeed())
			Eventually(mgr.State).Should(Equal(stream.StateConnectedStable))

			stats := mgr.Stats()
			Expect(stats.Channel).To(Equal("market-data"))
			Expect(stats.State).To(Equal("connected_stable"))
			Expect(stats.Subscriptions).To(Equal(1))
			Expect(stats.LastConnectedAt).ToNot(BeZero())
		})
	})
})
