package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marketdesk/livefeed/internal/stream"
)

// Registry bundles the stream collectors behind one prometheus registry.
type Registry struct {
	prom *prometheus.Registry

	framesReceived      *prometheus.CounterVec
	framesDropped       *prometheus.CounterVec
	fieldsDropped       *prometheus.CounterVec
	subscribeRequests   *prometheus.CounterVec
	reconnectsScheduled *prometheus.CounterVec
	connectionState     *prometheus.GaugeVec
	subscriptions       *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	r := &Registry{
		prom: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livefeed_frames_received_total",
			Help: "Inbound frames received, before validation",
		}, []string{"channel"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livefeed_frames_dropped_total",
			Help: "Frames rejected as structurally invalid",
		}, []string{"channel"}),
		fieldsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livefeed_fields_dropped_total",
			Help: "Individual payload entries rejected by range checks",
		}, []string{"channel"}),
		subscribeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livefeed_subscribe_requests_total",
			Help: "Subscribe requests sent, including stabilization replays",
		}, []string{"channel"}),
		reconnectsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livefeed_reconnects_scheduled_total",
			Help: "Reconnection attempts handed to the backoff scheduler",
		}, []string{"channel"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livefeed_connection_state",
			Help: "Current lifecycle state (enum value of stream.State)",
		}, []string{"channel"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livefeed_active_subscriptions",
			Help: "Entries currently in the subscription registry",
		}, []string{"channel"}),
	}

	r.prom.MustRegister(
		r.framesReceived,
		r.framesDropped,
		r.fieldsDropped,
		r.subscribeRequests,
		r.reconnectsScheduled,
		r.connectionState,
		r.subscriptions,
	)
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// Channel returns a stream.Metrics sink labelled for one channel.
func (r *Registry) Channel(name string) stream.Metrics {
	return &channelMetrics{registry: r, channel: name}
}

type channelMetrics struct {
	registry *Registry
	channel  string
}

func (c *channelMetrics) StateChanged(s stream.State) {
	c.registry.connectionState.WithLabelValues(c.channel).Set(float64(s))
}

func (c *channelMetrics) FrameReceived() {
	c.registry.framesReceived.WithLabelValues(c.channel).Inc()
}

func (c *channelMetrics) FrameDropped() {
	c.registry.framesDropped.WithLabelValues(c.channel).Inc()
}

func (c *channelMetrics) FieldDropped() {
	c.registry.fieldsDropped.WithLabelValues(c.channel).Inc()
}

func (c *channelMetrics) SubscribeSent() {
	c.registry.subscribeRequests.WithLabelValues(c.channel).Inc()
}

func (c *channelMetrics) ReconnectScheduled() {
	c.registry.reconnectsScheduled.WithLabelValues(c.channel).Inc()
}

func (c *channelMetrics) SubscriptionCount(n int) {
	c.registry.subscriptions.WithLabelValues(c.channel).Set(float64(n))
}
