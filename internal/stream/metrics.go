package stream

// Metrics receives stream-level instrumentation events. Implementations
// must be safe for concurrent use.
type Metrics interface {
	StateChanged(s State)
	FrameReceived()
	FrameDropped()
	FieldDropped()
	SubscribeSent()
	ReconnectScheduled()
	SubscriptionCount(n int)
}

// NopMetrics discards all instrumentation.
type NopMetrics struct{}

func (NopMetrics) StateChanged(State)    {}
func (NopMetrics) FrameReceived()        {}
func (NopMetrics) FrameDropped()         {}
func (NopMetrics) FieldDropped()         {}
func (NopMetrics) SubscribeSent()        {}
func (NopMetrics) ReconnectScheduled()   {}
func (NopMetrics) SubscriptionCount(int) {}
