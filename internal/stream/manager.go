package stream

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ChannelSpec parametrizes a Manager for one logical stream. The same
// lifecycle machinery drives both the broadcast market index feed and the
// keyed per-instrument contract feed; only the wire vocabulary differs.
type ChannelSpec struct {
	Name        string
	UpdateEvent string

	// Broadcast channels carry a single implicit subscription under
	// BroadcastKey whose callback receives whole validated payloads.
	Broadcast bool

	// SubscribeFrame returns the outbound event announcing interest in a
	// key. Duplicate subscribe requests must be safe server-side; replay
	// re-sends one per registry entry after every stabilization.
	SubscribeFrame func(key string) (event string, data interface{})

	// UnsubscribeFrame returns the outbound event withdrawing interest in
	// a key, or ok=false when the channel has no unsubscribe message.
	UnsubscribeFrame func(key string) (event string, data interface{}, ok bool)
}

// Config holds the lifecycle tunables of one channel.
type Config struct {
	StabilizationDelay   time.Duration
	HeartbeatInterval    time.Duration
	StalenessTimeout     time.Duration
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	BackoffJitter        bool
	MaxReconnectAttempts int
	MaxPrice             decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.StabilizationDelay <= 0 {
		c.StabilizationDelay = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.StalenessTimeout <= 0 {
		c.StalenessTimeout = 60 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.MaxPrice.IsZero() {
		c.MaxPrice = decimal.NewFromInt(10_000_000)
	}
	return c
}

// Stats is a point-in-time snapshot of one channel's connection.
type Stats struct {
	Channel           string    `json:"channel"`
	State             string    `json:"state"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	PendingReconnect  bool      `json:"pending_reconnect"`
	LastConnectedAt   time.Time `json:"last_connected_at"`
	LastDataAt        time.Time `json:"last_data_at"`
	LastError         string    `json:"last_error,omitempty"`
	Subscriptions     int       `json:"subscriptions"`
}

// Manager owns one channel's transport handle and drives its lifecycle:
// connect, stabilization, resubscription replay, heartbeat/staleness
// supervision, validation and fan-out, and reconnection with exponential
// backoff. Two managers run independently in this system, one per channel.
//
// Observer registration (OnConnect/OnDisconnect/OnError) is single-slot:
// the last registration wins and replacing a handler with nil is the
// documented teardown idiom.
type Manager struct {
	spec      ChannelSpec
	cfg       Config
	transport Transport
	registry  *Registry
	validator *Validator
	sched     *scheduler
	dog       *watchdog
	logger    *zap.Logger
	metrics   Metrics

	mu               sync.Mutex
	state            State
	generation       uint64
	manualDisconnect bool
	lastConnectedAt  time.Time
	lastDataAt       time.Time
	lastError        error
	stabilize        *time.Timer
	dialCtx          context.Context

	obsMu        sync.RWMutex
	onConnect    func()
	onDisconnect func()
	onError      func(error)
}

func NewManager(spec ChannelSpec, cfg Config, transport Transport, logger *zap.Logger) *Manager {
	cfg = cfg.withDefaults()

	m := &Manager{
		spec:      spec,
		cfg:       cfg,
		transport: transport,
		registry:  NewRegistry(),
		logger:    logger.With(zap.String("channel", spec.Name)),
		metrics:   NopMetrics{},
	}
	m.validator = NewValidator(cfg.MaxPrice, m.logger, m.metrics)
	m.sched = newScheduler(
		Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap, Jitter: cfg.BackoffJitter},
		cfg.MaxReconnectAttempts,
		m.autoReconnect,
		m.reportExhausted,
	)
	m.dog = newWatchdog(cfg.HeartbeatInterval, cfg.StalenessTimeout, m.heartbeat, m.forceClose, m.LastDataAt)
	return m
}

// UseMetrics installs an instrumentation sink. Must be called before
// Connect.
func (m *Manager) UseMetrics(metrics Metrics) {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	m.metrics = metrics
	m.validator = NewValidator(m.cfg.MaxPrice, m.logger, metrics)
}

// OnConnect registers the stable-connection observer. Single-slot: the
// previous handler is replaced.
func (m *Manager) OnConnect(cb func()) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.onConnect = cb
}

// OnDisconnect registers the disconnect observer. Single-slot.
func (m *Manager) OnDisconnect(cb func()) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.onDisconnect = cb
}

// OnError registers the error observer. Single-slot. Only transport-level
// failures and reconnect exhaustion are surfaced here; validation
// failures never are.
func (m *Manager) OnError(cb func(error)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.onError = cb
}

// Connect opens the transport. It is a no-op when already connecting or
// connected. A manual connect clears manualDisconnect and lastError and
// resets the reconnection budget.
func (m *Manager) Connect(ctx context.Context) error {
	m.sched.cancel()
	m.sched.reset()
	m.mu.Lock()
	m.manualDisconnect = false
	m.mu.Unlock()
	return m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	// manualDisconnect refuses scheduler-driven dials that fired before
	// (or raced with) a caller's Disconnect
	if m.manualDisconnect || m.state == StateConnecting || m.state.IsConnected() {
		m.mu.Unlock()
		return nil
	}
	m.lastError = nil
	m.generation++
	gen := m.generation
	m.dialCtx = ctx
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	err := m.transport.Dial(ctx, TransportHandlers{
		OnFrame: func(f Frame) { m.handleFrame(gen, f) },
		OnClose: func(closeErr error) { m.handleClose(gen, closeErr) },
	})
	if err != nil {
		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			return err
		}
		m.lastError = err
		m.setStateLocked(StateErrored)
		m.mu.Unlock()

		m.logger.Warn("transport open failed", zap.Error(err))
		m.notifyError(err)
		m.sched.arm()
		m.metrics.ReconnectScheduled()
		return err
	}

	m.handleOpen(gen)
	return nil
}

// handleOpen runs when the transport reports open: the connection is
// live but not yet trusted. Resubscription waits for stabilization.
func (m *Manager) handleOpen(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	m.lastConnectedAt = now
	m.lastDataAt = now
	m.setStateLocked(StateConnectedUnstable)
	m.stabilize = time.AfterFunc(m.cfg.StabilizationDelay, func() { m.handleStable(gen) })
	m.mu.Unlock()

	m.logger.Info("transport open, waiting for stabilization",
		zap.Duration("stabilization_delay", m.cfg.StabilizationDelay))
}

// handleStable promotes the connection, replays every registry entry and
// starts the watchdog.
func (m *Manager) handleStable(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.state != StateConnectedUnstable {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateConnectedStable)
	// under the lock: a racing close must observe the running watchdog
	m.dog.start()
	m.mu.Unlock()

	m.sched.reset()

	entries := m.registry.Snapshot()
	m.logger.Info("connection stable, replaying subscriptions",
		zap.Int("subscriptions", len(entries)))
	for _, e := range entries {
		m.emitSubscribe(e.Key)
	}

	m.notifyConnect()
}

func (m *Manager) handleClose(gen uint64, closeErr error) {
	m.mu.Lock()
	if m.generation != gen {
		// a superseded connection; the current one is unaffected
		m.mu.Unlock()
		return
	}
	m.generation++
	wasStable := m.state == StateConnectedStable
	manual := m.manualDisconnect
	m.cancelTimersLocked()

	if closeErr != nil {
		m.lastError = &DroppedError{Channel: m.spec.Name, Err: closeErr}
	}
	if manual || wasStable {
		m.setStateLocked(StateDisconnected)
	} else {
		m.setStateLocked(StateErrored)
	}
	m.mu.Unlock()

	if closeErr != nil {
		m.logger.Warn("transport dropped", zap.Error(closeErr))
	} else {
		m.logger.Info("transport closed")
	}

	m.notifyDisconnect()
	if closeErr != nil {
		m.notifyError(&DroppedError{Channel: m.spec.Name, Err: closeErr})
	}

	if !manual {
		m.sched.arm()
		m.metrics.ReconnectScheduled()
	}
}

// Disconnect is the only caller-initiated stop. It synchronously cancels
// every pending timer, closes the transport and suppresses automatic
// reconnection. The subscription registry is left intact so a later
// Connect resumes the same subscriptions. Idempotent.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	// suppress reconnection before the idempotency check: after a drop
	// the state is already Disconnected while a backoff timer is pending
	m.manualDisconnect = true
	m.sched.cancel()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	m.cancelTimersLocked()
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	err := m.transport.Close()

	m.logger.Info("disconnected by caller")
	m.notifyDisconnect()
	return err
}

// cancelTimersLocked stops the stabilization timer and the watchdog.
// Callers must hold m.mu.
func (m *Manager) cancelTimersLocked() {
	if m.stabilize != nil {
		m.stabilize.Stop()
		m.stabilize = nil
	}
	m.dog.halt()
}

// Subscribe upserts a registry entry. When the connection is stable the
// subscribe request is emitted immediately; otherwise it is deferred to
// the next stabilization replay.
func (m *Manager) Subscribe(key string, cb Callback) {
	m.registry.Upsert(key, cb)
	m.metrics.SubscriptionCount(m.registry.Len())

	if m.State() == StateConnectedStable {
		m.emitSubscribe(key)
	}
}

// Unsubscribe removes the registry entry for key. The wire request is
// only sent while stable; it is a no-op if never connected.
func (m *Manager) Unsubscribe(key string) {
	if !m.registry.Remove(key) {
		return
	}
	m.metrics.SubscriptionCount(m.registry.Len())

	if m.State() != StateConnectedStable {
		return
	}
	if m.spec.UnsubscribeFrame == nil {
		return
	}
	event, data, ok := m.spec.UnsubscribeFrame(key)
	if !ok {
		return
	}
	if err := m.transport.Emit(event, data); err != nil {
		m.logger.Warn("unsubscribe request failed", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) emitSubscribe(key string) {
	event, data := m.spec.SubscribeFrame(key)
	if err := m.transport.Emit(event, data); err != nil {
		m.logger.Warn("subscribe request failed", zap.String("key", key), zap.Error(err))
		return
	}
	m.metrics.SubscribeSent()
}

func (m *Manager) handleFrame(gen uint64, frame Frame) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.metrics.FrameReceived()

	switch frame.Event {
	case m.spec.UpdateEvent:
		update, err := m.validator.Validate(frame.Data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			m.metrics.FrameDropped()
			return
		}
		m.touch()
		if len(update) > 0 {
			m.dispatch(update)
		}
	case "pong", "connected", "subscribed", "unsubscribed":
		m.touch()
	case "error":
		m.logger.Warn("upstream error event", zap.ByteString("data", frame.Data))
	default:
		m.logger.Debug("ignoring unknown event", zap.String("event", frame.Event))
	}
}

// dispatch routes a validated update. Keyed channels invoke a callback
// only with the slice addressed to its key; a frame touching only
// unsubscribed keys produces no invocations. Broadcast channels hand the
// whole payload to the single implicit subscription.
func (m *Manager) dispatch(update Update) {
	if m.spec.Broadcast {
		if e, ok := m.registry.Get(BroadcastKey); ok {
			e.Callback(update)
		}
		return
	}

	for _, e := range m.registry.Snapshot() {
		if quote, ok := update[e.Key]; ok {
			e.Callback(Update{e.Key: quote})
		}
	}
}

// heartbeat emits the application-level liveness probe. Failures are
// logged only; staleness detection is what forces a reconnect.
func (m *Manager) heartbeat() {
	if m.State() != StateConnectedStable {
		return
	}
	if err := m.transport.Emit("ping", nil); err != nil {
		m.logger.Warn("heartbeat ping failed", zap.Error(err))
	}
}

// forceClose tears the connection down after prolonged silence. This is
// a failure, not a manual stop: manualDisconnect stays false so the
// scheduler engages through the resulting close event.
func (m *Manager) forceClose(silence time.Duration) {
	m.mu.Lock()
	if m.state != StateConnectedStable {
		m.mu.Unlock()
		return
	}
	m.lastError = &StalenessError{Channel: m.spec.Name, Silence: silence}
	m.mu.Unlock()

	m.logger.Warn("connection stale, forcing reconnect", zap.Duration("silence", silence))
	if err := m.transport.Close(); err != nil {
		m.logger.Warn("failed to close stale transport", zap.Error(err))
	}
}

func (m *Manager) autoReconnect() {
	ctx := m.dialContext()
	if err := m.dial(ctx); err != nil {
		m.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", m.sched.attemptCount()),
			zap.Error(err))
	}
}

func (m *Manager) reportExhausted(attempts int) {
	err := &ExhaustedError{Channel: m.spec.Name, Attempts: attempts}

	m.mu.Lock()
	m.lastError = err
	m.setStateLocked(StateErrored)
	m.mu.Unlock()

	m.logger.Error("reconnection budget exhausted, manual connect required",
		zap.Int("attempts", attempts))
	m.notifyError(err)
}

func (m *Manager) dialContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dialCtx != nil {
		return m.dialCtx
	}
	return context.Background()
}

// touch records receipt of a valid payload or ack for the staleness
// watchdog.
func (m *Manager) touch() {
	m.mu.Lock()
	m.lastDataAt = time.Now()
	m.mu.Unlock()
}

// setStateLocked transitions the state machine. Callers must hold m.mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state transition",
		zap.String("from", m.state.String()),
		zap.String("to", s.String()))
	m.state = s
	m.metrics.StateChanged(s)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastDataAt reports when the last valid payload or ack arrived.
func (m *Manager) LastDataAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDataAt
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	stats := Stats{
		Channel:         m.spec.Name,
		State:           m.state.String(),
		LastConnectedAt: m.lastConnectedAt,
		LastDataAt:      m.lastDataAt,
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	m.mu.Unlock()

	stats.ReconnectAttempts = m.sched.attemptCount()
	stats.PendingReconnect = m.sched.isPending()
	stats.Subscriptions = m.registry.Len()
	return stats
}

func (m *Manager) notifyConnect() {
	m.obsMu.RLock()
	cb := m.onConnect
	m.obsMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (m *Manager) notifyDisconnect() {
	m.obsMu.RLock()
	cb := m.onDisconnect
	m.obsMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (m *Manager) notifyError(err error) {
	m.obsMu.RLock()
	cb := m.onError
	m.obsMu.RUnlock()
	if cb != nil {
		cb(err)
	}
}
