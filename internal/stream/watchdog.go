package stream

import (
	"sync"
	"time"
)

// watchdog runs only while a connection is stable. It emits a liveness
// ping on a fixed interval and force-closes the connection when no valid
// data arrived for longer than the staleness threshold. Both timers are
// torn down synchronously on any transition away from stable.
type watchdog struct {
	heartbeatInterval time.Duration
	stalenessTimeout  time.Duration

	ping     func()
	stale    func(silence time.Duration)
	lastData func() time.Time

	mu   sync.Mutex
	stop chan struct{}
}

func newWatchdog(heartbeat, staleness time.Duration, ping func(), stale func(time.Duration), lastData func() time.Time) *watchdog {
	return &watchdog{
		heartbeatInterval: heartbeat,
		stalenessTimeout:  staleness,
		ping:              ping,
		stale:             stale,
		lastData:          lastData,
	}
}

func (w *watchdog) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}
	w.stop = make(chan struct{})
	go w.run(w.stop)
}

func (w *watchdog) run(stop chan struct{}) {
	heartbeat := time.NewTicker(w.heartbeatInterval)
	defer heartbeat.Stop()

	// Staleness is re-evaluated often enough that a silent connection is
	// detected within a fraction of the timeout.
	staleness := time.NewTicker(w.stalenessTimeout / 4)
	defer staleness.Stop()

	for {
		select {
		case <-stop:
			return
		case <-heartbeat.C:
			w.ping()
		case <-staleness.C:
			silence := time.Since(w.lastData())
			if silence > w.stalenessTimeout {
				w.stale(silence)
				return
			}
		}
	}
}

// halt stops the watchdog. Safe to call when not running.
func (w *watchdog) halt() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}
