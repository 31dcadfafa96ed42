package stream

import (
	"sync"
	"time"
)

// scheduler owns the single pending reconnection timer of a channel. It
// is armed only on non-manual disconnects; once the attempt budget is
// spent it reports a terminal error and stays idle until reset by a
// manual connect or a successful stabilization.
type scheduler struct {
	backoff     Backoff
	maxAttempts int

	connect   func()
	exhausted func(attempts int)

	mu       sync.Mutex
	attempts int
	pending  bool
	timer    *time.Timer
}

func newScheduler(backoff Backoff, maxAttempts int, connect func(), exhausted func(int)) *scheduler {
	return &scheduler{
		backoff:     backoff,
		maxAttempts: maxAttempts,
		connect:     connect,
		exhausted:   exhausted,
	}
}

// arm schedules the next reconnection attempt. A second disconnect while
// one is pending does not spawn a second timer.
func (s *scheduler) arm() {
	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return
	}
	if s.attempts >= s.maxAttempts {
		attempts := s.attempts
		s.mu.Unlock()
		s.exhausted(attempts)
		return
	}
	delay := s.backoff.Delay(s.attempts)
	s.pending = true
	s.timer = time.AfterFunc(delay, s.fire)
	s.mu.Unlock()
}

func (s *scheduler) fire() {
	s.mu.Lock()
	if !s.pending {
		// cancelled between the timer firing and this running
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.attempts++
	s.mu.Unlock()

	s.connect()
}

// cancel synchronously drops any pending attempt.
func (s *scheduler) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = false
}

// reset clears the attempt counter. Called on manual connect and on
// successful stabilization.
func (s *scheduler) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
}

func (s *scheduler) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *scheduler) isPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
