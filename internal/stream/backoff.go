package stream

import (
	"math/rand"
	"time"
)

// Backoff computes reconnection delays: min(Base * 2^attempt, Cap).
// With Jitter enabled the delay is perturbed by up to ±10%.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter bool
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := b.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap {
			delay = b.Cap
			break
		}
	}
	if delay > b.Cap {
		delay = b.Cap
	}

	if b.Jitter {
		jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
		delay += jitter
		if delay < 0 {
			delay = b.Base
		}
	}

	return delay
}
