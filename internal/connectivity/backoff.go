package connectivity

import (
	"math"
	"time"
)

// Backoff stretches the probe interval while the remote stays unreachable.
type Backoff struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the wait after the given number of consecutive failed
// probes (1-based), clamped to MaxDelay.
func (b Backoff) NextDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if b.InitialDelay <= 0 {
		b.InitialDelay = time.Second
	}
	if b.BackoffFactor <= 0 {
		b.BackoffFactor = 2
	}

	delay := float64(b.InitialDelay) * math.Pow(b.BackoffFactor, float64(failures-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	d := time.Duration(delay)
	if d <= 0 {
		d = time.Second
	}
	return d
}
