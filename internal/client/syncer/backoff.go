package syncer

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the wait before each change feed reconnect attempt.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// JitterFactor spreads each delay by up to +/- this fraction.
	JitterFactor float64
}

// DefaultBackoff starts at one second and caps at thirty.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:      time.Second,
		Max:          30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.3,
	}
}

// Delay returns the wait before retry attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	if b.JitterFactor > 0 {
		//nolint:gosec // jitter only
		delay += delay * b.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(b.Initial)
		}
	}
	return time.Duration(delay)
}
