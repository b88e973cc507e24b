package client

import (
	"math/rand"
	"time"
)

// ReconnectPolicy computes exponential backoff with symmetric jitter.
// Attempt n (zero-indexed) waits min(Base*2^n, Cap) perturbed by up to
// ±JitterFrac of itself, clamped to [Floor, Cap]. Exponential growth bounds
// server load under correlated mass reconnects; jitter spreads the herd; the
// cap bounds the wait during long outages.
type ReconnectPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	Floor       time.Duration
	JitterFrac  float64
	MaxAttempts int

	// rand returns a value in [0,1); overridable for deterministic tests.
	rand func() float64
}

// DefaultReconnectPolicy returns the production backoff settings.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Base:        time.Second,
		Cap:         30 * time.Second,
		Floor:       250 * time.Millisecond,
		JitterFrac:  0.3,
		MaxAttempts: 10,
	}
}

// Delay returns the wait before retry attempt n (zero-indexed).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	if d > p.Cap {
		d = p.Cap
	}

	rnd := p.rand
	if rnd == nil {
		rnd = rand.Float64
	}
	// Symmetric jitter in [-JitterFrac, +JitterFrac].
	jitter := time.Duration(float64(d) * p.JitterFrac * (2*rnd() - 1))
	d += jitter

	if d < p.Floor {
		d = p.Floor
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}

// Exhausted reports whether attempt n is past the retry budget.
func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
