package gateway

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter throttles inbound messages per connection with a fixed
// one-second window. Limiting is per connection, not per room, so one
// abusive socket cannot starve the other participants.
type RateLimiter struct {
	clock  clockwork.Clock
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*limitWindow
}

type limitWindow struct {
	start time.Time
	count int
}

// NewRateLimiter allows limit messages per one-second window per connection.
func NewRateLimiter(clock clockwork.Clock, limit int) *RateLimiter {
	return &RateLimiter{
		clock:   clock,
		limit:   limit,
		window:  time.Second,
		windows: make(map[string]*limitWindow),
	}
}

// Admit reports whether connID may process another message now. On window
// rollover the counter resets.
func (r *RateLimiter) Admit(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	w, ok := r.windows[connID]
	if !ok || now.Sub(w.start) >= r.window {
		r.windows[connID] = &limitWindow{start: now, count: 1}
		return true
	}
	if w.count >= r.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops the window for a closed connection.
func (r *RateLimiter) Forget(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, connID)
}
