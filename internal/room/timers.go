package room

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// singleTimer is a re-armable one-shot timer. Arming while a fire is pending
// replaces the pending fire; only the most recent Arm matters. All room-side
// delayed work (broadcast debounce, auto-reveal delay, round-timer expiry)
// runs through this so it can be driven by a fake clock in tests.
type singleTimer struct {
	clock clockwork.Clock

	mu    sync.Mutex
	timer clockwork.Timer
	stop  chan struct{}
}

func newSingleTimer(clock clockwork.Clock) *singleTimer {
	return &singleTimer{clock: clock}
}

// Arm schedules fn to run after d, cancelling any pending fire first.
func (t *singleTimer) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()

	timer := t.clock.NewTimer(d)
	stop := make(chan struct{})
	t.timer = timer
	t.stop = stop

	go func() {
		select {
		case <-timer.Chan():
			t.mu.Lock()
			if t.timer == timer {
				t.timer = nil
				t.stop = nil
			}
			t.mu.Unlock()
			fn()
		case <-stop:
			stopAndDrainTimer(timer)
		}
	}()
}

// Cancel discards any pending fire. Safe to call when nothing is armed.
func (t *singleTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Pending reports whether a fire is currently scheduled.
func (t *singleTimer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *singleTimer) cancelLocked() {
	if t.timer == nil {
		return
	}
	close(t.stop)
	t.timer = nil
	t.stop = nil
}

// stopAndDrainTimer stops a timer and drains its channel so the goroutine
// waiting on it cannot leak, per the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
