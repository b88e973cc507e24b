package room

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Sink receives debounced full-state fan-outs for a room. The gateway
// implements this by sending an update frame to every connected socket.
type Sink interface {
	BroadcastState(roomID string, st *State)
}

// BroadcastScheduler coalesces rapid state changes into a single fan-out per
// debounce window. Schedule re-arms the timer, so a burst of mutations costs
// one broadcast, not one per mutation.
type BroadcastScheduler struct {
	roomID string
	delay  time.Duration
	timer  *singleTimer
	fetch  func() (*State, error)
	sink   Sink
}

// NewBroadcastScheduler creates a scheduler that fans out the state returned
// by fetch after each debounce window.
func NewBroadcastScheduler(roomID string, clock clockwork.Clock, delay time.Duration, fetch func() (*State, error), sink Sink) *BroadcastScheduler {
	return &BroadcastScheduler{
		roomID: roomID,
		delay:  delay,
		timer:  newSingleTimer(clock),
		fetch:  fetch,
		sink:   sink,
	}
}

// Schedule arms or re-arms the debounce timer. Only the most recent call's
// delay matters.
func (b *BroadcastScheduler) Schedule() {
	b.timer.Arm(b.delay, b.fire)
}

// Cancel drops any pending fan-out. Called synchronously when the last
// socket in the room disconnects so no work runs against an empty room.
func (b *BroadcastScheduler) Cancel() {
	b.timer.Cancel()
}

// FlushNow cancels any pending timer and fans out immediately.
func (b *BroadcastScheduler) FlushNow() {
	b.timer.Cancel()
	b.fire()
}

func (b *BroadcastScheduler) fire() {
	st, err := b.fetch()
	if err != nil {
		log.Error().Err(err).Str("room_id", b.roomID).Msg("failed to load state for broadcast")
		return
	}
	b.sink.BroadcastState(b.roomID, st)
}
