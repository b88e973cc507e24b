package room

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// AutoRevealCoordinator flips votes-revealed exactly once when the last
// outstanding participant votes. The decision to schedule is taken against
// freshly persisted state; the reveal itself re-checks the predicate inside
// a storage transaction at execution time and no-ops if it no longer holds,
// so a vote retracted (or a scale changed) during the delay window cannot
// produce a stale reveal.
//
// The short delay exists so the last voter's own state echo lands before the
// reveal broadcast; without it the voter's card visibly flickers.
type AutoRevealCoordinator struct {
	delay   time.Duration
	timer   *singleTimer
	execute func()
}

// NewAutoRevealCoordinator wires the coordinator to the actor's transactional
// reveal path.
func NewAutoRevealCoordinator(clock clockwork.Clock, delay time.Duration, execute func()) *AutoRevealCoordinator {
	return &AutoRevealCoordinator{
		delay:   delay,
		timer:   newSingleTimer(clock),
		execute: execute,
	}
}

// NoteVote inspects just-persisted state after a vote and arms the delayed
// reveal when everyone has voted. Re-arming on racing votes is harmless: the
// execution-time re-check makes the reveal idempotent.
func (c *AutoRevealCoordinator) NoteVote(st *State) {
	if !shouldAutoReveal(st) {
		return
	}
	c.timer.Arm(c.delay, c.execute)
}

// Cancel drops a pending scheduled reveal. Manual reveal, reset and scale
// changes must call this.
func (c *AutoRevealCoordinator) Cancel() {
	c.timer.Cancel()
}

// Pending reports whether a reveal is currently scheduled.
func (c *AutoRevealCoordinator) Pending() bool {
	return c.timer.Pending()
}

func shouldAutoReveal(st *State) bool {
	return st.AutoReveal && !st.VotesRevealed && st.AllVoted()
}
