package client

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

// ActionClass buckets queued mutations for deduplication.
type ActionClass string

const (
	ClassVote           ActionClass = "vote"
	ClassSetStory       ActionClass = "set-story"
	ClassSetScale       ActionClass = "set-scale"
	ClassSetAutoReveal  ActionClass = "set-auto-reveal"
	ClassTimerStart     ActionClass = "timer-start"
	ClassTimerCancel    ActionClass = "timer-cancel"
	ClassTimerReveal    ActionClass = "timer-auto-reveal"
)

// ErrQueueFull is returned when the queue is at depth and rejects the newest
// enqueue. Older entries are never evicted to make room.
var ErrQueueFull = errors.New("offline queue full")

// QueuedAction is one mutation buffered while disconnected.
type QueuedAction struct {
	Payload    []byte
	EnqueuedAt time.Time
	Class      ActionClass
}

// MessageQueue buffers mutating actions issued while disconnected. Only the
// vote class deduplicates (last vote intent wins); other classes may each be
// meaningful and are kept in order. Entries past the staleness threshold are
// purged rather than sent.
type MessageQueue struct {
	clock      clockwork.Clock
	maxDepth   int
	staleAfter time.Duration

	entries []QueuedAction
}

// NewMessageQueue creates an empty queue.
func NewMessageQueue(clock clockwork.Clock, maxDepth int, staleAfter time.Duration) *MessageQueue {
	return &MessageQueue{
		clock:      clock,
		maxDepth:   maxDepth,
		staleAfter: staleAfter,
	}
}

// Enqueue buffers one action. Stale entries are purged first. A queued vote
// replaces any existing queued vote in place.
func (q *MessageQueue) Enqueue(payload []byte, class ActionClass) error {
	q.purgeStale()

	if class == ClassVote {
		for i := range q.entries {
			if q.entries[i].Class == ClassVote {
				q.entries[i] = QueuedAction{
					Payload:    payload,
					EnqueuedAt: q.clock.Now(),
					Class:      class,
				}
				return nil
			}
		}
	}

	if len(q.entries) >= q.maxDepth {
		return ErrQueueFull
	}
	q.entries = append(q.entries, QueuedAction{
		Payload:    payload,
		EnqueuedAt: q.clock.Now(),
		Class:      class,
	})
	return nil
}

// Drain re-purges staleness, returns the surviving entries in order, and
// unconditionally clears the queue. The caller sends them with pacing; a
// failed send is not retried; an imminent disconnect will trigger another
// reconnect-and-flush cycle.
func (q *MessageQueue) Drain() []QueuedAction {
	q.purgeStale()
	out := q.entries
	q.entries = nil
	return out
}

// Len reports the current queue depth.
func (q *MessageQueue) Len() int {
	return len(q.entries)
}

// purgeStale drops entries at or past the staleness threshold.
func (q *MessageQueue) purgeStale() {
	now := q.clock.Now()
	kept := q.entries[:0]
	for _, e := range q.entries {
		if now.Sub(e.EnqueuedAt) < q.staleAfter {
			kept = append(kept, e)
		}
	}
	q.entries = kept
}
