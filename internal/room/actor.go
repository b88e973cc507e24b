package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointroom/pointroom/internal/storage"
)

// Options tunes the per-room timers.
type Options struct {
	// BroadcastDelay is the fan-out debounce window.
	BroadcastDelay time.Duration
	// AutoRevealDelay is the pause between the last vote landing and the
	// auto-reveal firing.
	AutoRevealDelay time.Duration
}

// DefaultOptions returns the production timer settings.
func DefaultOptions() Options {
	return Options{
		BroadcastDelay:  50 * time.Millisecond,
		AutoRevealDelay: 300 * time.Millisecond,
	}
}

// Actor is the single serialized writer of one room's state. Every mutation
// goes through Apply, which runs the transition inside a storage transaction
// and persists before any broadcast is scheduled. The actor holds no state
// cache of its own: evicting it between messages loses nothing, because the
// next Apply re-reads the persisted blob.
type Actor struct {
	roomID string
	store  storage.Store
	clock  clockwork.Clock

	// mu serializes all mutations for this room. Different rooms have
	// independent actors and run concurrently.
	mu sync.Mutex

	broadcast  *BroadcastScheduler
	autoReveal *AutoRevealCoordinator
	roundTimer *singleTimer

	conns     int
	idleSince time.Time
}

// NewActor creates the actor for one room. State is created lazily in
// storage on the first mutation.
func NewActor(roomID string, store storage.Store, clock clockwork.Clock, sink Sink, opts Options) *Actor {
	a := &Actor{
		roomID:     roomID,
		store:      store,
		clock:      clock,
		roundTimer: newSingleTimer(clock),
		idleSince:  clock.Now(),
	}
	a.broadcast = NewBroadcastScheduler(roomID, clock, opts.BroadcastDelay, a.Snapshot, sink)
	a.autoReveal = NewAutoRevealCoordinator(clock, opts.AutoRevealDelay, a.executeAutoReveal)
	return a
}

// RoomID returns the room this actor owns.
func (a *Actor) RoomID() string { return a.roomID }

// Snapshot loads the current persisted state. Callers get a private copy.
func (a *Actor) Snapshot() (*State, error) {
	blob, err := a.store.Load(context.Background(), a.roomID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return DecodeState(blob)
}

// Apply runs one mutation for participantID and returns the resulting state.
// On success the state is already durably persisted and a debounced
// broadcast is scheduled. Failures leave state unchanged.
func (a *Actor) Apply(ctx context.Context, participantID string, act Action) (*State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result *State
	err := a.store.Update(ctx, a.roomID, func(old []byte) ([]byte, bool, error) {
		st, err := DecodeState(old)
		if err != nil {
			return nil, false, fmt.Errorf("failed to decode room %s: %w", a.roomID, err)
		}
		if err := transition(st, participantID, act, a.clock.Now()); err != nil {
			return nil, false, err
		}
		blob, err := st.Encode()
		if err != nil {
			return nil, false, err
		}
		result = st
		return blob, true, nil
	})
	if err != nil {
		return nil, err
	}

	a.afterApply(act, result)
	return result.Clone(), nil
}

// transition applies one action to st in place. It is the whole state
// machine: everything else is persistence and scheduling around it.
func transition(st *State, participantID string, act Action, now time.Time) error {
	requireJoined := func() (Participant, error) {
		p, ok := st.Participants[participantID]
		if !ok {
			return Participant{}, ErrNotJoined
		}
		return p, nil
	}

	switch act.Type {
	case ActionJoin:
		name := strings.TrimSpace(act.DisplayName)
		if name == "" {
			name = "Anonymous"
		}
		p := st.Participants[participantID]
		p.DisplayName = name
		st.Participants[participantID] = p

	case ActionLeave:
		if _, ok := st.Participants[participantID]; !ok {
			return ErrNotJoined
		}
		delete(st.Participants, participantID)

	case ActionVote:
		p, err := requireJoined()
		if err != nil {
			return err
		}
		if act.Vote != nil {
			scale, ok := ScaleByID(st.VotingScale)
			if !ok || !scale.Contains(*act.Vote) {
				return ErrInvalidVoteForScale
			}
		}
		p.Vote = act.Vote
		st.Participants[participantID] = p

	case ActionReveal:
		if _, err := requireJoined(); err != nil {
			return err
		}
		st.VotesRevealed = true

	case ActionReset:
		if _, err := requireJoined(); err != nil {
			return err
		}
		st.ClearVotes()

	case ActionSetStory:
		if _, err := requireJoined(); err != nil {
			return err
		}
		title := act.StoryTitle
		if runes := []rune(title); len(runes) > MaxStoryTitleLen {
			title = string(runes[:MaxStoryTitleLen])
		}
		st.StoryTitle = title

	case ActionSetScale:
		if _, err := requireJoined(); err != nil {
			return err
		}
		if _, ok := ScaleByID(act.ScaleID); !ok {
			return ErrInvalidScale
		}
		st.VotingScale = act.ScaleID
		// Votes are not portable across scales.
		st.ClearVotes()

	case ActionSetAutoReveal:
		if _, err := requireJoined(); err != nil {
			return err
		}
		st.AutoReveal = act.Enabled

	case ActionStartTimer:
		if _, err := requireJoined(); err != nil {
			return err
		}
		if !allowedTimerDuration(act.Duration) {
			return ErrInvalidDuration
		}
		end := now.Add(act.Duration)
		st.TimerEndTime = &end

	case ActionCancelTimer:
		if _, err := requireJoined(); err != nil {
			return err
		}
		st.TimerEndTime = nil

	case ActionSetTimerReveal:
		if _, err := requireJoined(); err != nil {
			return err
		}
		st.TimerAutoReveal = act.Enabled

	default:
		return ErrUnknownAction
	}
	return nil
}

// afterApply runs scheduling side effects for a committed mutation. Called
// with a.mu held.
func (a *Actor) afterApply(act Action, st *State) {
	switch act.Type {
	case ActionVote:
		a.autoReveal.NoteVote(st)
	case ActionReveal, ActionReset, ActionSetScale:
		a.autoReveal.Cancel()
	case ActionStartTimer, ActionSetTimerReveal:
		a.armRoundTimer(st)
	case ActionCancelTimer:
		a.roundTimer.Cancel()
	}
	a.broadcast.Schedule()
}

// executeAutoReveal is the delayed half of the auto-reveal path. The
// predicate observed at schedule time is re-checked here, inside the storage
// transaction, against the current persisted state.
func (a *Actor) executeAutoReveal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revealIf(shouldAutoReveal, false)
}

// executeTimerReveal fires when an armed round timer expires and
// timer-auto-reveal is set. Same re-check discipline as executeAutoReveal.
func (a *Actor) executeTimerReveal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	a.revealIf(func(st *State) bool {
		return st.TimerAutoReveal && !st.VotesRevealed &&
			st.TimerEndTime != nil && !now.Before(*st.TimerEndTime)
	}, true)
}

// revealIf flips votes-revealed inside a transaction when pred still holds
// against the freshly re-read state, and no-ops otherwise. Called with a.mu
// held.
func (a *Actor) revealIf(pred func(*State) bool, clearTimer bool) {
	wrote := false
	err := a.store.Update(context.Background(), a.roomID, func(old []byte) ([]byte, bool, error) {
		st, err := DecodeState(old)
		if err != nil {
			return nil, false, err
		}
		if !pred(st) {
			return nil, false, nil
		}
		st.VotesRevealed = true
		if clearTimer {
			st.TimerEndTime = nil
		}
		blob, err := st.Encode()
		if err != nil {
			return nil, false, err
		}
		wrote = true
		return blob, true, nil
	})
	if err != nil {
		log.Error().Err(err).Str("room_id", a.roomID).Msg("conditional reveal failed")
		return
	}
	if wrote {
		log.Debug().Str("room_id", a.roomID).Msg("votes revealed")
		a.broadcast.Schedule()
	}
}

// armRoundTimer schedules the server-side expiry watch. Only needed when
// timer-auto-reveal is on; otherwise clients compute remaining time locally
// from the absolute end instant and the server stays lazy.
func (a *Actor) armRoundTimer(st *State) {
	if !st.TimerAutoReveal || st.TimerEndTime == nil {
		a.roundTimer.Cancel()
		return
	}
	wait := st.TimerEndTime.Sub(a.clock.Now())
	if wait < 0 {
		wait = 0
	}
	a.roundTimer.Arm(wait, a.executeTimerReveal)
}

// ConnOpened records a socket attaching to this room. A round timer that was
// dropped during hibernation is re-armed from persisted state here.
func (a *Actor) ConnOpened() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conns++

	if st, err := a.Snapshot(); err == nil {
		a.armRoundTimer(st)
	} else {
		log.Error().Err(err).Str("room_id", a.roomID).Msg("failed to load state on connection open")
	}
}

// ConnClosed records a socket detaching. When the last socket goes, all
// pending per-room timers are cancelled synchronously before a final
// flush-to-nobody resolves any in-flight debounce ambiguity.
func (a *Actor) ConnClosed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conns > 0 {
		a.conns--
	}
	if a.conns > 0 {
		return
	}

	a.autoReveal.Cancel()
	a.roundTimer.Cancel()
	a.broadcast.FlushNow()
	a.idleSince = a.clock.Now()
}

// Idle reports whether the actor can be hibernated: no sockets and no
// pending delayed work. d is how long it must have been idle.
func (a *Actor) Idle(d time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conns > 0 || a.autoReveal.Pending() || a.roundTimer.Pending() {
		return false
	}
	return a.clock.Now().Sub(a.idleSince) >= d
}

// Stop cancels every pending timer. Used on eviction and shutdown.
func (a *Actor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autoReveal.Cancel()
	a.roundTimer.Cancel()
	a.broadcast.Cancel()
}
