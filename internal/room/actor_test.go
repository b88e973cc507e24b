package room_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointroom/pointroom/internal/room"
	"github.com/pointroom/pointroom/internal/storage"
)

type captureSink struct {
	mu     sync.Mutex
	states []*room.State
}

func (s *captureSink) BroadcastState(_ string, st *room.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *captureSink) last() *room.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return nil
	}
	return s.states[len(s.states)-1]
}

func newTestActor(t *testing.T, clock clockwork.Clock) (*room.Actor, *captureSink, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	sink := &captureSink{}
	a := room.NewActor("test-room", store, clock, sink, room.Options{
		BroadcastDelay:  10 * time.Millisecond,
		AutoRevealDelay: 100 * time.Millisecond,
	})
	return a, sink, store
}

func join(t *testing.T, a *room.Actor, pid, name string) {
	t.Helper()
	_, err := a.Apply(context.Background(), pid, room.Action{Type: room.ActionJoin, DisplayName: name})
	require.NoError(t, err)
}

func vote(t *testing.T, a *room.Actor, pid, value string) *room.State {
	t.Helper()
	st, err := a.Apply(context.Background(), pid, room.Action{Type: room.ActionVote, Vote: &value})
	require.NoError(t, err)
	return st
}

func TestVoteValidValues(t *testing.T) {
	scales := map[string][]string{
		"fibonacci": {"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89", "?", "☕"},
		"tshirt":    {"XS", "S", "M", "L", "XL", "XXL", "?", "☕"},
		"powers":    {"1", "2", "4", "8", "16", "32", "64", "?", "☕"},
	}

	for scaleID, values := range scales {
		t.Run(scaleID, func(t *testing.T) {
			a, _, _ := newTestActor(t, clockwork.NewFakeClock())
			join(t, a, "p1", "Alice")
			_, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionSetScale, ScaleID: scaleID})
			require.NoError(t, err)

			for _, v := range values {
				st := vote(t, a, "p1", v)
				require.NotNil(t, st.Participants["p1"].Vote)
				assert.Equal(t, v, *st.Participants["p1"].Vote)
			}
		})
	}
}

func TestVoteInvalidForScaleLeavesStateUnchanged(t *testing.T) {
	a, _, _ := newTestActor(t, clockwork.NewFakeClock())
	join(t, a, "p1", "Alice")
	vote(t, a, "p1", "5")

	before, err := a.Snapshot()
	require.NoError(t, err)

	bad := "XL" // t-shirt size on the fibonacci scale
	_, err = a.Apply(context.Background(), "p1", room.Action{Type: room.ActionVote, Vote: &bad})
	require.ErrorIs(t, err, room.ErrInvalidVoteForScale)

	after, err := a.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestNilVoteClearsVote(t *testing.T) {
	a, _, _ := newTestActor(t, clockwork.NewFakeClock())
	join(t, a, "p1", "Alice")
	vote(t, a, "p1", "8")

	st, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionVote, Vote: nil})
	require.NoError(t, err)
	assert.Nil(t, st.Participants["p1"].Vote)
}

func TestSetScaleClearsVotesAndUnreveals(t *testing.T) {
	a, _, _ := newTestActor(t, clockwork.NewFakeClock())
	join(t, a, "p1", "Alice")
	join(t, a, "p2", "Bob")
	vote(t, a, "p1", "5")
	vote(t, a, "p2", "8")
	_, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionReveal})
	require.NoError(t, err)

	st, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionSetScale, ScaleID: "tshirt"})
	require.NoError(t, err)

	assert.Equal(t, "tshirt", st.VotingScale)
	assert.False(t, st.VotesRevealed)
	for pid, p := range st.Participants {
		assert.Nil(t, p.Vote, "participant %s should have no vote", pid)
	}
}

func TestSetScaleUnknownID(t *testing.T) {
	a, _, _ := newTestActor(t, clockwork.NewFakeClock())
	join(t, a, "p1", "Alice")

	_, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionSetScale, ScaleID: "hexadecimal"})
	require.ErrorIs(t, err, room.ErrInvalidScale)
}

func TestOperationsRequireJoin(t *testing.T) {
	v := "5"
	actions := []room.Action{
		{Type: room.ActionVote, Vote: &v},
		{Type: room.ActionReveal},
		{Type: room.ActionReset},
		{Type: room.ActionSetStory, StoryTitle: "story"},
		{Type: room.ActionSetScale, ScaleID: "tshirt"},
		{Type: room.ActionSetAutoReveal, Enabled: true},
		{Type: room.ActionStartTimer, Duration: time.Minute},
		{Type: room.ActionCancelTimer},
		{Type: room.ActionSetTimerReveal, Enabled: true},
	}

	for _, act := range actions {
		t.Run(string(act.Type), func(t *testing.T) {
			a, _, _ := newTestActor(t, clockwork.NewFakeClock())
			join(t, a, "member", "Member")
			before, err := a.Snapshot()
			require.NoError(t, err)

			_, err = a.Apply(context.Background(), "stranger", act)
			require.ErrorIs(t, err, room.ErrNotJoined)

			after, err := a.Snapshot()
			require.NoError(t, err)
			assert.Equal(t, before, after, "failed action must leave state unchanged")
		})
	}
}

func TestStoryTitleTruncated(t *testing.T) {
	a, _, _ := newTestActor(t, clockwork.NewFakeClock())
	join(t, a, "p1", "Alice")

	long := make([]rune, 0, 300)
	for i := 0; i < 300; i++ {
		long = append(long, 'x')
	}
	st, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionSetStory, StoryTitle: string(long)})
	require.NoError(t, err)
	assert.Len(t, []rune(st.StoryTitle), room.MaxStoryTitleLen)
}

func TestTimerDurationWhitelist(t *testing.T) {
	a, _, _ := newTestActor(t, clockwork.NewFakeClock())
	join(t, a, "p1", "Alice")

	_, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionStartTimer, Duration: 42 * time.Second})
	require.ErrorIs(t, err, room.ErrInvalidDuration)

	st, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionStartTimer, Duration: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, st.TimerEndTime)

	st, err = a.Apply(context.Background(), "p1", room.Action{Type: room.ActionCancelTimer})
	require.NoError(t, err)
	assert.Nil(t, st.TimerEndTime)
}

func TestAutoRevealFiresExactlyOnceWithVotesIntact(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _, _ := newTestActor(t, clock)

	join(t, a, "p1", "Alice")
	join(t, a, "p2", "Bob")
	_, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionSetAutoReveal, Enabled: true})
	require.NoError(t, err)

	vote(t, a, "p1", "5")
	st := vote(t, a, "p2", "8")
	assert.False(t, st.VotesRevealed, "reveal must wait out the delay window")

	clock.Advance(200 * time.Millisecond)

	require.Eventually(t, func() bool {
		st, err := a.Snapshot()
		return err == nil && st.VotesRevealed
	}, time.Second, 5*time.Millisecond)

	st, err = a.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, st.Participants["p1"].Vote)
	require.NotNil(t, st.Participants["p2"].Vote)
	assert.Equal(t, "5", *st.Participants["p1"].Vote)
	assert.Equal(t, "8", *st.Participants["p2"].Vote)
}

func TestAutoRevealRecheckNoOpWhenVoteRetracted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _, _ := newTestActor(t, clock)

	join(t, a, "p1", "Alice")
	join(t, a, "p2", "Bob")
	_, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionSetAutoReveal, Enabled: true})
	require.NoError(t, err)

	vote(t, a, "p1", "5")
	vote(t, a, "p2", "8")

	// Retract a vote inside the delay window. The execution-time re-check
	// must observe the retraction and decline to reveal.
	_, err = a.Apply(context.Background(), "p2", room.Action{Type: room.ActionVote, Vote: nil})
	require.NoError(t, err)

	clock.Advance(500 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	st, err := a.Snapshot()
	require.NoError(t, err)
	assert.False(t, st.VotesRevealed)
}

func TestManualRevealCancelsPendingAutoReveal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _, _ := newTestActor(t, clock)

	join(t, a, "p1", "Alice")
	_, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionSetAutoReveal, Enabled: true})
	require.NoError(t, err)
	vote(t, a, "p1", "3")

	_, err = a.Apply(context.Background(), "p1", room.Action{Type: room.ActionReveal})
	require.NoError(t, err)
	_, err = a.Apply(context.Background(), "p1", room.Action{Type: room.ActionReset})
	require.NoError(t, err)

	clock.Advance(time.Second)
	time.Sleep(50 * time.Millisecond)

	st, err := a.Snapshot()
	require.NoError(t, err)
	assert.False(t, st.VotesRevealed, "cancelled auto-reveal must not fire after reset")
	assert.Nil(t, st.Participants["p1"].Vote)
}

func TestTimerAutoRevealOnExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _, _ := newTestActor(t, clock)

	join(t, a, "p1", "Alice")
	_, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionSetTimerReveal, Enabled: true})
	require.NoError(t, err)
	_, err = a.Apply(context.Background(), "p1", room.Action{Type: room.ActionStartTimer, Duration: time.Minute})
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Second)

	require.Eventually(t, func() bool {
		st, err := a.Snapshot()
		return err == nil && st.VotesRevealed && st.TimerEndTime == nil
	}, time.Second, 5*time.Millisecond)
}

func TestCancelTimerPreventsExpiryReveal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _, _ := newTestActor(t, clock)

	join(t, a, "p1", "Alice")
	_, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionSetTimerReveal, Enabled: true})
	require.NoError(t, err)
	_, err = a.Apply(context.Background(), "p1", room.Action{Type: room.ActionStartTimer, Duration: time.Minute})
	require.NoError(t, err)
	_, err = a.Apply(context.Background(), "p1", room.Action{Type: room.ActionCancelTimer})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	time.Sleep(50 * time.Millisecond)

	st, err := a.Snapshot()
	require.NoError(t, err)
	assert.False(t, st.VotesRevealed)
}

func TestLeaveRemovesParticipant(t *testing.T) {
	a, _, _ := newTestActor(t, clockwork.NewFakeClock())
	join(t, a, "p1", "Alice")
	join(t, a, "p2", "Bob")
	vote(t, a, "p2", "13")

	st, err := a.Apply(context.Background(), "p1", room.Action{Type: room.ActionLeave})
	require.NoError(t, err)

	_, gone := st.Participants["p1"]
	assert.False(t, gone)
	require.NotNil(t, st.Participants["p2"].Vote)
	assert.Equal(t, "13", *st.Participants["p2"].Vote, "remaining participant's vote must survive")
}

func TestRejoinKeepsExistingVote(t *testing.T) {
	a, _, _ := newTestActor(t, clockwork.NewFakeClock())
	join(t, a, "p1", "Alice")
	vote(t, a, "p1", "21")

	join(t, a, "p1", "Alice Again")

	st, err := a.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "Alice Again", st.Participants["p1"].DisplayName)
	require.NotNil(t, st.Participants["p1"].Vote)
	assert.Equal(t, "21", *st.Participants["p1"].Vote)
}
