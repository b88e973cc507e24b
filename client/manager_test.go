package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointroom/pointroom/internal/gateway"
	"github.com/pointroom/pointroom/internal/room"
	"github.com/pointroom/pointroom/internal/storage"
)

func newServer(t *testing.T) (*gateway.Gateway, string) {
	t.Helper()

	cfg := gateway.DefaultConfig()
	cfg.RateLimit = 100
	opts := room.Options{
		BroadcastDelay:  10 * time.Millisecond,
		AutoRevealDelay: 30 * time.Millisecond,
	}
	gw := gateway.New(storage.NewMemoryStore(), clockwork.NewRealClock(), cfg, opts, nil)

	srv := httptest.NewServer(http.HandlerFunc(gw.HandleRoomSocket))
	t.Cleanup(srv.Close)

	return gw, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newManager(t *testing.T, wsURL, roomID, pid string, updates chan *room.State, states chan State) *Manager {
	t.Helper()

	opts := DefaultOptions()
	opts.URL = wsURL
	opts.RoomID = roomID
	opts.ParticipantID = pid
	opts.DisplayName = "Tester " + pid
	opts.Policy.Base = 20 * time.Millisecond
	opts.Policy.Floor = 10 * time.Millisecond
	opts.Policy.Cap = 100 * time.Millisecond
	opts.FlushPacing = 5 * time.Millisecond
	opts.Handlers = Handlers{
		OnUpdate: func(st *room.State) {
			select {
			case updates <- st:
			default:
			}
		},
		OnStateChange: func(s State) {
			select {
			case states <- s:
			default:
			}
		},
	}

	m := New(opts)
	t.Cleanup(m.Close)
	return m
}

func waitForUpdate(t *testing.T, updates chan *room.State, pred func(*room.State) bool) *room.State {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st := <-updates:
			if pred(st) {
				return st
			}
		case <-deadline:
			t.Fatal("no matching update before deadline")
		}
	}
}

func TestConnectJoinVote(t *testing.T) {
	_, wsURL := newServer(t)

	updates := make(chan *room.State, 16)
	states := make(chan State, 16)
	m := newManager(t, wsURL, "cjv", "p1", updates, states)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateOpen, m.State())

	require.NoError(t, m.Join())
	v := "5"
	require.NoError(t, m.Vote(&v))

	st := waitForUpdate(t, updates, func(st *room.State) bool {
		p, ok := st.Participants["p1"]
		return ok && p.Vote != nil
	})
	assert.Equal(t, "5", *st.Participants["p1"].Vote)
}

func TestQueuedVoteFlushesAfterReconnect(t *testing.T) {
	srvGW, wsURL := newServer(t)

	updates := make(chan *room.State, 16)
	states := make(chan State, 32)
	m := newManager(t, wsURL, "flush", "p1", updates, states)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Join())
	waitForUpdate(t, updates, func(st *room.State) bool {
		_, ok := st.Participants["p1"]
		return ok
	})

	// Kill the connection server-side; the manager must notice and enter
	// Reconnecting.
	srvGW.CloseRoomConnections("flush")
	waitForState(t, states, StateReconnecting)

	// A vote issued while disconnected is queued, then flushed on the next
	// Open, after the automatic rejoin.
	v := "8"
	require.NoError(t, m.Vote(&v))

	st := waitForUpdate(t, updates, func(st *room.State) bool {
		p, ok := st.Participants["p1"]
		return ok && p.Vote != nil
	})
	assert.Equal(t, "8", *st.Participants["p1"].Vote)
	assert.Equal(t, StateOpen, m.State())
}

func waitForState(t *testing.T, states chan State, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %s not reached before deadline", want)
		}
	}
}

func TestReconnectBudgetExhaustedIsTerminal(t *testing.T) {
	// A server that is already gone: every dial fails.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	terminal := make(chan error, 1)
	opts := DefaultOptions()
	opts.URL = wsURL
	opts.RoomID = "gone"
	opts.ParticipantID = "p1"
	opts.Policy.Base = 5 * time.Millisecond
	opts.Policy.Floor = time.Millisecond
	opts.Policy.Cap = 10 * time.Millisecond
	opts.Policy.MaxAttempts = 3
	opts.Handlers = Handlers{
		OnTerminal: func(err error) { terminal <- err },
	}

	m := New(opts)
	require.Error(t, m.Connect(context.Background()))

	select {
	case err := <-terminal:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("terminal callback never fired")
	}
	assert.Equal(t, StateClosed, m.State())

	// Terminal means no silent retrying: sends fail fast.
	v := "5"
	assert.ErrorIs(t, m.Vote(&v), ErrClosed)
}

func TestBudgetResetsOnlyOnOpen(t *testing.T) {
	// A dead server: the dial itself fails before Open is ever reached.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	opts := DefaultOptions()
	opts.URL = deadURL
	opts.RoomID = "budget"
	opts.ParticipantID = "p1"
	opts.Policy.Base = time.Hour // keep the scheduled retry from firing
	opts.Policy.MaxAttempts = 100

	m := New(opts)
	t.Cleanup(m.Close)
	m.mu.Lock()
	m.attempt = 5
	m.mu.Unlock()

	require.Error(t, m.Connect(context.Background()))

	m.mu.Lock()
	got := m.attempt
	m.mu.Unlock()
	assert.Equal(t, 6, got, "a failure before Open must burn an attempt, never reset")

	// Against a live server the counter resets, but only once Open is
	// actually entered.
	_, wsURL := newServer(t)
	updates := make(chan *room.State, 16)
	states := make(chan State, 16)
	m2 := newManager(t, wsURL, "budget", "p1", updates, states)
	m2.mu.Lock()
	m2.attempt = 5
	m2.mu.Unlock()

	require.NoError(t, m2.Connect(context.Background()))
	require.Equal(t, StateOpen, m2.State())

	m2.mu.Lock()
	got = m2.attempt
	m2.mu.Unlock()
	assert.Equal(t, 0, got)
}

func TestCloseIsTerminalAndIdempotent(t *testing.T) {
	_, wsURL := newServer(t)

	updates := make(chan *room.State, 16)
	states := make(chan State, 16)
	m := newManager(t, wsURL, "bye", "p1", updates, states)

	require.NoError(t, m.Connect(context.Background()))
	m.Close()
	m.Close()

	assert.Equal(t, StateClosed, m.State())
	v := "5"
	assert.ErrorIs(t, m.Vote(&v), ErrClosed)
}

func TestNetworkDownForcesOffline(t *testing.T) {
	_, wsURL := newServer(t)

	updates := make(chan *room.State, 16)
	states := make(chan State, 32)
	m := newManager(t, wsURL, "net", "p1", updates, states)

	require.NoError(t, m.Connect(context.Background()))

	m.SetNetworkDown(true)
	waitForState(t, states, StateOffline)

	m.SetNetworkDown(false)
	waitForState(t, states, StateOpen)
}

func TestNetworkEventsCannotResurrectClosedManager(t *testing.T) {
	_, wsURL := newServer(t)

	updates := make(chan *room.State, 16)
	states := make(chan State, 16)
	m := newManager(t, wsURL, "dead", "p1", updates, states)

	require.NoError(t, m.Connect(context.Background()))
	m.Close()
	require.Equal(t, StateClosed, m.State())

	m.SetNetworkDown(true)
	m.SetNetworkDown(false)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateClosed, m.State(), "close is terminal; network events must not redial")
	v := "5"
	assert.ErrorIs(t, m.Vote(&v), ErrClosed)
}
