package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointroom/pointroom/internal/gateway"
	"github.com/pointroom/pointroom/internal/room"
)

// State is the connection lifecycle state machine.
type State string

const (
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
	StateOffline      State = "offline"
)

// ErrClosed is returned by send methods after the manager is torn down or
// the retry budget is exhausted.
var ErrClosed = errors.New("connection manager closed")

// Handlers are the caller's observation points. All are optional.
type Handlers struct {
	OnUpdate      func(st *room.State)
	OnError       func(code, message string)
	OnQuality     func(q Quality)
	OnStateChange func(s State)
	// OnTerminal fires once when the reconnection budget is exhausted.
	// Recovery from this requires a fresh Connect by the user.
	OnTerminal func(err error)
}

// Options configures a Manager.
type Options struct {
	URL           string // e.g. ws://host:8080/ws
	RoomID        string
	ParticipantID string
	DisplayName   string

	Policy            ReconnectPolicy
	HeartbeatInterval time.Duration
	QueueDepth        int
	QueueStaleAfter   time.Duration
	FlushPacing       time.Duration

	Clock    clockwork.Clock
	Dialer   *websocket.Dialer
	Handlers Handlers
}

// DefaultOptions fills in everything but the addressing fields.
func DefaultOptions() Options {
	return Options{
		Policy:            DefaultReconnectPolicy(),
		HeartbeatInterval: 15 * time.Second,
		QueueDepth:        32,
		QueueStaleAfter:   2 * time.Minute,
		FlushPacing:       100 * time.Millisecond,
		Clock:             clockwork.NewRealClock(),
		Dialer:            websocket.DefaultDialer,
	}
}

// Manager owns the client socket lifecycle: connect, authenticate,
// heartbeat, reconnect with backoff, offline queueing, teardown. Mutations
// issued while disconnected land in the MessageQueue and flush on the next
// Open.
type Manager struct {
	opts    Options
	clock   clockwork.Clock
	queue   *MessageQueue
	latency *LatencyMonitor

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	gen        int // connection generation; stale goroutines compare and bail
	attempt    int
	joined     bool
	userClosed bool
	netDown    bool

	reconnectTimer clockwork.Timer
	heartbeatStop  chan struct{}

	writeMu sync.Mutex
}

// New creates a manager. Connect starts it.
func New(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Manager{
		opts:    opts,
		clock:   opts.Clock,
		queue:   NewMessageQueue(opts.Clock, opts.QueueDepth, opts.QueueStaleAfter),
		latency: NewLatencyMonitor(opts.Clock, 10, 3),
		state:   StateConnecting,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Quality returns the current connection quality signal.
func (m *Manager) Quality() Quality {
	return m.latency.Quality()
}

// Connect dials the server. The first attempt is synchronous; failures after
// that are handled by the reconnection policy.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.userClosed = false
	m.mu.Unlock()
	return m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) error {
	m.setState(StateConnecting)

	url := m.opts.URL + "?room=" + m.opts.RoomID
	conn, _, err := m.opts.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		m.handleDisconnect(m.currentGen(), err)
		return err
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.conn = conn
	m.heartbeatStop = make(chan struct{})
	stop := m.heartbeatStop
	m.mu.Unlock()

	m.latency.Reset()

	// Auth is fire-and-forget; the server's first snapshot is the ack.
	auth := gateway.ClientMessage{Type: gateway.TypeAuth, ParticipantID: m.opts.ParticipantID}
	if err := m.writeJSON(conn, auth); err != nil {
		conn.Close()
		m.handleDisconnect(gen, err)
		return err
	}

	// Re-announce on reconnect so room membership is restored before the
	// queued mutations flush.
	m.mu.Lock()
	rejoin := m.joined
	m.mu.Unlock()
	if rejoin {
		join := gateway.ClientMessage{Type: gateway.TypeJoin, DisplayName: m.opts.DisplayName}
		if err := m.writeJSON(conn, join); err != nil {
			conn.Close()
			m.handleDisconnect(gen, err)
			return err
		}
	}

	// The budget resets only once Open is actually reached; a dial that
	// gets this far but fails during auth still burns its attempt.
	m.mu.Lock()
	m.attempt = 0
	m.mu.Unlock()
	m.setState(StateOpen)

	go m.readLoop(conn, gen)
	go m.heartbeat(conn, gen, stop)

	// Immediate out-of-band ping so a quality signal exists within one
	// round trip instead of one heartbeat interval.
	m.sendPing(conn)

	go m.flushQueue(conn, gen)

	return nil
}

// Join announces the participant's display name. Call after Connect. After
// a successful join the manager re-announces automatically on reconnect.
func (m *Manager) Join() error {
	m.mu.Lock()
	m.joined = true
	m.mu.Unlock()
	return m.send(gateway.ClientMessage{Type: gateway.TypeJoin, DisplayName: m.opts.DisplayName}, "")
}

// Vote casts or clears (nil) a vote.
func (m *Manager) Vote(value *string) error {
	return m.send(gateway.ClientMessage{Type: gateway.TypeVote, Value: value}, ClassVote)
}

// Reveal requests a manual reveal.
func (m *Manager) Reveal() error {
	return m.send(gateway.ClientMessage{Type: gateway.TypeReveal}, "")
}

// Reset clears all votes for a new round.
func (m *Manager) Reset() error {
	return m.send(gateway.ClientMessage{Type: gateway.TypeReset}, "")
}

// SetStory updates the story title.
func (m *Manager) SetStory(title string) error {
	return m.send(gateway.ClientMessage{Type: gateway.TypeSetStory, Title: title}, ClassSetStory)
}

// SetScale switches the voting scale.
func (m *Manager) SetScale(scaleID string) error {
	return m.send(gateway.ClientMessage{Type: gateway.TypeSetScale, ScaleID: scaleID}, ClassSetScale)
}

// SetAutoReveal toggles reveal-when-everyone-voted.
func (m *Manager) SetAutoReveal(enabled bool) error {
	return m.send(gateway.ClientMessage{Type: gateway.TypeSetAutoReveal, Enabled: enabled}, ClassSetAutoReveal)
}

// StartTimer starts a voting round timer.
func (m *Manager) StartTimer(d time.Duration) error {
	return m.send(gateway.ClientMessage{Type: gateway.TypeStartTimer, DurationSec: int(d / time.Second)}, ClassTimerStart)
}

// CancelTimer cancels the round timer.
func (m *Manager) CancelTimer() error {
	return m.send(gateway.ClientMessage{Type: gateway.TypeCancelTimer}, ClassTimerCancel)
}

// SetTimerAutoReveal toggles reveal-on-timer-expiry.
func (m *Manager) SetTimerAutoReveal(enabled bool) error {
	return m.send(gateway.ClientMessage{Type: gateway.TypeSetTimerReveal, Enabled: enabled}, ClassTimerReveal)
}

// send writes when Open, otherwise queues mutations for the next flush.
// class "" marks actions that are not queueable and simply fail offline.
func (m *Manager) send(msg gateway.ClientMessage, class ActionClass) error {
	m.mu.Lock()
	state := m.state
	conn := m.conn
	m.mu.Unlock()

	if state == StateOpen && conn != nil {
		if err := m.writeJSON(conn, msg); err != nil {
			// Treated as an imminent disconnect; the reconnect path
			// recovers. No in-place retry.
			log.Debug().Err(err).Msg("send failed on open connection")
			return err
		}
		return nil
	}

	if state == StateClosed {
		return ErrClosed
	}
	if class == "" {
		return errors.New("not connected")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Enqueue(payload, class)
}

func (m *Manager) writeJSON(conn *websocket.Conn, v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(gen, err)
			return
		}

		var head struct {
			Type gateway.MessageType `json:"type"`
		}
		if err := json.Unmarshal(frame, &head); err != nil {
			continue
		}

		switch head.Type {
		case gateway.TypeUpdate:
			var upd gateway.UpdateMessage
			if err := json.Unmarshal(frame, &upd); err == nil && m.opts.Handlers.OnUpdate != nil {
				m.opts.Handlers.OnUpdate(upd.State)
			}
		case gateway.TypePong:
			var pong gateway.PongMessage
			if err := json.Unmarshal(frame, &pong); err == nil {
				m.latency.Pong(pong.ID)
				if m.opts.Handlers.OnQuality != nil {
					m.opts.Handlers.OnQuality(m.latency.Quality())
				}
			}
		case gateway.TypeError:
			var em gateway.ErrorMessage
			if err := json.Unmarshal(frame, &em); err == nil && m.opts.Handlers.OnError != nil {
				m.opts.Handlers.OnError(string(em.Code), em.Message)
			}
		}
	}
}

// heartbeat pings on a fixed interval and force-closes a socket that has
// stopped answering, so reconnection starts now instead of after the
// transport's own timeout.
func (m *Manager) heartbeat(conn *websocket.Conn, gen int, stop chan struct{}) {
	ticker := m.clock.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if m.latency.Stale() {
				log.Warn().Msg("connection stale, forcing close")
				conn.Close()
				return
			}
			if !m.isCurrent(gen) {
				return
			}
			m.sendPing(conn)
		}
	}
}

func (m *Manager) sendPing(conn *websocket.Conn) {
	id := m.latency.NextPing()
	msg := gateway.ClientMessage{Type: gateway.TypePing, ID: id}
	if err := m.writeJSON(conn, msg); err != nil {
		log.Debug().Err(err).Msg("ping send failed")
	}
}

// flushQueue drains the offline queue onto a fresh connection, paced so the
// burst stays under the server's rate limit. Entries whose send fails are
// dropped: the failure means the socket is dying and the next
// reconnect-and-flush cycle takes over.
func (m *Manager) flushQueue(conn *websocket.Conn, gen int) {
	m.mu.Lock()
	entries := m.queue.Drain()
	m.mu.Unlock()

	for i, e := range entries {
		if !m.isCurrent(gen) {
			return
		}
		m.writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, e.Payload)
		m.writeMu.Unlock()
		if err != nil {
			log.Debug().Err(err).Int("remaining", len(entries)-i).Msg("flush aborted")
			return
		}
		if i < len(entries)-1 {
			m.clock.Sleep(m.opts.FlushPacing)
		}
	}
}

// SetNetworkDown reflects an OS-reported network change. Down forces
// Offline regardless of current state; up triggers an immediate reconnect.
// After a user-initiated Close the manager stays Closed; network events
// cannot resurrect it.
func (m *Manager) SetNetworkDown(down bool) {
	m.mu.Lock()
	if m.userClosed {
		m.mu.Unlock()
		return
	}
	m.netDown = down
	conn := m.conn
	m.mu.Unlock()

	if down {
		m.setState(StateOffline)
		if conn != nil {
			conn.Close()
		}
		return
	}
	go m.dial(context.Background())
}

// handleDisconnect routes a dropped connection to the right next state.
func (m *Manager) handleDisconnect(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		// A newer connection already exists; this is a stale goroutine.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	userClosed := m.userClosed
	netDown := m.netDown
	attempt := m.attempt
	m.mu.Unlock()

	switch {
	case userClosed:
		m.setState(StateClosed)
	case netDown:
		m.setState(StateOffline)
	case m.opts.Policy.Exhausted(attempt):
		m.setState(StateClosed)
		log.Error().Err(cause).Int("attempts", attempt).Msg("reconnection budget exhausted")
		if m.opts.Handlers.OnTerminal != nil {
			m.opts.Handlers.OnTerminal(cause)
		}
	default:
		m.scheduleReconnect(attempt)
	}
}

func (m *Manager) scheduleReconnect(attempt int) {
	m.setState(StateReconnecting)
	delay := m.opts.Policy.Delay(attempt)

	m.mu.Lock()
	m.attempt = attempt + 1
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.dial(context.Background())
	})
	m.mu.Unlock()

	log.Debug().Dur("delay", delay).Int("attempt", attempt).Msg("reconnect scheduled")
}

// Close is the user-initiated leave: cancel the heartbeat, then any pending
// reconnect timer, then close the socket normally. Nothing fires after this.
func (m *Manager) Close() {
	m.mu.Lock()
	m.userClosed = true
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving")
		deadline := time.Now().Add(time.Second)
		m.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage, msg, deadline)
		m.writeMu.Unlock()
		conn.Close()
	}
	m.setState(StateClosed)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	if m.opts.Handlers.OnStateChange != nil {
		m.opts.Handlers.OnStateChange(s)
	}
}

func (m *Manager) currentGen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *Manager) isCurrent(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && m.conn != nil
}
