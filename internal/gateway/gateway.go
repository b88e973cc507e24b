package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pointroom/pointroom/internal/room"
	"github.com/pointroom/pointroom/internal/storage"
)

// Config holds gateway transport settings.
type Config struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	RateLimit      int // messages per second per connection
	EvictTTL       time.Duration
	CheckOrigin    func(r *http.Request) bool
}

// DefaultConfig returns the production transport settings.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		RateLimit:      20,
		EvictTTL:       5 * time.Minute,
		CheckOrigin:    func(*http.Request) bool { return true },
	}
}

// Gateway owns the socket side of the protocol: upgrades, per-connection
// sessions, rate limiting, message dispatch into room actors, and the
// debounced full-state fan-out back to every socket in a room.
type Gateway struct {
	registry *room.Registry
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	clock    clockwork.Clock
	cfg      Config
	mirror   *Mirror // optional; nil disables

	mu    sync.RWMutex
	rooms map[string]map[*Connection]bool
}

// New creates a gateway over the given store. mirror may be nil.
func New(store storage.Store, clock clockwork.Clock, cfg Config, opts room.Options, mirror *Mirror) *Gateway {
	gw := &Gateway{
		limiter: NewRateLimiter(clock, cfg.RateLimit),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		clock:  clock,
		cfg:    cfg,
		mirror: mirror,
		rooms:  make(map[string]map[*Connection]bool),
	}
	gw.registry = room.NewRegistry(store, clock, gw, opts, cfg.EvictTTL)
	return gw
}

// Run drives the actor registry's hibernation sweep until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	log.Info().Msg("gateway started")
	g.registry.Run(ctx)
	log.Info().Msg("gateway stopped")
}

// HandleRoomSocket upgrades an HTTP request to a room WebSocket.
func (g *Gateway) HandleRoomSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := &Connection{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		conn:        conn,
		send:        make(chan []byte, 64),
		gw:          g,
		ConnectedAt: time.Now(),
	}
	g.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("room_id", roomID).
		Msg("connection established")
}

func (g *Gateway) register(c *Connection) {
	g.mu.Lock()
	if g.rooms[c.RoomID] == nil {
		g.rooms[c.RoomID] = make(map[*Connection]bool)
	}
	g.rooms[c.RoomID][c] = true
	g.mu.Unlock()

	g.registry.Get(c.RoomID).ConnOpened()
}

// disconnect tears down a closed connection: unregister, remove the
// participant from room state, and let the actor cancel per-room timers if
// the room just emptied.
func (g *Gateway) disconnect(c *Connection) {
	g.mu.Lock()
	conns, ok := g.rooms[c.RoomID]
	if !ok || !conns[c] {
		g.mu.Unlock()
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(g.rooms, c.RoomID)
	}
	g.mu.Unlock()

	g.limiter.Forget(c.ID)

	actor := g.registry.Get(c.RoomID)
	if s := c.Session(); s != nil {
		_, err := actor.Apply(context.Background(), s.ParticipantID, room.Action{Type: room.ActionLeave})
		if err != nil && !errors.Is(err, room.ErrNotJoined) {
			log.Error().Err(err).Str("room_id", c.RoomID).Msg("failed to remove participant on close")
		}
	}
	actor.ConnClosed()

	log.Info().
		Str("connection_id", c.ID).
		Str("room_id", c.RoomID).
		Msg("connection closed")
}

// handleMessage processes one inbound frame. Returns false when the
// connection has been fatally closed and the read pump should exit.
func (g *Gateway) handleMessage(c *Connection, frame []byte) bool {
	var msg ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil || msg.Type == "" {
		c.closeWithCode(CloseProtocolError, "malformed message")
		return false
	}

	// Pings answer liveness probes; they bypass the rate limiter so a
	// throttled client is not misdiagnosed as a dead connection.
	if msg.Type == TypePing {
		g.sendPong(c, msg.ID)
		return true
	}

	if !g.limiter.Admit(c.ID) {
		g.sendError(c, CodeRateLimited, "too many messages")
		return true
	}

	// Lazy rehydrate before anything else: the room actor may have been
	// hibernated since the previous message on this socket.
	sess := c.Session()
	if sess == nil {
		if sess = RehydrateSession(c.Attachment()); sess != nil {
			c.setSession(sess)
		}
	}

	if msg.Type == TypeAuth {
		if msg.ParticipantID == "" {
			c.closeWithCode(CloseProtocolError, "auth requires participantId")
			return false
		}
		c.setSession(&Session{ParticipantID: msg.ParticipantID})
		g.sendSnapshot(c)
		return true
	}

	if sess == nil {
		c.closeWithCode(CloseUnauthenticated, "auth required")
		return false
	}

	return g.dispatch(c, sess, msg)
}

func (g *Gateway) dispatch(c *Connection, sess *Session, msg ClientMessage) bool {
	act, err := actionFor(msg)
	if err != nil {
		c.closeWithCode(CloseProtocolError, err.Error())
		return false
	}

	actor := g.registry.Get(c.RoomID)
	_, err = actor.Apply(context.Background(), sess.ParticipantID, act)
	if err != nil {
		code, text := errorCodeFor(err)
		if code == CodeInternal {
			log.Error().Err(err).Str("room_id", c.RoomID).Msg("apply failed")
		}
		g.sendError(c, code, text)
		return true
	}

	if msg.Type == TypeJoin {
		// Attach the session to the socket so it survives actor
		// hibernation.
		if blob, err := sess.Serialize(); err == nil {
			c.setAttachment(blob)
		}
	}
	return true
}

// actionFor maps a wire message onto a room action.
func actionFor(msg ClientMessage) (room.Action, error) {
	switch msg.Type {
	case TypeJoin:
		return room.Action{Type: room.ActionJoin, DisplayName: msg.DisplayName}, nil
	case TypeVote:
		return room.Action{Type: room.ActionVote, Vote: msg.Value}, nil
	case TypeReveal:
		return room.Action{Type: room.ActionReveal}, nil
	case TypeReset:
		return room.Action{Type: room.ActionReset}, nil
	case TypeSetStory:
		return room.Action{Type: room.ActionSetStory, StoryTitle: msg.Title}, nil
	case TypeSetScale:
		return room.Action{Type: room.ActionSetScale, ScaleID: msg.ScaleID}, nil
	case TypeSetAutoReveal:
		return room.Action{Type: room.ActionSetAutoReveal, Enabled: msg.Enabled}, nil
	case TypeStartTimer:
		return room.Action{Type: room.ActionStartTimer, Duration: time.Duration(msg.DurationSec) * time.Second}, nil
	case TypeCancelTimer:
		return room.Action{Type: room.ActionCancelTimer}, nil
	case TypeSetTimerReveal:
		return room.Action{Type: room.ActionSetTimerReveal, Enabled: msg.Enabled}, nil
	default:
		return room.Action{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func errorCodeFor(err error) (ErrorCode, string) {
	switch {
	case errors.Is(err, room.ErrNotJoined):
		return CodeNotJoined, "join the room first"
	case errors.Is(err, room.ErrInvalidVoteForScale):
		return CodeInvalidVote, "vote value not in current scale"
	case errors.Is(err, room.ErrInvalidScale):
		return CodeInvalidScale, "unknown scale"
	case errors.Is(err, room.ErrInvalidDuration):
		return CodeInvalidDuration, "timer duration not allowed"
	default:
		// Anything else is a server-side failure, not the client's fault.
		return CodeInternal, "internal error"
	}
}

// BroadcastState implements room.Sink: one debounced full-state fan-out to
// every socket in the room, plus the optional NATS mirror.
func (g *Gateway) BroadcastState(roomID string, st *room.State) {
	frame, err := encodeUpdate(st)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to encode update")
		return
	}

	g.mu.RLock()
	targets := make([]*Connection, 0, len(g.rooms[roomID]))
	for c := range g.rooms[roomID] {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(frame) {
			log.Warn().Str("connection_id", c.ID).Msg("send buffer full, closing connection")
			c.conn.Close()
		}
	}

	if g.mirror != nil {
		g.mirror.Publish(roomID, frame)
	}

	log.Debug().Str("room_id", roomID).Int("connections", len(targets)).Msg("state broadcast")
}

func (g *Gateway) sendSnapshot(c *Connection) {
	st, err := g.registry.Get(c.RoomID).Snapshot()
	if err != nil {
		log.Error().Err(err).Str("room_id", c.RoomID).Msg("failed to load snapshot")
		return
	}
	if frame, err := encodeUpdate(st); err == nil {
		c.enqueue(frame)
	}
}

func (g *Gateway) sendPong(c *Connection, id uint64) {
	if frame, err := encodePong(id); err == nil {
		c.enqueue(frame)
	}
}

func (g *Gateway) sendError(c *Connection, code ErrorCode, text string) {
	if frame, err := encodeError(code, text); err == nil {
		c.enqueue(frame)
	}
}

// CloseRoomConnections force-closes every socket in a room, e.g. when a
// room is administratively shut down. Clients recover through their
// reconnection policy.
func (g *Gateway) CloseRoomConnections(roomID string) {
	g.mu.RLock()
	targets := make([]*Connection, 0, len(g.rooms[roomID]))
	for c := range g.rooms[roomID] {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		c.conn.Close()
	}
}

// ConnectionCount reports the sockets attached to a room.
func (g *Gateway) ConnectionCount(roomID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[roomID])
}
