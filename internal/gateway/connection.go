package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Connection is one WebSocket attached to a room. The attachment slot holds
// serialized session metadata that survives room-actor hibernation; the
// in-memory session pointer is just a cache over it.
type Connection struct {
	ID     string
	RoomID string

	conn *websocket.Conn
	send chan []byte
	gw   *Gateway

	mu         sync.Mutex
	session    *Session
	attachment []byte

	ConnectedAt time.Time
}

// Session returns the resident session, or nil if none.
func (c *Connection) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Connection) setSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// Attachment returns the serialized metadata attached to this socket.
func (c *Connection) Attachment() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachment
}

func (c *Connection) setAttachment(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachment = b
}

// enqueue hands a frame to the write pump without blocking. Reports false
// when the send buffer is full, which the caller treats as a dead client.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeWithCode sends a close control frame with an application close code,
// then tears the socket down. Used for fatal protocol errors.
func (c *Connection) closeWithCode(code int, reason string) {
	deadline := time.Now().Add(c.gw.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write close frame")
	}
	c.conn.Close()
}

// writePump drains the send channel onto the socket and keeps the transport
// alive with periodic pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.gw.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames off the socket and feeds them to the gateway. The
// read limit enforces the inbound payload ceiling; gorilla closes the
// connection when it is exceeded.
func (c *Connection) readPump() {
	defer func() {
		c.gw.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.gw.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.gw.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.gw.cfg.ReadTimeout))
		return nil
	})

	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("unexpected close")
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWithCode(CloseProtocolError, "text frames only")
			return
		}
		if !c.gw.handleMessage(c, frame) {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.gw.cfg.ReadTimeout))
	}
}
