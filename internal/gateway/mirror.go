package gateway

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Mirror republishes every room update frame to NATS so external consumers
// (dashboards, recorders) can observe rooms without holding a socket. It is
// outbound-only and best-effort: a publish failure never affects the room.
type Mirror struct {
	nc      *nats.Conn
	subject string
}

// NewMirror connects to NATS. subjectPrefix is typically "room.updates".
func NewMirror(url, subjectPrefix string) (*Mirror, error) {
	nc, err := nats.Connect(url, nats.Name("pointroom-gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	log.Info().Str("url", url).Msg("update mirror connected")
	return &Mirror{nc: nc, subject: subjectPrefix}, nil
}

// Publish mirrors one update frame for a room.
func (m *Mirror) Publish(roomID string, frame []byte) {
	if err := m.nc.Publish(m.subject+"."+roomID, frame); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("mirror publish failed")
	}
}

// Close drains and closes the NATS connection.
func (m *Mirror) Close() {
	if err := m.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("mirror drain failed")
	}
}
