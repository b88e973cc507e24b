package gateway

import (
	"encoding/json"

	"github.com/pointroom/pointroom/internal/room"
)

// MessageType discriminates wire messages in both directions.
type MessageType string

const (
	// Client to server.
	TypeAuth            MessageType = "auth"
	TypeJoin            MessageType = "join"
	TypeVote            MessageType = "vote"
	TypeReveal          MessageType = "reveal"
	TypeReset           MessageType = "reset"
	TypeSetStory        MessageType = "setStory"
	TypeSetScale        MessageType = "setScale"
	TypeSetAutoReveal   MessageType = "setAutoReveal"
	TypeStartTimer      MessageType = "startTimer"
	TypeCancelTimer     MessageType = "cancelTimer"
	TypeSetTimerReveal  MessageType = "setTimerAutoReveal"
	TypePing            MessageType = "ping"

	// Server to client.
	TypeUpdate MessageType = "update"
	TypePong   MessageType = "pong"
	TypeError  MessageType = "error"
)

// ClientMessage is the inbound envelope. Fields beyond Type are interpreted
// per message type.
type ClientMessage struct {
	Type          MessageType `json:"type"`
	ParticipantID string      `json:"participantId,omitempty"` // auth
	DisplayName   string      `json:"displayName,omitempty"`   // join
	Value         *string     `json:"value,omitempty"`         // vote; null clears
	Title         string      `json:"title,omitempty"`         // setStory
	ScaleID       string      `json:"scaleId,omitempty"`       // setScale
	Enabled       bool        `json:"enabled,omitempty"`       // setAutoReveal, setTimerAutoReveal
	DurationSec   int         `json:"duration,omitempty"`      // startTimer, seconds
	ID            uint64      `json:"id,omitempty"`            // ping
}

// UpdateMessage carries a full room snapshot to every client.
type UpdateMessage struct {
	Type  MessageType `json:"type"`
	State *room.State `json:"state"`
}

// PongMessage echoes the ping id so the client can match round trips.
type PongMessage struct {
	Type MessageType `json:"type"`
	ID   uint64      `json:"id"`
}

// ErrorMessage reports a non-fatal failure to the offending connection only.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
}

// ErrorCode is the machine-readable error taxonomy on the wire.
type ErrorCode string

const (
	CodeNotJoined       ErrorCode = "not_joined"
	CodeInvalidVote     ErrorCode = "invalid_vote"
	CodeInvalidScale    ErrorCode = "invalid_scale"
	CodeInvalidDuration ErrorCode = "invalid_duration"
	CodeRateLimited     ErrorCode = "rate_limited"
	CodeProtocolError   ErrorCode = "protocol_error"
	CodeUnauthenticated ErrorCode = "unauthenticated"
	CodeInternal        ErrorCode = "internal_error"
)

// WebSocket close codes for fatal protocol failures. 4xxx is the
// application-reserved range.
const (
	CloseProtocolError   = 4400
	CloseUnauthenticated = 4401
)

func encodeUpdate(st *room.State) ([]byte, error) {
	return json.Marshal(UpdateMessage{Type: TypeUpdate, State: st})
}

func encodePong(id uint64) ([]byte, error) {
	return json.Marshal(PongMessage{Type: TypePong, ID: id})
}

func encodeError(code ErrorCode, msg string) ([]byte, error) {
	return json.Marshal(ErrorMessage{Type: TypeError, Code: code, Message: msg})
}
