package gateway

import "encoding/json"

// Session binds a socket to a participant id. It lives in process memory,
// but is also serialized onto the connection's attachment slot at join so it
// can be reconstructed after the hosting room actor has been hibernated: the
// socket outlives the actor, the attachment outlives the in-memory session.
type Session struct {
	ParticipantID string `json:"participantId"`
}

// Serialize encodes the session for attachment to a connection.
func (s *Session) Serialize() ([]byte, error) {
	return json.Marshal(s)
}

// RehydrateSession reconstructs a session from attachment bytes. Returns nil
// when there is nothing attached or the bytes are unusable; the caller then
// treats the socket as unauthenticated.
func RehydrateSession(attachment []byte) *Session {
	if len(attachment) == 0 {
		return nil
	}
	var s Session
	if err := json.Unmarshal(attachment, &s); err != nil || s.ParticipantID == "" {
		return nil
	}
	return &s
}
