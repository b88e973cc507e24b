package room

import "errors"

var (
	// ErrNotJoined is returned for operations that require a prior join.
	ErrNotJoined = errors.New("participant has not joined the room")

	// ErrInvalidVoteForScale is returned when a vote value is not in the
	// room's current scale.
	ErrInvalidVoteForScale = errors.New("vote value not valid for current scale")

	// ErrInvalidScale is returned for an unknown scale id.
	ErrInvalidScale = errors.New("unknown voting scale")

	// ErrInvalidDuration is returned when a timer duration is not whitelisted.
	ErrInvalidDuration = errors.New("timer duration not allowed")

	// ErrUnknownAction is returned for an unrecognized action type.
	ErrUnknownAction = errors.New("unknown action type")
)
