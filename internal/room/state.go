package room

import (
	"encoding/json"
	"time"
)

// MaxStoryTitleLen bounds the story title in runes.
const MaxStoryTitleLen = 200

// Participant is a joined identity holding at most one current vote.
type Participant struct {
	DisplayName string  `json:"display_name"`
	Vote        *string `json:"vote"`
}

// State is the authoritative state of one room. It is mutated only by the
// room's Actor and persisted as a single JSON blob per room.
type State struct {
	Participants    map[string]Participant `json:"participants"`
	VotesRevealed   bool                   `json:"votes_revealed"`
	StoryTitle      string                 `json:"story_title"`
	VotingScale     string                 `json:"voting_scale"`
	AutoReveal      bool                   `json:"auto_reveal"`
	TimerEndTime    *time.Time             `json:"timer_end_time"`
	TimerAutoReveal bool                   `json:"timer_auto_reveal"`
}

// NewState returns the default empty state a room starts with.
func NewState() *State {
	return &State{
		Participants: make(map[string]Participant),
		VotingScale:  DefaultScaleID,
	}
}

// DecodeState unmarshals a persisted room blob. A nil or empty blob yields
// the default empty state: rooms are created lazily on first access.
func DecodeState(blob []byte) (*State, error) {
	if len(blob) == 0 {
		return NewState(), nil
	}
	var st State
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, err
	}
	if st.Participants == nil {
		st.Participants = make(map[string]Participant)
	}
	if st.VotingScale == "" {
		st.VotingScale = DefaultScaleID
	}
	return &st, nil
}

// Encode marshals the state for persistence.
func (s *State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// AllVoted reports whether every participant has a non-nil vote. Empty rooms
// never count as fully voted.
func (s *State) AllVoted() bool {
	if len(s.Participants) == 0 {
		return false
	}
	for _, p := range s.Participants {
		if p.Vote == nil {
			return false
		}
	}
	return true
}

// ClearVotes nulls every participant's vote and un-reveals.
func (s *State) ClearVotes() {
	for id, p := range s.Participants {
		p.Vote = nil
		s.Participants[id] = p
	}
	s.VotesRevealed = false
}

// Clone returns a deep copy safe to hand outside the actor.
func (s *State) Clone() *State {
	cp := *s
	cp.Participants = make(map[string]Participant, len(s.Participants))
	for id, p := range s.Participants {
		if p.Vote != nil {
			v := *p.Vote
			p.Vote = &v
		}
		cp.Participants[id] = p
	}
	if s.TimerEndTime != nil {
		t := *s.TimerEndTime
		cp.TimerEndTime = &t
	}
	return &cp
}
