package room

import "time"

// ActionType discriminates room mutations.
type ActionType string

const (
	ActionJoin            ActionType = "join"
	ActionLeave           ActionType = "leave"
	ActionVote            ActionType = "vote"
	ActionReveal          ActionType = "reveal"
	ActionReset           ActionType = "reset"
	ActionSetStory        ActionType = "set_story"
	ActionSetScale        ActionType = "set_scale"
	ActionSetAutoReveal   ActionType = "set_auto_reveal"
	ActionStartTimer      ActionType = "start_timer"
	ActionCancelTimer     ActionType = "cancel_timer"
	ActionSetTimerReveal  ActionType = "set_timer_auto_reveal"
)

// Action is a mutation request applied by the room actor on behalf of a
// participant. Fields beyond Type are interpreted per action.
type Action struct {
	Type        ActionType
	DisplayName string        // join
	Vote        *string       // vote; nil clears the vote
	StoryTitle  string        // set_story
	ScaleID     string        // set_scale
	Enabled     bool          // set_auto_reveal, set_timer_auto_reveal
	Duration    time.Duration // start_timer
}

// TimerDurations is the whitelist of allowed voting-round timer lengths.
var TimerDurations = []time.Duration{
	30 * time.Second,
	time.Minute,
	2 * time.Minute,
	3 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

func allowedTimerDuration(d time.Duration) bool {
	for _, td := range TimerDurations {
		if td == d {
			return true
		}
	}
	return false
}
