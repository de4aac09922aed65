package leads

import "errors"

const (
	StatusNew          = "NEW"
	StatusContacted    = "CONTACTED"
	StatusQualified    = "QUALIFIED"
	StatusProposal     = "PROPOSAL"
	StatusWon          = "WON"
	StatusLost         = "LOST"
	StatusDisqualified = "DISQUALIFIED"
)

var ErrInvalidTransition = errors.New("invalid lead transition")

type Event string

const (
	EventContact    Event = "CONTACT"
	EventQualify    Event = "QUALIFY"
	EventPropose    Event = "PROPOSE"
	EventWin        Event = "WIN"
	EventLose       Event = "LOSE"
	EventDisqualify Event = "DISQUALIFY"
)

func CanTransition(from, to string) bool {
	switch from {
	case StatusNew:
		return to == StatusContacted || to == StatusDisqualified || to == StatusLost
	case StatusContacted:
		return to == StatusQualified || to == StatusDisqualified || to == StatusLost
	case StatusQualified:
		return to == StatusProposal || to == StatusLost || to == StatusDisqualified
	case StatusProposal:
		return to == StatusWon || to == StatusLost
	default:
		return false
	}
}

func Transition(from, to string) (string, error) {
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

func Next(from string, event Event) (string, error) {
	switch event {
	case EventContact:
		return Transition(from, StatusContacted)
	case EventQualify:
		return Transition(from, StatusQualified)
	case EventPropose:
		return Transition(from, StatusProposal)
	case EventWin:
		return Transition(from, StatusWon)
	case EventLose:
		return Transition(from, StatusLost)
	case EventDisqualify:
		return Transition(from, StatusDisqualified)
	default:
		return from, ErrInvalidTransition
	}
}

func IsTerminal(status string) bool {
	switch status {
	case StatusWon, StatusLost, StatusDisqualified:
		return true
	default:
		return false
	}
}

// Open statuses count toward a rep's workload for assignment purposes.
func IsOpen(status string) bool {
	return !IsTerminal(status)
}
