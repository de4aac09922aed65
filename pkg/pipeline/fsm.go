package pipeline

import "errors"

const (
	StageApplied         = "APPLIED"
	StageScreening       = "SCREENING"
	StageInterview       = "INTERVIEW"
	StageBackgroundCheck = "BACKGROUND_CHECK"
	StageOffer           = "OFFER"
	StageHired           = "HIRED"
	StageRejected        = "REJECTED"
	StageWithdrawn       = "WITHDRAWN"
)

var (
	ErrInvalidMove      = errors.New("invalid stage move")
	ErrRevisionConflict = errors.New("application was moved by someone else")
)

// Stages lists the Kanban columns in board order. Terminal stages render in
// side columns but still belong to the board payload.
var Stages = []string{
	StageApplied,
	StageScreening,
	StageInterview,
	StageBackgroundCheck,
	StageOffer,
	StageHired,
	StageRejected,
	StageWithdrawn,
}

// CanMove validates a Kanban drag. Forward moves go one column at a time;
// REJECTED and WITHDRAWN are reachable from any non-terminal stage, and a
// candidate can be pulled back one column for re-screening.
func CanMove(from, to string) bool {
	if from == to {
		return false
	}
	if IsTerminal(from) {
		return false
	}
	if to == StageRejected || to == StageWithdrawn {
		return true
	}
	fi, ok := stageIndex(from)
	if !ok {
		return false
	}
	ti, ok := stageIndex(to)
	if !ok {
		return false
	}
	return ti == fi+1 || ti == fi-1
}

func IsTerminal(stage string) bool {
	switch stage {
	case StageHired, StageRejected, StageWithdrawn:
		return true
	default:
		return false
	}
}

func IsValidStage(stage string) bool {
	_, ok := stageIndex(stage)
	return ok || stage == StageRejected || stage == StageWithdrawn
}

// stageIndex covers the forward path only; terminal reject/withdraw columns
// have no ordinal.
func stageIndex(stage string) (int, bool) {
	order := []string{StageApplied, StageScreening, StageInterview, StageBackgroundCheck, StageOffer, StageHired}
	for i, s := range order {
		if s == stage {
			return i, true
		}
	}
	return 0, false
}
