package scheduling

import "errors"

// Contract statuses.
const (
	ContractDraft     = "DRAFT"
	ContractActive    = "ACTIVE"
	ContractSuspended = "SUSPENDED"
	ContractEnded     = "ENDED"
)

// Shift statuses.
const (
	ShiftScheduled  = "SCHEDULED"
	ShiftConfirmed  = "CONFIRMED"
	ShiftInProgress = "IN_PROGRESS"
	ShiftCompleted  = "COMPLETED"
	ShiftCancelled  = "CANCELLED"
	ShiftMissed     = "MISSED"
)

var (
	ErrInvalidContractTransition = errors.New("invalid contract transition")
	ErrInvalidShiftTransition    = errors.New("invalid shift transition")
)

func CanTransitionContract(from, to string) bool {
	switch from {
	case ContractDraft:
		return to == ContractActive || to == ContractEnded
	case ContractActive:
		return to == ContractSuspended || to == ContractEnded
	case ContractSuspended:
		return to == ContractActive || to == ContractEnded
	default:
		return false
	}
}

func CanTransitionShift(from, to string) bool {
	switch from {
	case ShiftScheduled:
		return to == ShiftConfirmed || to == ShiftCancelled || to == ShiftMissed
	case ShiftConfirmed:
		return to == ShiftInProgress || to == ShiftCancelled || to == ShiftMissed
	case ShiftInProgress:
		return to == ShiftCompleted || to == ShiftMissed
	default:
		return false
	}
}

func IsTerminalShift(status string) bool {
	switch status {
	case ShiftCompleted, ShiftCancelled, ShiftMissed:
		return true
	default:
		return false
	}
}
