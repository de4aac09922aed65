package pipeline

import "testing"

func TestCanMoveForwardPath(t *testing.T) {
	path := []string{StageApplied, StageScreening, StageInterview, StageBackgroundCheck, StageOffer, StageHired}
	for i := 0; i < len(path)-1; i++ {
		if !CanMove(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}
}

func TestCanMoveSkipsForbidden(t *testing.T) {
	if CanMove(StageApplied, StageInterview) {
		t.Error("skipping a column forward should be rejected")
	}
	if CanMove(StageScreening, StageOffer) {
		t.Error("skipping columns should be rejected")
	}
}

func TestCanMoveBackOneColumn(t *testing.T) {
	if !CanMove(StageInterview, StageScreening) {
		t.Error("pulling a candidate back one column should be allowed")
	}
	if CanMove(StageOffer, StageScreening) {
		t.Error("pulling back more than one column should be rejected")
	}
}

func TestRejectAndWithdrawFromAnywhere(t *testing.T) {
	for _, from := range []string{StageApplied, StageScreening, StageInterview, StageBackgroundCheck, StageOffer} {
		if !CanMove(from, StageRejected) {
			t.Errorf("%s -> REJECTED should be allowed", from)
		}
		if !CanMove(from, StageWithdrawn) {
			t.Errorf("%s -> WITHDRAWN should be allowed", from)
		}
	}
}

func TestTerminalStagesAreFinal(t *testing.T) {
	for _, from := range []string{StageHired, StageRejected, StageWithdrawn} {
		if !IsTerminal(from) {
			t.Errorf("%s should be terminal", from)
		}
		for _, to := range Stages {
			if CanMove(from, to) {
				t.Errorf("move out of terminal %s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestCanMoveRejectsNoopAndUnknown(t *testing.T) {
	if CanMove(StageApplied, StageApplied) {
		t.Error("same-column move should be rejected")
	}
	if CanMove("LIMBO", StageScreening) {
		t.Error("unknown source stage should be rejected")
	}
	if CanMove(StageApplied, "LIMBO") {
		t.Error("unknown target stage should be rejected")
	}
}

func TestIsValidStage(t *testing.T) {
	for _, s := range Stages {
		if !IsValidStage(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	if IsValidStage("NOPE") {
		t.Error("NOPE should be invalid")
	}
}
