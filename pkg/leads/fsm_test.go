package leads

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusNew, StatusContacted, true},
		{StatusNew, StatusDisqualified, true},
		{StatusNew, StatusQualified, false},
		{StatusContacted, StatusQualified, true},
		{StatusContacted, StatusWon, false},
		{StatusQualified, StatusProposal, true},
		{StatusQualified, StatusContacted, false},
		{StatusProposal, StatusWon, true},
		{StatusProposal, StatusLost, true},
		{StatusProposal, StatusDisqualified, false},
		{StatusWon, StatusLost, false},
		{StatusLost, StatusNew, false},
		{"BOGUS", StatusContacted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNextEvents(t *testing.T) {
	status := StatusNew
	var err error
	for _, ev := range []Event{EventContact, EventQualify, EventPropose, EventWin} {
		status, err = Next(status, ev)
		if err != nil {
			t.Fatalf("Next(%s): %v", ev, err)
		}
	}
	if status != StatusWon {
		t.Fatalf("expected WON at end of happy path, got %s", status)
	}
}

func TestNextInvalid(t *testing.T) {
	if _, err := Next(StatusNew, EventWin); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := Next(StatusWon, EventContact); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition from terminal, got %v", err)
	}
	if _, err := Next(StatusNew, Event("NOPE")); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition for unknown event, got %v", err)
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []string{StatusWon, StatusLost, StatusDisqualified} {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
		if IsOpen(s) {
			t.Errorf("%s should not be open", s)
		}
	}
	for _, s := range []string{StatusNew, StatusContacted, StatusQualified, StatusProposal} {
		if IsTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
