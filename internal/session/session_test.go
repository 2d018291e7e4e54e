package session

import "testing"

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateConnecting, StateConnected, StateListening, StateProcessing, StateTalking} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []State{StateEnded, StateError} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateEnded, true},
		{StateConnecting, StateError, true},
		{StateConnecting, StateListening, false},
		{StateConnecting, StateTalking, false},
		{StateConnected, StateListening, true},
		{StateConnected, StateProcessing, true},
		{StateConnected, StateTalking, true},
		{StateConnected, StateEnded, true},
		{StateListening, StateProcessing, true},
		{StateProcessing, StateTalking, true},
		{StateTalking, StateListening, true},
		{StateTalking, StateConnected, false},
		{StateListening, StateConnecting, false},
		{StateEnded, StateConnected, false},
		{StateEnded, StateError, false},
		{StateError, StateEnded, false},
		// Same-state is legal; callers treat it as a no-op.
		{StateListening, StateListening, true},
		{StateConnecting, StateConnecting, true},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Fatalf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := &VoiceSession{
		ID:         "s1",
		State:      StateListening,
		Transcript: []TranscriptEntry{{Role: RoleUser, Text: "hello"}},
	}
	c := clone(s)
	c.Transcript[0].Text = "mutated"
	c.State = StateEnded

	if s.Transcript[0].Text != "hello" {
		t.Fatalf("clone mutation leaked into original transcript")
	}
	if s.State != StateListening {
		t.Fatalf("clone mutation leaked into original state")
	}
}
