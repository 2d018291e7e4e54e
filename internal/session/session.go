package session

import "time"

// State is the position of a voice session in its lifecycle.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateTalking    State = "talking"
	StateEnded      State = "ended"
	StateError      State = "error"
)

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateError
}

// CanTransition reports whether a transition from s to next is legal.
// A transition into the same state is always legal and treated as a no-op
// by callers. Nothing leaves a terminal state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == s {
		return true
	}
	switch s {
	case StateConnecting:
		return next == StateConnected || next.Terminal()
	case StateConnected, StateListening, StateProcessing, StateTalking:
		switch next {
		case StateListening, StateProcessing, StateTalking, StateEnded, StateError:
			return true
		}
	}
	return false
}

// TranscriptEntry is one finalized utterance. Partial fragments are forwarded
// to the client live but never stored here.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// VoiceSession is the persisted-shape record for one conversation.
type VoiceSession struct {
	ID                   string            `json:"session_id"`
	UserID               string            `json:"user_id"`
	ProblemCategory      string            `json:"problem_category,omitempty"`
	State                State             `json:"state"`
	VoiceOption          string            `json:"voice_option"`
	Language             string            `json:"language"`
	CreatedAt            time.Time         `json:"created_at"`
	ConnectedAt          *time.Time        `json:"connected_at,omitempty"`
	EndedAt              *time.Time        `json:"ended_at,omitempty"`
	TotalDurationSeconds int               `json:"total_duration_seconds"`
	Transcript           []TranscriptEntry `json:"transcript"`
}

func clone(s *VoiceSession) *VoiceSession {
	c := *s
	if s.ConnectedAt != nil {
		t := *s.ConnectedAt
		c.ConnectedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	c.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	return &c
}
