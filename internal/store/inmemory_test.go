package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mitralabs/mitra/internal/session"
)

func TestInMemorySaveAndLoadSession(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now().UTC()
	sess := &session.VoiceSession{
		ID:          "sess-1",
		UserID:      "u1",
		State:       session.StateEnded,
		ConnectedAt: &now,
		Transcript: []session.TranscriptEntry{
			{Role: session.RoleUser, Text: "hello", Timestamp: now},
		},
	}

	if err := s.SaveSession(context.Background(), sess); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	// Mutating the saved value must not leak into the store.
	sess.Transcript[0].Text = "mutated"

	got, err := s.LoadSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if got.Transcript[0].Text != "hello" {
		t.Fatalf("stored transcript mutated: %+v", got.Transcript)
	}
	if got.State != session.StateEnded || got.UserID != "u1" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := s.LoadSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryProfiles(t *testing.T) {
	s := NewInMemoryStore()
	s.PutProfile(&Profile{
		UserID:         "u1",
		DisplayName:    "Asha",
		PreferredVoice: "Kore",
		CompanionName:  "Sakhi",
	})

	got, err := s.GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if got.DisplayName != "Asha" || got.PreferredVoice != "Kore" || got.CompanionName != "Sakhi" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	if _, err := s.GetProfile(context.Background(), "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetProfile(u2) error = %v, want ErrNotFound", err)
	}
}

func TestNewPicksInMemoryWithoutURL(t *testing.T) {
	st, err := New(context.Background(), "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer st.Close()
	if _, ok := st.(*InMemoryStore); !ok {
		t.Fatalf("New(\"\") type = %T, want *InMemoryStore", st)
	}
}
