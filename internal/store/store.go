package store

import (
	"context"
	"errors"

	"github.com/mitralabs/mitra/internal/session"
)

var ErrNotFound = errors.New("record not found")

// Profile is the slice of a user record the orchestrator cares about: it
// personalizes engine configuration and the initial greeting, nothing else.
type Profile struct {
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name"`
	PreferredVoice  string `json:"preferred_voice"`
	Language        string `json:"language"`
	CompanionName   string `json:"companion_name"`
	ProblemCategory string `json:"problem_category,omitempty"`
}

// Store durably records finalized sessions and serves user profiles.
// SaveSession is only required after teardown finalizes a session.
type Store interface {
	SaveSession(ctx context.Context, s *session.VoiceSession) error
	LoadSession(ctx context.Context, sessionID string) (*session.VoiceSession, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	Close() error
}

// New creates a postgres-backed store when configured, otherwise in-memory.
func New(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
