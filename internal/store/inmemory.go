package store

import (
	"context"
	"sync"

	"github.com/mitralabs/mitra/internal/session"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.VoiceSession
	profiles map[string]*Profile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*session.VoiceSession),
		profiles: make(map[string]*Profile),
	}
}

func (s *InMemoryStore) SaveSession(_ context.Context, sess *session.VoiceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sess
	c.Transcript = append([]session.TranscriptEntry(nil), sess.Transcript...)
	s.sessions[sess.ID] = &c
	return nil
}

func (s *InMemoryStore) LoadSession(_ context.Context, sessionID string) (*session.VoiceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *sess
	c.Transcript = append([]session.TranscriptEntry(nil), sess.Transcript...)
	return &c, nil
}

func (s *InMemoryStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

// PutProfile seeds a profile; used by dev setups and tests.
func (s *InMemoryStore) PutProfile(p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.profiles[p.UserID] = &c
}

func (s *InMemoryStore) Close() error { return nil }
