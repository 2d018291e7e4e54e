package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Options carries the engine configuration chosen at creation time.
type Options struct {
	VoiceOption     string
	Language        string
	ProblemCategory string
}

type entry struct {
	sess *VoiceSession
	rt   *Runtime
}

// Registry is the in-memory source of truth for live sessions. It owns both
// the persisted-shape VoiceSession and its Runtime; the pair is created and
// removed atomically, so a session id either has both or neither.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]*entry
	attachWindow time.Duration
	onExpire     func(*VoiceSession)
}

func NewRegistry(attachWindow time.Duration) *Registry {
	if attachWindow <= 0 {
		attachWindow = 2 * time.Minute
	}
	return &Registry{
		sessions:     make(map[string]*entry),
		attachWindow: attachWindow,
	}
}

// SetExpireHook installs a callback invoked (outside the registry lock) for
// sessions that sat in CONNECTING past the attach window without a client.
func (r *Registry) SetExpireHook(hook func(*VoiceSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Create allocates a fresh session in CONNECTING together with its Runtime.
func (r *Registry) Create(userID string, opts Options) *VoiceSession {
	s := &VoiceSession{
		ID:              uuid.NewString(),
		UserID:          userID,
		ProblemCategory: opts.ProblemCategory,
		State:           StateConnecting,
		VoiceOption:     opts.VoiceOption,
		Language:        opts.Language,
		CreatedAt:       time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = &entry{sess: s, rt: newRuntime()}
	return clone(s)
}

// Get returns a copy of the session record. It never allocates registry state.
func (r *Registry) Get(sessionID string) (*VoiceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.sess), nil
}

// Runtime returns the runtime handles for a live session.
func (r *Registry) Runtime(sessionID string) (*Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return e.rt, true
}

// Remove deletes the registry entry. Removing an absent id is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Count reports how many sessions currently exist in the registry.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ListActiveForUser returns copies of the caller's live sessions.
func (r *Registry) ListActiveForUser(userID string) []*VoiceSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*VoiceSession
	for _, e := range r.sessions {
		if e.sess.UserID == userID {
			out = append(out, clone(e.sess))
		}
	}
	return out
}

// Transition moves the session toward next if the state machine allows it.
// Illegal moves, same-state moves and moves after a terminal state are all
// silently ignored; changed reports whether the state actually moved.
func (r *Registry) Transition(sessionID string, next State) (current State, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return "", false, ErrNotFound
	}
	s := e.sess
	if !s.State.CanTransition(next) || s.State == next {
		return s.State, false, nil
	}
	s.State = next
	return next, true, nil
}

// MarkConnected transitions CONNECTING -> CONNECTED and stamps connected_at.
// The stamp is written at most once; repeated calls return the original time.
func (r *Registry) MarkConnected(sessionID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	s := e.sess
	if s.ConnectedAt != nil {
		return *s.ConnectedAt, nil
	}
	if !s.State.CanTransition(StateConnected) {
		return time.Time{}, errors.New("session is not connectable")
	}
	now := time.Now().UTC()
	s.State = StateConnected
	s.ConnectedAt = &now
	return now, nil
}

// Finalize drives the session into a terminal state, stamping ended_at and
// the derived duration exactly once. When the session is already terminal
// nothing changes and changed is false. The entry stays in the registry so
// the caller can persist the finalized record before Remove.
func (r *Registry) Finalize(sessionID string, terminal State) (*VoiceSession, bool) {
	if !terminal.Terminal() {
		terminal = StateEnded
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	s := e.sess
	if s.State.Terminal() {
		return clone(s), false
	}
	s.State = terminal
	if s.EndedAt == nil {
		now := time.Now().UTC()
		s.EndedAt = &now
		if s.ConnectedAt != nil {
			s.TotalDurationSeconds = int(now.Sub(*s.ConnectedAt).Seconds())
		}
	}
	return clone(s), true
}

// StartJanitor periodically reports sessions stuck in CONNECTING with no
// client attached past the attach window. The expire hook runs outside the
// lock and is expected to route them through the normal teardown path.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireStale()
			}
		}
	}()
}

func (r *Registry) expireStale() {
	now := time.Now().UTC()
	var stale []*VoiceSession

	r.mu.RLock()
	hook := r.onExpire
	for _, e := range r.sessions {
		if e.sess.State != StateConnecting {
			continue
		}
		if e.rt.Attached() {
			continue
		}
		if now.Sub(e.sess.CreatedAt) < r.attachWindow {
			continue
		}
		stale = append(stale, clone(e.sess))
	}
	r.mu.RUnlock()

	if hook == nil {
		return
	}
	for _, s := range stale {
		hook(s)
	}
}
