package session

import (
	"io"
	"sync"
)

// Runtime holds the per-session concurrency state that is never persisted:
// the live connection handles, the speaking flag and the single-shot teardown
// guard. Exactly one Runtime exists per session id while the session is in
// the registry; it is created and removed together with the VoiceSession.
type Runtime struct {
	mu                  sync.Mutex
	engine              io.Closer
	clientClose         func()
	attached            bool
	speaking            bool
	conversationStarted bool

	endOnce sync.Once
	reqOnce sync.Once
	endReq  chan struct{}
}

func newRuntime() *Runtime {
	return &Runtime{endReq: make(chan struct{})}
}

// SetEngine records the engine-side stream handle so teardown can close it.
func (r *Runtime) SetEngine(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine = c
}

// SetClientCloser records a function that forcefully closes the client
// connection.
func (r *Runtime) SetClientCloser(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clientClose = fn
}

// TryAttach claims the session's single client slot. Exactly one caller wins;
// losers must not set connection handles or start a bridge. The claim is never
// released: a session whose attach fails afterwards is torn down, not reused.
func (r *Runtime) TryAttach() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached {
		return false
	}
	r.attached = true
	return true
}

// Attached reports whether a client has claimed the session.
func (r *Runtime) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached
}

// StartSpeaking flips the speaking flag on and reports whether this is the
// first audio chunk of a new utterance.
func (r *Runtime) StartSpeaking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.speaking {
		return false
	}
	r.speaking = true
	return true
}

// StopSpeaking clears the speaking flag; called when the current user
// utterance has been finalized.
func (r *Runtime) StopSpeaking() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaking = false
}

func (r *Runtime) Speaking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speaking
}

func (r *Runtime) MarkConversationStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversationStarted = true
}

func (r *Runtime) ConversationStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversationStarted
}

// RequestEnd signals the bridge loops that an explicit end was asked for.
// Safe to call more than once.
func (r *Runtime) RequestEnd() {
	r.reqOnce.Do(func() { close(r.endReq) })
}

// EndRequested is closed once RequestEnd has been called.
func (r *Runtime) EndRequested() <-chan struct{} {
	return r.endReq
}

// RunTeardown executes fn at most once across all teardown paths.
func (r *Runtime) RunTeardown(fn func()) {
	r.endOnce.Do(fn)
}

// CloseConnections closes the engine stream and the client connection,
// each guarded independently so one failure cannot skip the other.
func (r *Runtime) CloseConnections() {
	r.mu.Lock()
	engine := r.engine
	clientClose := r.clientClose
	r.engine = nil
	r.clientClose = nil
	r.mu.Unlock()

	if engine != nil {
		_ = engine.Close()
	}
	if clientClose != nil {
		clientClose()
	}
}
