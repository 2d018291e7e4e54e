package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mitralabs/mitra/internal/observability"
	"github.com/mitralabs/mitra/internal/session"
	"github.com/mitralabs/mitra/internal/store"
)

// countingStore wraps the in-memory store to count SaveSession calls.
type countingStore struct {
	*store.InMemoryStore
	mu    sync.Mutex
	saves int
}

func (c *countingStore) SaveSession(ctx context.Context, s *session.VoiceSession) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.InMemoryStore.SaveSession(ctx, s)
}

func (c *countingStore) saveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func TestCleanupEndRunsOnce(t *testing.T) {
	registry := session.NewRegistry(time.Minute)
	st := &countingStore{InMemoryStore: store.NewInMemoryStore()}
	cl := NewCleanup(registry, st, observability.NewMetrics("test"))

	sess := registry.Create("u1", session.Options{})
	if _, err := registry.MarkConnected(sess.ID); err != nil {
		t.Fatalf("MarkConnected() error = %v", err)
	}

	// Competing teardown paths race; exactly one set of side effects runs and
	// the first terminal state wins.
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		terminal := session.StateEnded
		if i%2 == 1 {
			terminal = session.StateError
		}
		wg.Add(1)
		go func(term session.State) {
			defer wg.Done()
			cl.End(sess.ID, term, "race")
		}(terminal)
	}
	wg.Wait()

	if st.saveCount() != 1 {
		t.Fatalf("SaveSession ran %d times, want 1", st.saveCount())
	}
	if _, err := registry.Get(sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session should be removed from the registry")
	}

	saved, err := st.LoadSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if !saved.State.Terminal() {
		t.Fatalf("persisted state = %q, want terminal", saved.State)
	}
	if saved.EndedAt == nil {
		t.Fatalf("ended_at missing on persisted session")
	}
}

func TestCleanupEndUnknownSession(t *testing.T) {
	registry := session.NewRegistry(time.Minute)
	cl := NewCleanup(registry, store.NewInMemoryStore(), observability.NewMetrics("test"))
	if got := cl.End("no-such-id", session.StateEnded, "whatever"); got != nil {
		t.Fatalf("End on unknown id = %+v, want nil", got)
	}
}

func TestCleanupEndClosesConnections(t *testing.T) {
	registry := session.NewRegistry(time.Minute)
	cl := NewCleanup(registry, store.NewInMemoryStore(), observability.NewMetrics("test"))

	sess := registry.Create("u1", session.Options{})
	rt, _ := registry.Runtime(sess.ID)

	engineClosed := 0
	clientClosed := 0
	rt.SetEngine(closerFunc(func() error { engineClosed++; return nil }))
	rt.SetClientCloser(func() { clientClosed++ })

	final := cl.End(sess.ID, session.StateEnded, "end_session")
	if final == nil {
		t.Fatalf("End should return the finalized session")
	}
	if engineClosed != 1 || clientClosed != 1 {
		t.Fatalf("closed engine=%d client=%d, want 1/1", engineClosed, clientClosed)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
