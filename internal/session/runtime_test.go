package session

import (
	"sync"
	"testing"
)

type closeCounter struct {
	mu sync.Mutex
	n  int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *closeCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestRuntimeTeardownRunsOnce(t *testing.T) {
	rt := newRuntime()

	var mu sync.Mutex
	runs := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.RunTeardown(func() {
				mu.Lock()
				runs++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if runs != 1 {
		t.Fatalf("teardown ran %d times, want 1", runs)
	}
}

func TestRuntimeCloseConnections(t *testing.T) {
	rt := newRuntime()
	eng := &closeCounter{}
	clientClosed := 0
	rt.SetEngine(eng)
	rt.SetClientCloser(func() { clientClosed++ })

	rt.CloseConnections()
	rt.CloseConnections()

	if eng.count() != 1 {
		t.Fatalf("engine closed %d times, want 1", eng.count())
	}
	if clientClosed != 1 {
		t.Fatalf("client closed %d times, want 1", clientClosed)
	}
}

func TestRuntimeCloseConnectionsWithNothingSet(t *testing.T) {
	rt := newRuntime()
	rt.CloseConnections()
}

func TestRuntimeAttachClaim(t *testing.T) {
	rt := newRuntime()
	if rt.Attached() {
		t.Fatalf("fresh runtime should not be attached")
	}
	if !rt.TryAttach() {
		t.Fatalf("first claim should win")
	}
	if !rt.Attached() {
		t.Fatalf("runtime should be attached after a successful claim")
	}
	if rt.TryAttach() {
		t.Fatalf("second claim should lose")
	}
}

func TestRuntimeAttachClaimSingleWinner(t *testing.T) {
	rt := newRuntime()

	var mu sync.Mutex
	winners := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rt.TryAttach() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("%d claims won, want exactly 1", winners)
	}
}

func TestRuntimeSpeakingFlag(t *testing.T) {
	rt := newRuntime()
	if !rt.StartSpeaking() {
		t.Fatalf("first StartSpeaking should report a new utterance")
	}
	if rt.StartSpeaking() {
		t.Fatalf("repeated StartSpeaking should not report a new utterance")
	}
	rt.StopSpeaking()
	if !rt.StartSpeaking() {
		t.Fatalf("StartSpeaking after StopSpeaking should report a new utterance")
	}
}

func TestRuntimeRequestEnd(t *testing.T) {
	rt := newRuntime()
	select {
	case <-rt.EndRequested():
		t.Fatalf("EndRequested should not fire before RequestEnd")
	default:
	}

	rt.RequestEnd()
	rt.RequestEnd()

	select {
	case <-rt.EndRequested():
	default:
		t.Fatalf("EndRequested should fire after RequestEnd")
	}
}
