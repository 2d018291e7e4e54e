package engine

import (
	"context"
	"errors"
	"io"
	"sync"
)

// MockEngine is an in-process engine used when no remote engine is configured
// and throughout the tests. Streams are scriptable: pushed messages come out
// of Recv in order, and everything sent is recorded.
type MockEngine struct {
	mu      sync.Mutex
	openErr error
	streams []*MockStream
}

func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// FailOpen makes subsequent Open calls fail with the given error.
func (e *MockEngine) FailOpen(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

func (e *MockEngine) Open(_ context.Context, cfg OpenConfig) (Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, &Error{Stage: "open", Err: e.openErr}
	}
	s := NewMockStream()
	s.Config = cfg
	e.streams = append(e.streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (e *MockEngine) LastStream() *MockStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.streams) == 0 {
		return nil
	}
	return e.streams[len(e.streams)-1]
}

type MockStream struct {
	Config OpenConfig

	incoming chan Message

	mu        sync.Mutex
	sentAudio [][]byte
	sentTexts []string
	recvErr   error
	closed    bool
	done      chan struct{}
}

func NewMockStream() *MockStream {
	return &MockStream{
		incoming: make(chan Message, 64),
		done:     make(chan struct{}),
	}
}

// Push schedules a message for delivery through Recv.
func (s *MockStream) Push(m Message) {
	s.incoming <- m
}

// FailRecv makes Recv return err once pushed messages are drained.
func (s *MockStream) FailRecv(err error) {
	s.mu.Lock()
	s.recvErr = err
	s.mu.Unlock()
	s.closeDone()
}

func (s *MockStream) Recv() (Message, error) {
	select {
	case m := <-s.incoming:
		return m, nil
	default:
	}
	select {
	case m := <-s.incoming:
		return m, nil
	case <-s.done:
		s.mu.Lock()
		err := s.recvErr
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
}

func (s *MockStream) SendAudio(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	s.sentAudio = append(s.sentAudio, append([]byte(nil), data...))
	return nil
}

func (s *MockStream) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	s.sentTexts = append(s.sentTexts, text)
	return nil
}

func (s *MockStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeDone()
	return nil
}

// Closed reports whether Close has been called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockStream) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sentAudio))
	copy(out, s.sentAudio)
	return out
}

func (s *MockStream) SentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sentTexts...)
}

func (s *MockStream) closeDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
