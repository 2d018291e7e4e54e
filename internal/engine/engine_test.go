package engine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestNewEngineModes(t *testing.T) {
	eng, err := New(Config{Mode: "mock"})
	if err != nil {
		t.Fatalf("New(mock) error = %v", err)
	}
	if _, ok := eng.(*MockEngine); !ok {
		t.Fatalf("New(mock) type = %T, want *MockEngine", eng)
	}

	eng, err = New(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("New(auto) error = %v", err)
	}
	if _, ok := eng.(*MockEngine); !ok {
		t.Fatalf("New(auto) without URL type = %T, want *MockEngine", eng)
	}

	eng, err = New(Config{Mode: "auto", URL: "ws://engine.local/stream"})
	if err != nil {
		t.Fatalf("New(auto, url) error = %v", err)
	}
	if _, ok := eng.(*WebsocketEngine); !ok {
		t.Fatalf("New(auto) with URL type = %T, want *WebsocketEngine", eng)
	}

	if _, err := New(Config{Mode: "ws"}); err == nil {
		t.Fatalf("New(ws) without URL should fail")
	}
	if _, err := New(Config{Mode: "teleport"}); err == nil {
		t.Fatalf("New with unknown mode should fail")
	}
}

func TestNormalizeEngineURL(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "ws://host:9000/live", want: "ws://host:9000/live"},
		{in: "wss://host/live", want: "wss://host/live"},
		{in: "http://host/live", want: "ws://host/live"},
		{in: "https://host/live", want: "wss://host/live"},
		{in: "  ws://host/live  ", want: "ws://host/live"},
		{in: "", wantErr: true},
		{in: "ftp://host/live", wantErr: true},
	}
	for _, c := range cases {
		got, err := normalizeEngineURL(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("normalizeEngineURL(%q) should fail", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("normalizeEngineURL(%q) error = %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("normalizeEngineURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMockStreamDeliversInOrder(t *testing.T) {
	eng := NewMockEngine()
	stream, err := eng.Open(context.Background(), OpenConfig{SessionID: "s1", VoiceOption: "Puck"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ms := eng.LastStream()
	if ms.Config.SessionID != "s1" || ms.Config.VoiceOption != "Puck" {
		t.Fatalf("open config not recorded: %+v", ms.Config)
	}

	ms.Push(TranscriptMessage{Role: "user", Text: "hello", Final: true})
	ms.Push(AudioMessage{Data: []byte{1, 2, 3}})

	first, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if tr, ok := first.(TranscriptMessage); !ok || tr.Text != "hello" {
		t.Fatalf("first message = %#v", first)
	}
	second, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if au, ok := second.(AudioMessage); !ok || len(au.Data) != 3 {
		t.Fatalf("second message = %#v", second)
	}
}

func TestMockStreamCloseYieldsEOF(t *testing.T) {
	eng := NewMockEngine()
	stream, _ := eng.Open(context.Background(), OpenConfig{})
	ms := eng.LastStream()

	ms.Push(UsageMessage{TotalTokens: 5})
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Pushed messages drain before the close is observed.
	msg, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if u, ok := msg.(UsageMessage); !ok || u.TotalTokens != 5 {
		t.Fatalf("message = %#v", msg)
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv after close error = %v, want io.EOF", err)
	}

	if err := stream.SendAudio(context.Background(), []byte{1}); err == nil {
		t.Fatalf("SendAudio after close should fail")
	}
}

func TestMockStreamFailRecv(t *testing.T) {
	eng := NewMockEngine()
	stream, _ := eng.Open(context.Background(), OpenConfig{})
	boom := errors.New("boom")
	eng.LastStream().FailRecv(boom)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("Recv error = %v, want boom", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Recv did not return after FailRecv")
	}
}

func TestMockEngineFailOpen(t *testing.T) {
	eng := NewMockEngine()
	eng.FailOpen(errors.New("refused"))

	_, err := eng.Open(context.Background(), OpenConfig{})
	var engErr *Error
	if !errors.As(err, &engErr) {
		t.Fatalf("Open error = %v, want *Error", err)
	}
	if engErr.Stage != "open" {
		t.Fatalf("error stage = %q, want open", engErr.Stage)
	}
}

func TestEngineErrorUnwrap(t *testing.T) {
	inner := errors.New("dial refused")
	err := &Error{Stage: "open", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("Error should unwrap to the inner error")
	}
	if err.Error() == "" {
		t.Fatalf("Error() should describe the failure")
	}
}

func TestMockStreamRecordsSends(t *testing.T) {
	eng := NewMockEngine()
	stream, _ := eng.Open(context.Background(), OpenConfig{})
	ms := eng.LastStream()

	if err := stream.SendText(context.Background(), "hello there"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if err := stream.SendAudio(context.Background(), []byte{9, 9}); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	if texts := ms.SentTexts(); len(texts) != 1 || texts[0] != "hello there" {
		t.Fatalf("SentTexts() = %v", texts)
	}
	if audio := ms.SentAudio(); len(audio) != 1 || len(audio[0]) != 2 {
		t.Fatalf("SentAudio() = %v", audio)
	}
}
