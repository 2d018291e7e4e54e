package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// OpenConfig selects voice, language and conversational context for a stream.
type OpenConfig struct {
	SessionID         string
	VoiceOption       string
	Language          string
	ProblemCategory   string
	SystemInstruction string
}

// Message is the closed set of items a stream yields.
type Message interface{ isMessage() }

// AudioMessage is a chunk of synthesized assistant speech.
type AudioMessage struct {
	Data []byte
}

// TranscriptMessage is a transcript fragment for either role. Final marks the
// fragment as complete; non-final fragments are live updates only.
type TranscriptMessage struct {
	Role  string
	Text  string
	Final bool
}

// UsageMessage reports token accounting for the conversation so far.
type UsageMessage struct {
	TotalTokens int
}

func (AudioMessage) isMessage()      {}
func (TranscriptMessage) isMessage() {}
func (UsageMessage) isMessage()      {}

// Stream is one live duplex conversation with the engine. Recv returns io.EOF
// when the engine closed the conversation cleanly.
type Stream interface {
	Recv() (Message, error)
	SendAudio(ctx context.Context, data []byte) error
	SendText(ctx context.Context, text string) error
	Close() error
}

// Engine opens duplex conversation streams with the remote engine.
type Engine interface {
	Open(ctx context.Context, cfg OpenConfig) (Stream, error)
}

// Error marks a failure on the engine side of the bridge, either at open or
// mid-stream.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config controls engine construction.
type Config struct {
	Mode string
	URL  string
}

// New builds an engine client for the configured mode. Auto prefers the
// websocket engine when a URL is configured and falls back to the mock.
func New(cfg Config) (Engine, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewWebsocketEngine(cfg.URL)
		}
		return NewMockEngine(), nil
	case "ws":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("engine url is required for ws mode")
		}
		return NewWebsocketEngine(cfg.URL)
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
}
