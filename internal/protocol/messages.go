package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> server.
	TypeAudioStream MessageType = "audio_stream"
	TypeEndSession  MessageType = "end_session"
	TypePing        MessageType = "ping"

	// Server -> client.
	TypeConnected    MessageType = "connected"
	TypeAudioChunk   MessageType = "audio_chunk"
	TypeTranscript   MessageType = "transcript"
	TypeStateChange  MessageType = "state_change"
	TypeUsage        MessageType = "usage"
	TypeErrorEvent   MessageType = "error"
	TypeSessionEnded MessageType = "session_ended"
	TypePong         MessageType = "pong"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// AudioStream carries one chunk of caller audio toward the engine.
type AudioStream struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	AudioBase64 string      `json:"audio"`
	TSMs        int64       `json:"ts_ms,omitempty"`
}

// EndSession asks the server to tear the session down.
type EndSession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// Ping is a client liveness probe, answered directly with a Pong.
type Ping struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type Connected struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

type AudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	ChunkBase64 string      `json:"chunk"`
	MimeType    string      `json:"mime_type"`
	Timestamp   time.Time   `json:"timestamp"`
}

type Transcript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
	IsFinal   bool        `json:"is_final"`
	Timestamp time.Time   `json:"timestamp"`
}

type StateChange struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Timestamp time.Time   `json:"timestamp"`
}

type Usage struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TotalTokens int         `json:"total_tokens"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type SessionEnded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

type Pong struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// ParseClientMessage decodes one inbound client frame into its typed variant.
// Unknown kinds surface ErrUnsupportedType so the caller can report a protocol
// error without ending the session.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAudioStream:
		var msg AudioStream
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioBase64 == "" {
			return nil, errors.New("invalid audio_stream: missing audio")
		}
		return msg, nil
	case TypeEndSession:
		var msg EndSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypePing:
		var msg Ping
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the protocol type of an outbound or parsed inbound message.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case AudioStream:
		return m.Type, true
	case EndSession:
		return m.Type, true
	case Ping:
		return m.Type, true
	case Connected:
		return m.Type, true
	case AudioChunk:
		return m.Type, true
	case Transcript:
		return m.Type, true
	case StateChange:
		return m.Type, true
	case Usage:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	case SessionEnded:
		return m.Type, true
	case Pong:
		return m.Type, true
	default:
		return "", false
	}
}
