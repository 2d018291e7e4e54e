package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	engineHandshakeTimeout = 4 * time.Second
	engineWriteTimeout     = 3 * time.Second
)

// WebsocketEngine speaks a JSON-framed duplex protocol with a remote
// conversational engine over a websocket.
type WebsocketEngine struct {
	wsURL  string
	dialer websocket.Dialer
}

func NewWebsocketEngine(rawURL string) (*WebsocketEngine, error) {
	wsURL, err := normalizeEngineURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &WebsocketEngine{
		wsURL: wsURL,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: engineHandshakeTimeout,
		},
	}, nil
}

func normalizeEngineURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("engine url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse engine url: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported engine url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

type engineFrame struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	Voice       string `json:"voice,omitempty"`
	Language    string `json:"language,omitempty"`
	Context     string `json:"context,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	AudioBase64 string `json:"audio,omitempty"`
	Role        string `json:"role,omitempty"`
	Text        string `json:"text,omitempty"`
	Final       bool   `json:"final,omitempty"`
	TotalTokens int    `json:"total_tokens,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

func (e *WebsocketEngine) Open(ctx context.Context, cfg OpenConfig) (Stream, error) {
	conn, resp, err := e.dialer.DialContext(ctx, e.wsURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, &Error{Stage: "open", Err: err}
	}

	s := &wsStream{conn: conn}
	setup := engineFrame{
		Type:        "setup",
		SessionID:   cfg.SessionID,
		Voice:       cfg.VoiceOption,
		Language:    cfg.Language,
		Context:     cfg.ProblemCategory,
		Instruction: cfg.SystemInstruction,
	}
	if err := s.writeFrame(setup); err != nil {
		_ = conn.Close()
		return nil, &Error{Stage: "open", Err: err}
	}
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (s *wsStream) Recv() (Message, error) {
	for {
		var frame engineFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, &Error{Stage: "stream", Err: err}
		}

		switch frame.Type {
		case "audio":
			data, err := base64.StdEncoding.DecodeString(frame.AudioBase64)
			if err != nil {
				return nil, &Error{Stage: "stream", Err: fmt.Errorf("decode audio frame: %w", err)}
			}
			return AudioMessage{Data: data}, nil
		case "transcript":
			return TranscriptMessage{Role: frame.Role, Text: frame.Text, Final: frame.Final}, nil
		case "usage":
			return UsageMessage{TotalTokens: frame.TotalTokens}, nil
		case "error":
			return nil, &Error{Stage: "stream", Err: fmt.Errorf("engine reported: %s", frame.Detail)}
		default:
			// Forward-compatible: skip frames this client does not know.
			continue
		}
	}
}

func (s *wsStream) SendAudio(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeFrame(engineFrame{
		Type:        "audio",
		AudioBase64: base64.StdEncoding.EncodeToString(data),
	})
}

func (s *wsStream) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeFrame(engineFrame{Type: "text", Text: text})
}

func (s *wsStream) writeFrame(frame engineFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(engineWriteTimeout))
	return s.conn.WriteJSON(frame)
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
