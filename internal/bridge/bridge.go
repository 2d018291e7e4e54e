package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mitralabs/mitra/internal/engine"
	"github.com/mitralabs/mitra/internal/observability"
	"github.com/mitralabs/mitra/internal/protocol"
	"github.com/mitralabs/mitra/internal/session"
	"github.com/mitralabs/mitra/internal/store"
)

const (
	profileLookupTimeout = 500 * time.Millisecond
	criticalSendTimeout  = 600 * time.Millisecond

	audioMimeType = "audio/pcm;rate=24000"
)

// Loop termination sentinels. Whichever loop returns first decides how the
// session ends; the other loop is cancelled forcefully.
var (
	errClientClosed = errors.New("client connection closed")
	errEngineClosed = errors.New("engine stream closed")
	errEndRequested = errors.New("session end requested")
)

// Bridge runs one session's conversation: it opens the engine stream, pushes
// the greeting, then pumps two concurrent listen-loops (client->engine and
// engine->client) until either side terminates, and funnels every outcome
// through Cleanup exactly once.
type Bridge struct {
	registry *session.Registry
	engine   engine.Engine
	store    store.Store
	cleanup  *Cleanup
	metrics  *observability.Metrics
}

func New(registry *session.Registry, eng engine.Engine, st store.Store, cleanup *Cleanup, metrics *observability.Metrics) *Bridge {
	return &Bridge{
		registry: registry,
		engine:   eng,
		store:    st,
		cleanup:  cleanup,
		metrics:  metrics,
	}
}

// Run drives the session attached to the given inbound/outbound channel pair.
// The caller owns the websocket: it pumps client frames into inbound (closing
// it on disconnect) and drains outbound into the socket after Run returns.
// Ownership of the session must already be verified.
func (b *Bridge) Run(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) error {
	sess, err := b.registry.Get(sessionID)
	if err != nil {
		return err
	}
	rt, ok := b.registry.Runtime(sessionID)
	if !ok {
		return session.ErrNotFound
	}
	if sess.State != session.StateConnecting {
		return fmt.Errorf("session %s is not awaiting attach (state %s)", sessionID, sess.State)
	}

	profile := b.lookupProfile(ctx, sess.UserID)

	stream, err := b.engine.Open(ctx, engine.OpenConfig{
		SessionID:         sess.ID,
		VoiceOption:       sess.VoiceOption,
		Language:          sess.Language,
		ProblemCategory:   sess.ProblemCategory,
		SystemInstruction: SystemInstruction(profile, sess.ProblemCategory),
	})
	if err != nil {
		b.metrics.EngineErrors.WithLabelValues("open").Inc()
		b.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      "engine_connect_failed",
			Detail:    err.Error(),
		})
		b.cleanup.End(sess.ID, session.StateError, "engine_open_failed")
		return err
	}
	rt.SetEngine(stream)

	connectedAt, err := b.registry.MarkConnected(sess.ID)
	if err != nil {
		b.cleanup.End(sess.ID, session.StateError, "connect_failed")
		return err
	}
	b.send(outbound, protocol.Connected{
		Type:      protocol.TypeConnected,
		SessionID: sess.ID,
		Message:   "Voice conversation started",
		Timestamp: connectedAt,
	})
	b.send(outbound, protocol.StateChange{
		Type:      protocol.TypeStateChange,
		SessionID: sess.ID,
		State:     string(session.StateConnected),
		Timestamp: connectedAt,
	})

	// The greeting is fire-and-forget: a failed send degrades the opening of
	// the call but does not bring the bridge down.
	if err := stream.SendText(ctx, Greeting(profile, sess.ProblemCategory)); err != nil {
		log.Printf("voice session %s: initial greeting failed: %v", sess.ID, err)
	} else {
		rt.MarkConversationStarted()
	}

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	errc := make(chan error, 2)
	go func() { errc <- b.clientLoop(loopCtx, sess.ID, rt, stream, inbound, outbound) }()
	go func() { errc <- b.engineLoop(loopCtx, sess.ID, rt, stream, outbound) }()

	trigger := <-errc
	cancelLoops()
	// Forceful cancellation: closing the stream unblocks a Recv in flight
	// rather than waiting it out. Anything skipped here is Cleanup's job.
	_ = stream.Close()
	<-errc

	terminal := session.StateEnded
	reason := "client_disconnect"
	var engErr *engine.Error
	switch {
	case errors.Is(trigger, errEndRequested):
		reason = "end_session"
		b.send(outbound, protocol.SessionEnded{
			Type:      protocol.TypeSessionEnded,
			SessionID: sess.ID,
			Reason:    reason,
			Timestamp: time.Now().UTC(),
		})
	case errors.Is(trigger, errEngineClosed):
		reason = "engine_closed"
		b.send(outbound, protocol.SessionEnded{
			Type:      protocol.TypeSessionEnded,
			SessionID: sess.ID,
			Reason:    reason,
			Timestamp: time.Now().UTC(),
		})
	case errors.Is(trigger, errClientClosed):
		// The client is gone; there is nothing left to notify.
	case errors.As(trigger, &engErr):
		terminal = session.StateError
		reason = "engine_error"
		b.metrics.EngineErrors.WithLabelValues(engErr.Stage).Inc()
		b.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      "engine_error",
			Detail:    engErr.Error(),
		})
	case errors.Is(trigger, context.Canceled), errors.Is(trigger, context.DeadlineExceeded):
		reason = "connection_closed"
	default:
		terminal = session.StateError
		reason = "internal_error"
		b.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      "internal_error",
			Detail:    trigger.Error(),
		})
	}

	b.cleanup.End(sess.ID, terminal, reason)
	if terminal == session.StateError {
		return trigger
	}
	return nil
}

// clientLoop reads inbound client messages and routes them: audio toward the
// engine, liveness pings answered in place, end requests out to the caller.
// Malformed payloads are reported on the socket without ending the session.
func (b *Bridge) clientLoop(ctx context.Context, sessionID string, rt *session.Runtime, stream engine.Stream, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rt.EndRequested():
			return errEndRequested
		case msg, ok := <-inbound:
			if !ok {
				return errClientClosed
			}
			switch m := msg.(type) {
			case protocol.AudioStream:
				data, err := base64.StdEncoding.DecodeString(m.AudioBase64)
				if err != nil {
					b.send(outbound, protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: sessionID,
						Code:      "invalid_audio",
						Detail:    err.Error(),
					})
					continue
				}
				if rt.StartSpeaking() {
					b.transition(sessionID, outbound, session.StateProcessing)
				}
				if err := stream.SendAudio(ctx, data); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return &engine.Error{Stage: "send_audio", Err: err}
				}
			case protocol.EndSession:
				return errEndRequested
			case protocol.Ping:
				b.send(outbound, protocol.Pong{
					Type:      protocol.TypePong,
					SessionID: sessionID,
					TSMs:      m.TSMs,
				})
			default:
				b.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "unsupported_message",
					Detail:    fmt.Sprintf("unexpected message %T", msg),
				})
			}
		}
	}
}

// engineLoop reads engine messages and routes them to the client: audio and
// partial transcripts forwarded live, finalized transcripts appended to the
// session record, usage passed through informationally.
func (b *Bridge) engineLoop(ctx context.Context, sessionID string, rt *session.Runtime, stream engine.Stream, outbound chan<- any) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return errEngineClosed
			}
			var engErr *engine.Error
			if errors.As(err, &engErr) {
				return err
			}
			return &engine.Error{Stage: "stream", Err: err}
		}

		now := time.Now().UTC()
		switch m := msg.(type) {
		case engine.AudioMessage:
			b.transition(sessionID, outbound, session.StateTalking)
			b.send(outbound, protocol.AudioChunk{
				Type:        protocol.TypeAudioChunk,
				SessionID:   sessionID,
				ChunkBase64: base64.StdEncoding.EncodeToString(m.Data),
				MimeType:    audioMimeType,
				Timestamp:   now,
			})
		case engine.TranscriptMessage:
			if m.Final {
				if err := b.registry.AppendTranscript(sessionID, m.Role, m.Text, now); err != nil {
					log.Printf("voice session %s: transcript append failed: %v", sessionID, err)
				}
			}
			b.send(outbound, protocol.Transcript{
				Type:      protocol.TypeTranscript,
				SessionID: sessionID,
				Role:      m.Role,
				Text:      m.Text,
				IsFinal:   m.Final,
				Timestamp: now,
			})
			if m.Final {
				switch m.Role {
				case session.RoleAssistant:
					b.transition(sessionID, outbound, session.StateListening)
				case session.RoleUser:
					rt.StopSpeaking()
					b.transition(sessionID, outbound, session.StateProcessing)
				}
			}
		case engine.UsageMessage:
			b.send(outbound, protocol.Usage{
				Type:        protocol.TypeUsage,
				SessionID:   sessionID,
				TotalTokens: m.TotalTokens,
			})
		}
	}
}

// transition advances the state machine and notifies the client on a real
// change. Same-state and post-terminal attempts stay silent.
func (b *Bridge) transition(sessionID string, outbound chan<- any, next session.State) {
	current, changed, err := b.registry.Transition(sessionID, next)
	if err != nil || !changed {
		return
	}
	b.send(outbound, protocol.StateChange{
		Type:      protocol.TypeStateChange,
		SessionID: sessionID,
		State:     string(current),
		Timestamp: time.Now().UTC(),
	})
}

// send enqueues an outbound event. Terminal and state events get a bounded
// blocking window; everything else is dropped when the queue is saturated so
// a slow client cannot stall the loops.
func (b *Bridge) send(outbound chan<- any, msg any) {
	msgType, _ := protocol.TypeOf(msg)
	critical := false
	switch msgType {
	case protocol.TypeConnected, protocol.TypeStateChange, protocol.TypeErrorEvent, protocol.TypeSessionEnded:
		critical = true
	}

	if critical {
		timer := time.NewTimer(criticalSendTimeout)
		defer timer.Stop()
		select {
		case outbound <- msg:
		case <-timer.C:
			b.metrics.SessionEvents.WithLabelValues("outbound_timeout_critical").Inc()
		}
		return
	}

	select {
	case outbound <- msg:
	default:
		b.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func (b *Bridge) lookupProfile(ctx context.Context, userID string) *store.Profile {
	if b.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, profileLookupTimeout)
	defer cancel()
	profile, err := b.store.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("profile lookup for %s failed: %v", userID, err)
		}
		return nil
	}
	return profile
}
