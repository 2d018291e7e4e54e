package bridge

import (
	"context"
	"log"

	"github.com/mitralabs/mitra/internal/observability"
	"github.com/mitralabs/mitra/internal/session"
	"github.com/mitralabs/mitra/internal/store"
)

// Cleanup finalizes sessions exactly once regardless of which teardown path
// fired first: client disconnect, engine failure, explicit end request or the
// attach-window janitor. Every step is guarded independently so one failure
// cannot skip the rest.
type Cleanup struct {
	registry *session.Registry
	store    store.Store
	metrics  *observability.Metrics
}

func NewCleanup(registry *session.Registry, st store.Store, metrics *observability.Metrics) *Cleanup {
	return &Cleanup{registry: registry, store: st, metrics: metrics}
}

// End tears the session down: terminal state, ended_at, duration, both
// connections closed, record persisted, registry entry removed. Idempotent
// and safe under concurrent invocation; an unknown id is a no-op.
func (c *Cleanup) End(sessionID string, terminal session.State, reason string) *session.VoiceSession {
	rt, ok := c.registry.Runtime(sessionID)
	if !ok {
		return nil
	}

	var finalized *session.VoiceSession
	rt.RunTeardown(func() {
		finalized, _ = c.registry.Finalize(sessionID, terminal)
		rt.CloseConnections()

		if finalized != nil && c.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), store.SaveSessionTimeout)
			if err := c.store.SaveSession(ctx, finalized); err != nil {
				log.Printf("voice session %s: persist on teardown failed: %v", sessionID, err)
			}
			cancel()
		}

		c.registry.Remove(sessionID)

		if c.metrics != nil {
			c.metrics.SessionEvents.WithLabelValues("ended_" + reason).Inc()
			c.metrics.ActiveSessions.Set(float64(c.registry.Count()))
			if finalized != nil && finalized.ConnectedAt != nil && finalized.EndedAt != nil {
				c.metrics.ObserveSessionDuration(finalized.EndedAt.Sub(*finalized.ConnectedAt))
			}
		}
		if finalized != nil {
			log.Printf("voice session %s ended (%s) state=%s duration=%ds",
				sessionID, reason, finalized.State, finalized.TotalDurationSeconds)
		}
	})
	return finalized
}
