package app

import (
	"context"
	"fmt"

	"github.com/mitralabs/mitra/internal/auth"
	"github.com/mitralabs/mitra/internal/bridge"
	"github.com/mitralabs/mitra/internal/config"
	"github.com/mitralabs/mitra/internal/engine"
	"github.com/mitralabs/mitra/internal/httpapi"
	"github.com/mitralabs/mitra/internal/observability"
	"github.com/mitralabs/mitra/internal/session"
	"github.com/mitralabs/mitra/internal/store"
)

// BuildResult bundles the wired service and everything the entrypoint (and
// tests) need to run and shut it down.
type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Registry *session.Registry
	Bridge   *bridge.Bridge
	Metrics  *observability.Metrics

	// Cleanup releases external resources (DB pool) on shutdown.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Mode: cfg.EngineMode,
		URL:  cfg.EngineURL,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("engine init failed: %w", err)
	}

	verifier, err := auth.New(cfg.AuthTokens)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("auth init failed: %w", err)
	}

	registry := session.NewRegistry(cfg.AttachWindow)
	cleanup := bridge.NewCleanup(registry, st, metrics)
	registry.SetExpireHook(func(sess *session.VoiceSession) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		cleanup.End(sess.ID, session.StateEnded, "attach_timeout")
	})

	b := bridge.New(registry, eng, st, cleanup, metrics)
	api := httpapi.New(cfg, registry, b, cleanup, verifier, st, metrics)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Registry: registry,
		Bridge:   b,
		Metrics:  metrics,
		Cleanup:  st.Close,
	}, nil
}
