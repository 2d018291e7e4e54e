package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice session service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// AttachWindow is how long a session may sit in CONNECTING without a
	// client before the janitor ends it.
	AttachWindow    time.Duration
	JanitorInterval time.Duration

	EngineMode string
	EngineURL  string

	DefaultVoice    string
	DefaultLanguage string

	// AuthTokens is a "token:user,token:user" list for the static verifier.
	// Empty means the insecure passthrough verifier (dev only).
	AuthTokens string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "mitra"),
		AllowAnyOrigin:   false,
		EngineMode:       envOrDefault("ENGINE_MODE", "auto"),
		EngineURL:        strings.TrimSpace(os.Getenv("ENGINE_WS_URL")),
		DefaultVoice:     envOrDefault("ENGINE_DEFAULT_VOICE", "Puck"),
		DefaultLanguage:  envOrDefault("ENGINE_DEFAULT_LANGUAGE", "en"),
		AuthTokens:       strings.TrimSpace(os.Getenv("APP_AUTH_TOKENS")),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ShutdownTimeout:  15 * time.Second,
		AttachWindow:     2 * time.Minute,
		JanitorInterval:  15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AttachWindow, err = durationFromEnv("APP_SESSION_ATTACH_WINDOW", cfg.AttachWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("APP_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.AttachWindow < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_ATTACH_WINDOW must be at least 5s")
	}
	if cfg.JanitorInterval <= 0 {
		return Config{}, fmt.Errorf("APP_JANITOR_INTERVAL must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
