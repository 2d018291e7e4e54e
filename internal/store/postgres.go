package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mitralabs/mitra/internal/session"
)

// PostgresStore persists finalized sessions and user profiles in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS voice_sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			problem_category TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			voice_option TEXT NOT NULL,
			language TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			connected_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			total_duration_seconds INTEGER NOT NULL DEFAULT 0,
			transcript JSONB NOT NULL DEFAULT '[]'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_sessions_user_created ON voice_sessions (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			preferred_voice TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'en',
			companion_name TEXT NOT NULL DEFAULT 'Mitra',
			problem_category TEXT NOT NULL DEFAULT ''
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess *session.VoiceSession) error {
	transcript, err := json.Marshal(sess.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO voice_sessions
			(session_id, user_id, problem_category, state, voice_option, language,
			 created_at, connected_at, ended_at, total_duration_seconds, transcript)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			connected_at = EXCLUDED.connected_at,
			ended_at = EXCLUDED.ended_at,
			total_duration_seconds = EXCLUDED.total_duration_seconds,
			transcript = EXCLUDED.transcript`,
		sess.ID,
		sess.UserID,
		sess.ProblemCategory,
		string(sess.State),
		sess.VoiceOption,
		sess.Language,
		sess.CreatedAt,
		sess.ConnectedAt,
		sess.EndedAt,
		sess.TotalDurationSeconds,
		transcript,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadSession(ctx context.Context, sessionID string) (*session.VoiceSession, error) {
	var (
		sess       session.VoiceSession
		state      string
		transcript []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, user_id, problem_category, state, voice_option, language,
			created_at, connected_at, ended_at, total_duration_seconds, transcript
		 FROM voice_sessions WHERE session_id=$1`,
		sessionID,
	).Scan(
		&sess.ID,
		&sess.UserID,
		&sess.ProblemCategory,
		&state,
		&sess.VoiceOption,
		&sess.Language,
		&sess.CreatedAt,
		&sess.ConnectedAt,
		&sess.EndedAt,
		&sess.TotalDurationSeconds,
		&transcript,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.State = session.State(state)
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &sess.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
	}
	return &sess, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, display_name, preferred_voice, language, companion_name, problem_category
		 FROM user_profiles WHERE user_id=$1`,
		userID,
	).Scan(&p.UserID, &p.DisplayName, &p.PreferredVoice, &p.Language, &p.CompanionName, &p.ProblemCategory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// SaveSessionTimeout bounds persistence during teardown so a slow database
// cannot stall cleanup.
const SaveSessionTimeout = 3 * time.Second
