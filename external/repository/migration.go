package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS trivia_sessions (
		id UUID PRIMARY KEY,
		channel_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_trivia_sessions_active_channel ON trivia_sessions (channel_id) WHERE active`,
	`CREATE TABLE IF NOT EXISTS trivia_question_batches (
		id UUID PRIMARY KEY,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS trivia_round_states (
		session_id UUID PRIMARY KEY REFERENCES trivia_sessions(id) ON DELETE CASCADE,
		batch_id UUID NOT NULL REFERENCES trivia_question_batches(id),
		round_index INTEGER NOT NULL,
		round_total INTEGER NOT NULL,
		CHECK (round_index >= 0 AND round_index <= round_total)
	)`,
	`CREATE TABLE IF NOT EXISTS trivia_scores (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id UUID NOT NULL REFERENCES trivia_sessions(id),
		round_index INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (session_id, round_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trivia_scores_user ON trivia_scores (user_id)`,
	`CREATE TABLE IF NOT EXISTS trivia_channel_configs (
		channel_id TEXT PRIMARY KEY,
		round_timeout_seconds INTEGER,
		default_question_count INTEGER,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
