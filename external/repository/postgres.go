package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foxseedlab/trivia/internal/question"
	"github.com/foxseedlab/trivia/internal/repository"
)

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO trivia_sessions (id, channel_id, active, created_at)
		 VALUES ($1, $2, TRUE, $3)
		 RETURNING id, channel_id, active, created_at, ended_at`,
		id.String(), input.ChannelID, input.StartedAt)
	s, err := scanSession(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrActiveSessionExists
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) GetActiveSession(ctx context.Context, channelID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, channel_id, active, created_at, ended_at
		 FROM trivia_sessions WHERE channel_id = $1 AND active
		 LIMIT 1`,
		channelID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) StopSession(ctx context.Context, sessionID string, endedAt time.Time) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, rollback(ctx, tx))
		}
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE trivia_sessions SET active = FALSE, ended_at = $2 WHERE id = $1 AND active`,
		sessionID, endedAt)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrSessionNotActive
	}

	var batchID string
	err = tx.QueryRow(ctx,
		`DELETE FROM trivia_round_states WHERE session_id = $1 RETURNING batch_id`,
		sessionID).Scan(&batchID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = nil
	case err != nil:
		return fmt.Errorf("delete round state: %w", err)
	default:
		if _, err = tx.Exec(ctx, `DELETE FROM trivia_question_batches WHERE id = $1`, batchID); err != nil {
			return fmt.Errorf("delete question batch: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) InitRoundState(ctx context.Context, input repository.InitRoundStateInput) (_ *repository.RoundState, err error) {
	batchID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate batch id: %w", err)
	}
	payload, err := json.Marshal(input.Questions)
	if err != nil {
		return nil, fmt.Errorf("encode question batch: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, rollback(ctx, tx))
		}
	}()

	if _, err = tx.Exec(ctx,
		`INSERT INTO trivia_question_batches (id, payload) VALUES ($1, $2)`,
		batchID.String(), payload); err != nil {
		return nil, fmt.Errorf("insert question batch: %w", err)
	}
	if _, err = tx.Exec(ctx,
		`INSERT INTO trivia_round_states (session_id, batch_id, round_index, round_total)
		 VALUES ($1, $2, 0, $3)`,
		input.SessionID, batchID.String(), len(input.Questions)); err != nil {
		return nil, fmt.Errorf("insert round state: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &repository.RoundState{
		SessionID:  input.SessionID,
		BatchID:    batchID.String(),
		Questions:  input.Questions,
		RoundIndex: 0,
		RoundTotal: len(input.Questions),
	}, nil
}

func (r *PostgresRepository) AdvanceRound(ctx context.Context, input repository.AdvanceRoundInput) (_ *repository.RoundState, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, rollback(ctx, tx))
		}
	}()

	state := repository.RoundState{SessionID: input.SessionID}
	err = tx.QueryRow(ctx,
		`UPDATE trivia_round_states SET round_index = round_index + 1
		 WHERE session_id = $1 AND round_index = $2 AND round_index < round_total
		 RETURNING batch_id, round_index, round_total`,
		input.SessionID, input.FromIndex).Scan(&state.BatchID, &state.RoundIndex, &state.RoundTotal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrStaleRound
		}
		return nil, fmt.Errorf("advance round: %w", err)
	}

	if input.WinnerUserID != "" {
		if _, err = tx.Exec(ctx,
			`INSERT INTO trivia_scores (user_id, session_id, round_index, created_at) VALUES ($1, $2, $3, $4)`,
			input.WinnerUserID, input.SessionID, input.FromIndex, input.ResolvedAt); err != nil {
			if isUniqueViolation(err) {
				return nil, repository.ErrRoundAlreadyScored
			}
			return nil, fmt.Errorf("insert score: %w", err)
		}
	}

	var payload []byte
	if err = tx.QueryRow(ctx,
		`SELECT payload FROM trivia_question_batches WHERE id = $1`,
		state.BatchID).Scan(&payload); err != nil {
		return nil, fmt.Errorf("load question batch: %w", err)
	}
	if err = json.Unmarshal(payload, &state.Questions); err != nil {
		return nil, fmt.Errorf("decode question batch: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *PostgresRepository) GetRoundState(ctx context.Context, sessionID string) (*repository.RoundState, error) {
	state := repository.RoundState{SessionID: sessionID}
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT rs.batch_id, rs.round_index, rs.round_total, b.payload
		 FROM trivia_round_states rs
		 JOIN trivia_question_batches b ON b.id = rs.batch_id
		 WHERE rs.session_id = $1`,
		sessionID).Scan(&state.BatchID, &state.RoundIndex, &state.RoundTotal, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	var batch question.Batch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("decode question batch: %w", err)
	}
	state.Questions = batch
	return &state, nil
}

func (r *PostgresRepository) RecordScore(ctx context.Context, input repository.RecordScoreInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trivia_scores (user_id, session_id, round_index, created_at) VALUES ($1, $2, $3, $4)`,
		input.UserID, input.SessionID, input.RoundIndex, input.ScoredAt)
	if isUniqueViolation(err) {
		return repository.ErrRoundAlreadyScored
	}
	return err
}

func (r *PostgresRepository) ScoresForSession(ctx context.Context, sessionID string) ([]repository.UserScore, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, COUNT(*) AS count FROM trivia_scores
		 WHERE session_id = $1
		 GROUP BY user_id
		 ORDER BY count DESC, user_id ASC
		 LIMIT $2`,
		sessionID, repository.LeaderboardSize)
	if err != nil {
		return nil, err
	}
	return collectUserScores(rows)
}

func (r *PostgresRepository) ScoreForUser(ctx context.Context, userID string) (*repository.UserScore, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trivia_scores WHERE user_id = $1`,
		userID).Scan(&count)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	return &repository.UserScore{UserID: userID, Count: count}, nil
}

func (r *PostgresRepository) TopScoresAllTime(ctx context.Context) ([]repository.UserScore, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, COUNT(*) AS count FROM trivia_scores
		 GROUP BY user_id
		 ORDER BY count DESC, user_id ASC
		 LIMIT $1`,
		repository.LeaderboardSize)
	if err != nil {
		return nil, err
	}
	return collectUserScores(rows)
}

func (r *PostgresRepository) AllTimeScores(ctx context.Context) ([]repository.UserScore, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, COUNT(*) AS count FROM trivia_scores
		 GROUP BY user_id
		 ORDER BY count DESC, user_id ASC`)
	if err != nil {
		return nil, err
	}
	return collectUserScores(rows)
}

func (r *PostgresRepository) GetChannelConfig(ctx context.Context, channelID string) (*repository.ChannelConfig, error) {
	cfg := repository.ChannelConfig{ChannelID: channelID}
	err := r.pool.QueryRow(ctx,
		`SELECT round_timeout_seconds, default_question_count
		 FROM trivia_channel_configs WHERE channel_id = $1`,
		channelID).Scan(&cfg.RoundTimeoutSeconds, &cfg.DefaultQuestionCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *PostgresRepository) SetRoundTimeout(ctx context.Context, channelID string, seconds int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trivia_channel_configs (channel_id, round_timeout_seconds, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (channel_id) DO UPDATE
		 SET round_timeout_seconds = EXCLUDED.round_timeout_seconds, updated_at = NOW()`,
		channelID, seconds)
	return err
}

func (r *PostgresRepository) SetDefaultQuestionCount(ctx context.Context, channelID string, count int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trivia_channel_configs (channel_id, default_question_count, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (channel_id) DO UPDATE
		 SET default_question_count = EXCLUDED.default_question_count, updated_at = NOW()`,
		channelID, count)
	return err
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var endedAt *time.Time
	if err := row.Scan(&s.ID, &s.ChannelID, &s.Active, &s.CreatedAt, &endedAt); err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	return &s, nil
}

func collectUserScores(rows pgx.Rows) ([]repository.UserScore, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.UserScore, error) {
		var sc repository.UserScore
		err := row.Scan(&sc.UserID, &sc.Count)
		return sc, err
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func rollback(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

var _ repository.Repository = (*PostgresRepository)(nil)
