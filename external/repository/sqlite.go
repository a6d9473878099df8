package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/foxseedlab/trivia/external/repository/sqlitemigrations"
	"github.com/foxseedlab/trivia/internal/question"
	"github.com/foxseedlab/trivia/internal/repository"
)

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// SQLiteRepository stores trivia state in a single SQLite file.
// Times are stored as UTC unix milliseconds.
type SQLiteRepository struct {
	db *sqlx.DB
}

type sessionRow struct {
	ID        string        `db:"id"`
	ChannelID string        `db:"channel_id"`
	Active    bool          `db:"active"`
	CreatedAt int64         `db:"created_at"`
	EndedAt   sql.NullInt64 `db:"ended_at"`
}

func (r sessionRow) toModel() *repository.Session {
	s := &repository.Session{
		ID:        r.ID,
		ChannelID: r.ChannelID,
		Active:    r.Active,
		CreatedAt: fromMillis(r.CreatedAt),
	}
	if r.EndedAt.Valid {
		t := fromMillis(r.EndedAt.Int64)
		s.EndedAt = &t
	}
	return s
}

type roundStateRow struct {
	BatchID    string `db:"batch_id"`
	RoundIndex int    `db:"round_index"`
	RoundTotal int    `db:"round_total"`
	Payload    string `db:"payload"`
}

type userScoreRow struct {
	UserID string `db:"user_id"`
	Count  int    `db:"count"`
}

type channelConfigRow struct {
	RoundTimeoutSeconds  sql.NullInt64 `db:"round_timeout_seconds"`
	DefaultQuestionCount sql.NullInt64 `db:"default_question_count"`
}

// OpenSQLite opens path and applies the embedded schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqlitePragmas
	} else {
		dsn += "?" + sqlitePragmas
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Serialize writers; the CAS updates rely on one connection seeing its own writes.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrations.Apply(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO trivia_sessions (id, channel_id, active, created_at) VALUES (?, ?, 1, ?)`,
		id.String(), input.ChannelID, toMillis(input.StartedAt))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, repository.ErrActiveSessionExists
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &repository.Session{
		ID:        id.String(),
		ChannelID: input.ChannelID,
		Active:    true,
		CreatedAt: fromMillis(toMillis(input.StartedAt)),
	}, nil
}

func (r *SQLiteRepository) GetActiveSession(ctx context.Context, channelID string) (*repository.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, channel_id, active, created_at, ended_at
		 FROM trivia_sessions WHERE channel_id = ? AND active = 1 LIMIT 1`,
		channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (r *SQLiteRepository) StopSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE trivia_sessions SET active = 0, ended_at = ? WHERE id = ? AND active = 1`,
		toMillis(endedAt), sessionID)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrSessionNotActive
	}

	var batchID string
	err = tx.GetContext(ctx, &batchID, `SELECT batch_id FROM trivia_round_states WHERE session_id = ?`, sessionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("load round state: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM trivia_round_states WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete round state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM trivia_question_batches WHERE id = ?`, batchID); err != nil {
			return fmt.Errorf("delete question batch: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) InitRoundState(ctx context.Context, input repository.InitRoundStateInput) (*repository.RoundState, error) {
	batchID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate batch id: %w", err)
	}
	payload, err := json.Marshal(input.Questions)
	if err != nil {
		return nil, fmt.Errorf("encode question batch: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trivia_question_batches (id, payload, created_at) VALUES (?, ?, ?)`,
		batchID.String(), string(payload), toMillis(time.Now())); err != nil {
		return nil, fmt.Errorf("insert question batch: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trivia_round_states (session_id, batch_id, round_index, round_total) VALUES (?, ?, 0, ?)`,
		input.SessionID, batchID.String(), len(input.Questions)); err != nil {
		return nil, fmt.Errorf("insert round state: %w", err)
	}
	if err := tx.Commit(); err != nil {
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

func (r *SQLiteRepository) AdvanceRound(ctx context.Context, input repository.AdvanceRoundInput) (*repository.RoundState, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE trivia_round_states SET round_index = round_index + 1
		 WHERE session_id = ? AND round_index = ? AND round_index < round_total`,
		input.SessionID, input.FromIndex)
	if err != nil {
		return nil, fmt.Errorf("advance round: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, repository.ErrStaleRound
	}

	if input.WinnerUserID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trivia_scores (user_id, session_id, round_index, created_at) VALUES (?, ?, ?, ?)`,
			input.WinnerUserID, input.SessionID, input.FromIndex, toMillis(input.ResolvedAt)); err != nil {
			if isSQLiteUniqueViolation(err) {
				return nil, repository.ErrRoundAlreadyScored
			}
			return nil, fmt.Errorf("insert score: %w", err)
		}
	}

	state, err := loadRoundState(ctx, tx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return state, nil
}

func (r *SQLiteRepository) GetRoundState(ctx context.Context, sessionID string) (*repository.RoundState, error) {
	return loadRoundState(ctx, r.db, sessionID)
}

func loadRoundState(ctx context.Context, q sqlx.QueryerContext, sessionID string) (*repository.RoundState, error) {
	var row roundStateRow
	err := sqlx.GetContext(ctx, q, &row,
		`SELECT rs.batch_id, rs.round_index, rs.round_total, b.payload
		 FROM trivia_round_states rs
		 JOIN trivia_question_batches b ON b.id = rs.batch_id
		 WHERE rs.session_id = ?`,
		sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load round state: %w", err)
	}
	var batch question.Batch
	if err := json.Unmarshal([]byte(row.Payload), &batch); err != nil {
		return nil, fmt.Errorf("decode question batch: %w", err)
	}
	return &repository.RoundState{
		SessionID:  sessionID,
		BatchID:    row.BatchID,
		Questions:  batch,
		RoundIndex: row.RoundIndex,
		RoundTotal: row.RoundTotal,
	}, nil
}

func (r *SQLiteRepository) RecordScore(ctx context.Context, input repository.RecordScoreInput) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trivia_scores (user_id, session_id, round_index, created_at) VALUES (?, ?, ?, ?)`,
		input.UserID, input.SessionID, input.RoundIndex, toMillis(input.ScoredAt))
	if isSQLiteUniqueViolation(err) {
		return repository.ErrRoundAlreadyScored
	}
	return err
}

func (r *SQLiteRepository) ScoresForSession(ctx context.Context, sessionID string) ([]repository.UserScore, error) {
	var rows []userScoreRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT user_id, COUNT(*) AS count FROM trivia_scores
		 WHERE session_id = ?
		 GROUP BY user_id
		 ORDER BY count DESC, user_id ASC
		 LIMIT ?`,
		sessionID, repository.LeaderboardSize)
	if err != nil {
		return nil, err
	}
	return toUserScores(rows), nil
}

func (r *SQLiteRepository) ScoreForUser(ctx context.Context, userID string) (*repository.UserScore, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM trivia_scores WHERE user_id = ?`, userID); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	return &repository.UserScore{UserID: userID, Count: count}, nil
}

func (r *SQLiteRepository) TopScoresAllTime(ctx context.Context) ([]repository.UserScore, error) {
	var rows []userScoreRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT user_id, COUNT(*) AS count FROM trivia_scores
		 GROUP BY user_id
		 ORDER BY count DESC, user_id ASC
		 LIMIT ?`,
		repository.LeaderboardSize)
	if err != nil {
		return nil, err
	}
	return toUserScores(rows), nil
}

func (r *SQLiteRepository) AllTimeScores(ctx context.Context) ([]repository.UserScore, error) {
	var rows []userScoreRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT user_id, COUNT(*) AS count FROM trivia_scores
		 GROUP BY user_id
		 ORDER BY count DESC, user_id ASC`)
	if err != nil {
		return nil, err
	}
	return toUserScores(rows), nil
}

func (r *SQLiteRepository) GetChannelConfig(ctx context.Context, channelID string) (*repository.ChannelConfig, error) {
	var row channelConfigRow
	err := r.db.GetContext(ctx, &row,
		`SELECT round_timeout_seconds, default_question_count FROM trivia_channel_configs WHERE channel_id = ?`,
		channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &repository.ChannelConfig{
		ChannelID:            channelID,
		RoundTimeoutSeconds:  nullableInt(row.RoundTimeoutSeconds),
		DefaultQuestionCount: nullableInt(row.DefaultQuestionCount),
	}, nil
}

func (r *SQLiteRepository) SetRoundTimeout(ctx context.Context, channelID string, seconds int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trivia_channel_configs (channel_id, round_timeout_seconds, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (channel_id) DO UPDATE
		 SET round_timeout_seconds = excluded.round_timeout_seconds, updated_at = excluded.updated_at`,
		channelID, seconds, toMillis(time.Now()))
	return err
}

func (r *SQLiteRepository) SetDefaultQuestionCount(ctx context.Context, channelID string, count int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trivia_channel_configs (channel_id, default_question_count, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (channel_id) DO UPDATE
		 SET default_question_count = excluded.default_question_count, updated_at = excluded.updated_at`,
		channelID, count, toMillis(time.Now()))
	return err
}

func toUserScores(rows []userScoreRow) []repository.UserScore {
	scores := make([]repository.UserScore, 0, len(rows))
	for _, row := range rows {
		scores = append(scores, repository.UserScore{UserID: row.UserID, Count: row.Count})
	}
	return scores
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

var _ repository.Repository = (*SQLiteRepository)(nil)
