package repository

import (
	"context"
	"errors"
	"time"

	"github.com/foxseedlab/trivia/internal/question"
)

// LeaderboardSize bounds every ranked score listing.
const LeaderboardSize = 3

var (
	ErrNotFound = errors.New("not found")
	// ErrActiveSessionExists is returned when a channel already has an active session.
	ErrActiveSessionExists = errors.New("channel already has an active session")
	// ErrStaleRound is returned when a round advance loses its compare-and-swap.
	ErrStaleRound = errors.New("round already advanced")
	// ErrSessionNotActive is returned when stopping a session that another path already stopped.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrRoundAlreadyScored is returned when a second score is recorded for the same round.
	ErrRoundAlreadyScored = errors.New("round already scored")
)

type CreateSessionInput struct {
	ChannelID string
	StartedAt time.Time
}

type InitRoundStateInput struct {
	SessionID string
	Questions question.Batch
}

type AdvanceRoundInput struct {
	SessionID string
	// FromIndex is the round index the caller observed; the advance only
	// happens if the stored index still equals it.
	FromIndex int
	// WinnerUserID, when set, is scored for FromIndex in the same transaction.
	WinnerUserID string
	ResolvedAt   time.Time
}

type RecordScoreInput struct {
	UserID     string
	SessionID  string
	RoundIndex int
	ScoredAt   time.Time
}

type SessionRepository interface {
	// CreateSession returns ErrActiveSessionExists when the channel already has an active session.
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	// GetActiveSession returns nil, nil when the channel is idle.
	GetActiveSession(ctx context.Context, channelID string) (*Session, error)
	// StopSession deactivates the session and drops its round state in one transaction.
	// It returns ErrSessionNotActive if the session was already stopped.
	StopSession(ctx context.Context, sessionID string, endedAt time.Time) error
}

type RoundRepository interface {
	InitRoundState(ctx context.Context, input InitRoundStateInput) (*RoundState, error)
	// AdvanceRound moves the round index from FromIndex to FromIndex+1.
	// It returns ErrStaleRound when the stored index no longer equals FromIndex.
	AdvanceRound(ctx context.Context, input AdvanceRoundInput) (*RoundState, error)
	// GetRoundState returns ErrNotFound when the session has no round state.
	GetRoundState(ctx context.Context, sessionID string) (*RoundState, error)
}

type ScoreRepository interface {
	// RecordScore returns ErrRoundAlreadyScored for a duplicate (session, round).
	RecordScore(ctx context.Context, input RecordScoreInput) error
	ScoresForSession(ctx context.Context, sessionID string) ([]UserScore, error)
	// ScoreForUser returns nil, nil when the user never scored.
	ScoreForUser(ctx context.Context, userID string) (*UserScore, error)
	TopScoresAllTime(ctx context.Context) ([]UserScore, error)
	// AllTimeScores lists every user with at least one point, highest first.
	AllTimeScores(ctx context.Context) ([]UserScore, error)
}

type ChannelConfigRepository interface {
	// GetChannelConfig returns nil, nil when the channel has no overrides.
	GetChannelConfig(ctx context.Context, channelID string) (*ChannelConfig, error)
	SetRoundTimeout(ctx context.Context, channelID string, seconds int) error
	SetDefaultQuestionCount(ctx context.Context, channelID string, count int) error
}

type Repository interface {
	SessionRepository
	RoundRepository
	ScoreRepository
	ChannelConfigRepository
}
