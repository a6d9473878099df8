// Package scheduler arms per-round expiry timers. A timer carries only the
// identity of the round it was armed for; the store is re-read when it fires.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foxseedlab/trivia/internal/repository"
)

// Clock delays fn by d. Implementations must not block the caller.
type Clock interface {
	After(d time.Duration, fn func())
}

type TimerClock struct{}

func (TimerClock) After(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// RoundKey identifies the round a timer was armed for.
type RoundKey struct {
	ChannelID  string
	SessionID  string
	RoundIndex int
}

// ExpireFunc resolves an unanswered round. It is only called while the key still matches the store.
type ExpireFunc func(ctx context.Context, key RoundKey, state *repository.RoundState)

type StaleFunc func(key RoundKey)

type stateReader interface {
	GetActiveSession(ctx context.Context, channelID string) (*repository.Session, error)
	GetRoundState(ctx context.Context, sessionID string) (*repository.RoundState, error)
}

type RoundScheduler struct {
	clock   Clock
	store   stateReader
	logger  *slog.Logger
	onStale StaleFunc
	timeout time.Duration
}

type Option func(*RoundScheduler)

// WithStaleHook is called whenever a fired timer no longer matches the stored round.
func WithStaleHook(fn StaleFunc) Option {
	return func(s *RoundScheduler) { s.onStale = fn }
}

// WithFireTimeout bounds the store reads and the expiry callback of a fired timer.
func WithFireTimeout(d time.Duration) Option {
	return func(s *RoundScheduler) { s.timeout = d }
}

func NewRoundScheduler(clock Clock, store stateReader, logger *slog.Logger, opts ...Option) *RoundScheduler {
	s := &RoundScheduler{
		clock:   clock,
		store:   store,
		logger:  logger,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arm schedules onExpire for key after d. Nothing is cancelled when the round
// resolves early; the fired timer detects that and does nothing.
func (s *RoundScheduler) Arm(key RoundKey, d time.Duration, onExpire ExpireFunc) {
	s.clock.After(d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.fire(ctx, key, onExpire)
	})
}

func (s *RoundScheduler) fire(ctx context.Context, key RoundKey, onExpire ExpireFunc) {
	session, err := s.store.GetActiveSession(ctx, key.ChannelID)
	if err != nil {
		s.logger.Error("failed to load session for round timer",
			slog.String("channel_id", key.ChannelID),
			slog.String("session_id", key.SessionID),
			slog.Any("error", err))
		return
	}
	if session == nil || session.ID != key.SessionID {
		s.stale(key, "session ended")
		return
	}

	state, err := s.store.GetRoundState(ctx, key.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		s.stale(key, "round state missing")
		return
	}
	if err != nil {
		s.logger.Error("failed to load round state for round timer",
			slog.String("channel_id", key.ChannelID),
			slog.String("session_id", key.SessionID),
			slog.Any("error", err))
		return
	}
	if state.RoundIndex != key.RoundIndex || state.Finished() {
		s.stale(key, "round already resolved")
		return
	}

	onExpire(ctx, key, state)
}

func (s *RoundScheduler) stale(key RoundKey, reason string) {
	s.logger.Debug("ignoring stale round timer",
		slog.String("channel_id", key.ChannelID),
		slog.String("session_id", key.SessionID),
		slog.Int("round_index", key.RoundIndex),
		slog.String("reason", reason))
	if s.onStale != nil {
		s.onStale(key)
	}
}
