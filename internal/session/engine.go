package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/foxseedlab/trivia/internal/answer"
	"github.com/foxseedlab/trivia/internal/config"
	apperrors "github.com/foxseedlab/trivia/internal/errors"
	"github.com/foxseedlab/trivia/internal/leaderboard"
	"github.com/foxseedlab/trivia/internal/presenter"
	"github.com/foxseedlab/trivia/internal/question"
	"github.com/foxseedlab/trivia/internal/repository"
	"github.com/foxseedlab/trivia/internal/scheduler"
	"github.com/foxseedlab/trivia/internal/telemetry"
	"github.com/foxseedlab/trivia/internal/webhook"
)

type Notifier interface {
	SendChannelMessage(channelID, content string) error
}

type roundTimer interface {
	Arm(key scheduler.RoundKey, d time.Duration, onExpire scheduler.ExpireFunc)
}

type Dependencies struct {
	Config    *config.Config
	Repo      repository.Repository
	Notifier  Notifier
	Questions question.Provider
	Timer     roundTimer
	Board     leaderboard.Board
	Webhook   webhook.Sender
	Metrics   *telemetry.Metrics
	Tracer    trace.Tracer
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine runs the game state machine. It keeps no per-channel state in
// memory; every operation reloads the session from the store and every
// round transition is a compare-and-swap on the round index.
type Engine struct {
	cfg       *config.Config
	repo      repository.Repository
	notifier  Notifier
	questions question.Provider
	timer     roundTimer
	board     leaderboard.Board
	webhook   webhook.Sender
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(d Dependencies) *Engine {
	e := &Engine{
		cfg:       d.Config,
		repo:      d.Repo,
		notifier:  d.Notifier,
		questions: d.Questions,
		timer:     d.Timer,
		board:     d.Board,
		webhook:   d.Webhook,
		metrics:   d.Metrics,
		tracer:    d.Tracer,
		logger:    d.Logger,
		now:       d.Now,
	}
	if e.board == nil {
		e.board = leaderboard.NewStoreBoard(d.Repo)
	}
	if e.tracer == nil {
		e.tracer = telemetry.Tracer()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// ChannelSettings are the channel overrides laid over the global defaults.
type ChannelSettings struct {
	RoundTimeout  time.Duration
	QuestionCount int
}

func (e *Engine) Settings(ctx context.Context, channelID string) (ChannelSettings, error) {
	s := ChannelSettings{
		RoundTimeout:  e.cfg.DefaultRoundTimeout(),
		QuestionCount: e.cfg.DefaultQuestionCount,
	}
	cc, err := e.repo.GetChannelConfig(ctx, channelID)
	if err != nil {
		return s, err
	}
	if cc == nil {
		return s, nil
	}
	if cc.RoundTimeoutSeconds != nil {
		s.RoundTimeout = time.Duration(*cc.RoundTimeoutSeconds) * time.Second
	}
	if cc.DefaultQuestionCount != nil {
		s.QuestionCount = *cc.DefaultQuestionCount
	}
	return s, nil
}

// Start begins a game in channelID. An amount of 0 uses the channel default.
// Questions are fetched before anything is written, so a failed fetch leaves
// the channel untouched.
func (e *Engine) Start(ctx context.Context, channelID string, amount int) (err error) {
	ctx, span := e.tracer.Start(ctx, "session.Start", trace.WithAttributes(attribute.String("channel_id", channelID)))
	defer func() { endSpan(span, err) }()

	active, err := e.repo.GetActiveSession(ctx, channelID)
	if err != nil {
		return e.unavailable(err, "failed to load active session", channelID)
	}
	if active != nil {
		done, err := e.closeIfFinished(ctx, channelID, active.ID, telemetry.SourceStop)
		if err != nil {
			return err
		}
		if !done {
			return alreadyRunning()
		}
	}

	settings, err := e.Settings(ctx, channelID)
	if err != nil {
		return e.unavailable(err, "failed to load channel config", channelID)
	}
	if amount == 0 {
		amount = settings.QuestionCount
	}
	if !question.ValidAmount(amount) {
		return apperrors.InvalidArgument(messageInvalidAmount)
	}

	batch, err := e.questions.Fetch(ctx, amount)
	if err != nil {
		if errors.Is(err, question.ErrInvalidAmount) {
			return apperrors.New(apperrors.CodeInvalidArgument, apperrors.WithCause(err), apperrors.WithMessagef(messageInvalidAmount))
		}
		e.logger.Warn("failed to fetch questions", slog.String("channel_id", channelID), slog.Any("error", err))
		return apperrors.New(apperrors.CodeUnavailable, apperrors.WithCause(err), apperrors.WithMessagef(messageQuestionsOffline))
	}

	s, err := e.repo.CreateSession(ctx, repository.CreateSessionInput{ChannelID: channelID, StartedAt: e.now()})
	if err != nil {
		if errors.Is(err, repository.ErrActiveSessionExists) {
			return alreadyRunning()
		}
		return e.unavailable(err, "failed to create session", channelID)
	}
	span.SetAttributes(attribute.String("session_id", s.ID))

	state, err := e.repo.InitRoundState(ctx, repository.InitRoundStateInput{SessionID: s.ID, Questions: batch})
	if err != nil {
		if stopErr := e.repo.StopSession(ctx, s.ID, e.now()); stopErr != nil {
			e.logger.Error("failed to roll back session without round state",
				slog.String("channel_id", channelID),
				slog.String("session_id", s.ID),
				slog.Any("error", stopErr))
		}
		return e.unavailable(err, "failed to init round state", channelID)
	}

	e.metrics.GamesStarted.Inc()
	e.logger.Info("game started",
		slog.String("channel_id", channelID),
		slog.String("session_id", s.ID),
		slog.Int("round_total", state.RoundTotal))

	e.send(channelID, startMessage(e.cfg.CommandPrefix))
	e.openRound(channelID, state, settings.RoundTimeout)
	return nil
}

// Stop ends the active game in channelID, if any, and announces its winners.
func (e *Engine) Stop(ctx context.Context, channelID string) (err error) {
	ctx, span := e.tracer.Start(ctx, "session.Stop", trace.WithAttributes(attribute.String("channel_id", channelID)))
	defer func() { endSpan(span, err) }()

	s, err := e.repo.GetActiveSession(ctx, channelID)
	if err != nil {
		return e.unavailable(err, "failed to load active session", channelID)
	}
	if s == nil {
		return nil
	}

	var played, total int
	state, err := e.repo.GetRoundState(ctx, s.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return e.unavailable(err, "failed to load round state", channelID)
	default:
		played, total = state.RoundIndex, state.RoundTotal
	}

	return e.finish(ctx, channelID, s.ID, webhook.ReasonStopped, played, total, telemetry.SourceStop)
}

// Guess checks text against the open question. Wrong guesses change nothing and get no reply.
func (e *Engine) Guess(ctx context.Context, channelID, userID, text string) (err error) {
	s, err := e.repo.GetActiveSession(ctx, channelID)
	if err != nil {
		return e.unavailable(err, "failed to load active session", channelID)
	}
	if s == nil {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "session.Guess", trace.WithAttributes(
		attribute.String("channel_id", channelID),
		attribute.String("session_id", s.ID),
	))
	defer func() { endSpan(span, err) }()

	state, err := e.repo.GetRoundState(ctx, s.ID)
	if errors.Is(err, repository.ErrNotFound) {
		e.stale(channelID, s.ID, -1, telemetry.SourceGuess)
		return nil
	}
	if err != nil {
		return e.unavailable(err, "failed to load round state", channelID)
	}
	if state.Finished() {
		return e.finish(ctx, channelID, s.ID, webhook.ReasonCompleted, state.RoundIndex, state.RoundTotal, telemetry.SourceGuess)
	}
	q, ok := state.Current()
	if !ok {
		e.stale(channelID, s.ID, state.RoundIndex, telemetry.SourceGuess)
		return nil
	}

	if !answer.Matches(q, text) {
		e.metrics.Guesses.WithLabelValues(telemetry.ResultIncorrect).Inc()
		return nil
	}
	e.metrics.Guesses.WithLabelValues(telemetry.ResultCorrect).Inc()

	return e.resolve(ctx, channelID, state, userID)
}

func (e *Engine) expire(ctx context.Context, key scheduler.RoundKey, state *repository.RoundState) {
	ctx, span := e.tracer.Start(ctx, "session.Expire", trace.WithAttributes(
		attribute.String("channel_id", key.ChannelID),
		attribute.String("session_id", key.SessionID),
		attribute.Int("round_index", key.RoundIndex),
	))
	err := e.resolve(ctx, key.ChannelID, state, "")
	endSpan(span, err)
}

// resolve closes the round observed in state, crediting winnerUserID if set.
// Whoever loses the compare-and-swap drops out silently.
func (e *Engine) resolve(ctx context.Context, channelID string, state *repository.RoundState, winnerUserID string) error {
	q, _ := state.Current()
	source, outcome := telemetry.SourceExpiry, telemetry.OutcomeExpired
	if winnerUserID != "" {
		source, outcome = telemetry.SourceGuess, telemetry.OutcomeAnswered
	}

	next, err := e.repo.AdvanceRound(ctx, repository.AdvanceRoundInput{
		SessionID:    state.SessionID,
		FromIndex:    state.RoundIndex,
		WinnerUserID: winnerUserID,
		ResolvedAt:   e.now(),
	})
	if errors.Is(err, repository.ErrStaleRound) || errors.Is(err, repository.ErrRoundAlreadyScored) {
		e.stale(channelID, state.SessionID, state.RoundIndex, source)
		return nil
	}
	if err != nil {
		return e.unavailable(err, "failed to advance round", channelID)
	}

	e.metrics.RoundsResolved.WithLabelValues(outcome).Inc()
	e.logger.Debug("round resolved",
		slog.String("channel_id", channelID),
		slog.String("session_id", state.SessionID),
		slog.Int("round_index", state.RoundIndex),
		slog.String("outcome", outcome))

	if winnerUserID != "" {
		if err := e.board.Record(ctx, winnerUserID); err != nil {
			e.logger.Warn("failed to record leaderboard entry",
				slog.String("user_id", winnerUserID),
				slog.Any("error", err))
		}
		e.send(channelID, correctMessage(winnerUserID, answerText(q)))
	} else {
		e.send(channelID, timesUpMessage(answerText(q)))
	}

	if next.Finished() {
		return e.finish(ctx, channelID, next.SessionID, webhook.ReasonCompleted, next.RoundIndex, next.RoundTotal, source)
	}

	settings, err := e.Settings(ctx, channelID)
	if err != nil {
		e.logger.Warn("failed to load channel config, using defaults",
			slog.String("channel_id", channelID),
			slog.Any("error", err))
	}
	e.openRound(channelID, next, settings.RoundTimeout)
	return nil
}

// finish stops the session and announces the result. Only the caller whose
// conditional stop succeeds announces, so each game ends exactly once.
func (e *Engine) finish(ctx context.Context, channelID, sessionID, reason string, played, total int, source string) error {
	endedAt := e.now()
	err := e.repo.StopSession(ctx, sessionID, endedAt)
	if errors.Is(err, repository.ErrSessionNotActive) {
		e.stale(channelID, sessionID, played, source)
		return nil
	}
	if err != nil {
		return e.unavailable(err, "failed to stop session", channelID)
	}
	e.metrics.GamesFinished.WithLabelValues(reason).Inc()

	e.logger.Info("game finished",
		slog.String("channel_id", channelID),
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
		slog.Int("rounds_played", played))

	scores, err := e.repo.ScoresForSession(ctx, sessionID)
	if err != nil {
		e.logger.Error("failed to load session scores",
			slog.String("channel_id", channelID),
			slog.String("session_id", sessionID),
			slog.Any("error", err))
		e.send(channelID, messageGameOverScoresUnavailable)
		scores = nil
	} else {
		e.send(channelID, gameOverMessage(scores))
	}

	winners := make([]webhook.Winner, 0, len(scores))
	for _, sc := range scores {
		winners = append(winners, webhook.Winner{UserID: sc.UserID, Points: sc.Count})
	}
	if err := e.webhook.SendGameResult(ctx, webhook.GameResultPayload{
		SessionID:    sessionID,
		ChannelID:    channelID,
		Reason:       reason,
		RoundsPlayed: played,
		RoundTotal:   total,
		EndedAt:      endedAt,
		Winners:      winners,
	}); err != nil {
		e.logger.Warn("failed to send game result webhook",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
	return nil
}

// closeIfFinished ends a session whose last round was resolved but whose
// stop never committed. It reports whether the channel is free afterwards.
func (e *Engine) closeIfFinished(ctx context.Context, channelID, sessionID, source string) (bool, error) {
	state, err := e.repo.GetRoundState(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, e.unavailable(err, "failed to load round state", channelID)
	}
	if !state.Finished() {
		return false, nil
	}
	e.logger.Warn("closing finished session left active",
		slog.String("channel_id", channelID),
		slog.String("session_id", sessionID))
	if err := e.finish(ctx, channelID, sessionID, webhook.ReasonCompleted, state.RoundIndex, state.RoundTotal, source); err != nil {
		return false, err
	}
	return true, nil
}

// openRound announces the current question and arms its expiry timer.
func (e *Engine) openRound(channelID string, state *repository.RoundState, timeout time.Duration) {
	q, ok := state.Current()
	if !ok {
		return
	}
	e.send(channelID, presenter.Prompt(q, state.RoundIndex, state.RoundTotal))
	e.timer.Arm(scheduler.RoundKey{
		ChannelID:  channelID,
		SessionID:  state.SessionID,
		RoundIndex: state.RoundIndex,
	}, timeout, e.expire)
}

func (e *Engine) HighScores(ctx context.Context) ([]repository.UserScore, error) {
	scores, err := e.board.Top(ctx)
	if err != nil {
		return nil, e.unavailable(err, "failed to load high scores", "")
	}
	return scores, nil
}

// UserScore returns nil, nil when the user has no points.
func (e *Engine) UserScore(ctx context.Context, userID string) (*repository.UserScore, error) {
	sc, err := e.board.Score(ctx, userID)
	if err != nil {
		return nil, e.unavailable(err, "failed to load user score", "")
	}
	return sc, nil
}

func (e *Engine) SetRoundTimeout(ctx context.Context, channelID string, seconds int) error {
	if !config.ValidRoundTimeout(seconds) {
		return apperrors.InvalidArgument(messageInvalidTimeout)
	}
	if err := e.repo.SetRoundTimeout(ctx, channelID, seconds); err != nil {
		return e.unavailable(err, "failed to save round timeout", channelID)
	}
	return nil
}

func (e *Engine) SetQuestionCount(ctx context.Context, channelID string, count int) error {
	if !config.ValidQuestionCount(count) {
		return apperrors.InvalidArgument(messageInvalidAmount)
	}
	if err := e.repo.SetDefaultQuestionCount(ctx, channelID, count); err != nil {
		return e.unavailable(err, "failed to save question count", channelID)
	}
	return nil
}

func (e *Engine) send(channelID, content string) {
	if err := e.notifier.SendChannelMessage(channelID, content); err != nil {
		e.logger.Error("failed to send channel message",
			slog.String("channel_id", channelID),
			slog.Any("error", err))
	}
}

func (e *Engine) stale(channelID, sessionID string, roundIndex int, source string) {
	e.metrics.StaleOperations.WithLabelValues(source).Inc()
	e.logger.Debug("dropping stale operation",
		slog.String("channel_id", channelID),
		slog.String("session_id", sessionID),
		slog.Int("round_index", roundIndex),
		slog.String("source", source))
}

func (e *Engine) unavailable(err error, msg, channelID string) error {
	e.logger.Error(msg, slog.String("channel_id", channelID), slog.Any("error", err))
	return apperrors.New(apperrors.CodeUnavailable, apperrors.WithCause(err), apperrors.WithMessagef(messageTryAgain))
}

func alreadyRunning() error {
	return apperrors.New(apperrors.CodeAlreadyExists, apperrors.WithMessagef(messageAlreadyRunning))
}

// answerText is the correct answer as shown to players: the labelled choice
// for multiple choice, the plain text otherwise.
func answerText(q question.Question) string {
	p := presenter.Present(q)
	if q.Type == question.TypeMultiple {
		return presenter.FormatChoice(p.Correct())
	}
	return presenter.Decode(p.Correct().Text)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
