package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foxseedlab/trivia/internal/config"
	"github.com/foxseedlab/trivia/internal/question"
	"github.com/foxseedlab/trivia/internal/repository"
	"github.com/foxseedlab/trivia/internal/scheduler"
	"github.com/foxseedlab/trivia/internal/telemetry"
	"github.com/foxseedlab/trivia/internal/webhook"
)

type memoryRepository struct {
	mu       sync.Mutex
	nextID   int
	sessions map[string]*repository.Session
	states   map[string]*repository.RoundState
	scores   []repository.ScoreEntry
	configs  map[string]*repository.ChannelConfig
	initErr  error
	// stopFailures makes the next n StopSession calls fail.
	stopFailures int
	scoresErr    error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		sessions: make(map[string]*repository.Session),
		states:   make(map[string]*repository.RoundState),
		configs:  make(map[string]*repository.ChannelConfig),
	}
}

func (m *memoryRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Active && s.ChannelID == input.ChannelID {
			return nil, repository.ErrActiveSessionExists
		}
	}
	m.nextID++
	s := &repository.Session{
		ID:        fmt.Sprintf("session-%d", m.nextID),
		ChannelID: input.ChannelID,
		Active:    true,
		CreatedAt: input.StartedAt,
	}
	m.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (m *memoryRepository) GetActiveSession(_ context.Context, channelID string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Active && s.ChannelID == channelID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryRepository) StopSession(_ context.Context, sessionID string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopFailures > 0 {
		m.stopFailures--
		return errors.New("database is locked")
	}
	s, ok := m.sessions[sessionID]
	if !ok || !s.Active {
		return repository.ErrSessionNotActive
	}
	s.Active = false
	s.EndedAt = &endedAt
	delete(m.states, sessionID)
	return nil
}

func (m *memoryRepository) InitRoundState(_ context.Context, input repository.InitRoundStateInput) (*repository.RoundState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initErr != nil {
		return nil, m.initErr
	}
	st := &repository.RoundState{
		SessionID:  input.SessionID,
		BatchID:    "batch-" + input.SessionID,
		Questions:  input.Questions,
		RoundTotal: len(input.Questions),
	}
	m.states[input.SessionID] = st
	cp := *st
	return &cp, nil
}

func (m *memoryRepository) AdvanceRound(_ context.Context, input repository.AdvanceRoundInput) (*repository.RoundState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[input.SessionID]
	if !ok || st.RoundIndex != input.FromIndex || st.RoundIndex >= st.RoundTotal {
		return nil, repository.ErrStaleRound
	}
	if input.WinnerUserID != "" {
		if err := m.recordLocked(repository.RecordScoreInput{
			UserID:     input.WinnerUserID,
			SessionID:  input.SessionID,
			RoundIndex: input.FromIndex,
			ScoredAt:   input.ResolvedAt,
		}); err != nil {
			return nil, err
		}
	}
	st.RoundIndex++
	cp := *st
	return &cp, nil
}

func (m *memoryRepository) GetRoundState(_ context.Context, sessionID string) (*repository.RoundState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *memoryRepository) RecordScore(_ context.Context, input repository.RecordScoreInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked(input)
}

func (m *memoryRepository) recordLocked(input repository.RecordScoreInput) error {
	for _, e := range m.scores {
		if e.SessionID == input.SessionID && e.RoundIndex == input.RoundIndex {
			return repository.ErrRoundAlreadyScored
		}
	}
	m.scores = append(m.scores, repository.ScoreEntry{
		UserID:     input.UserID,
		SessionID:  input.SessionID,
		RoundIndex: input.RoundIndex,
		CreatedAt:  input.ScoredAt,
	})
	return nil
}

func (m *memoryRepository) ranked(sessionID string) []repository.UserScore {
	counts := make(map[string]int)
	for _, e := range m.scores {
		if sessionID == "" || e.SessionID == sessionID {
			counts[e.UserID]++
		}
	}
	out := make([]repository.UserScore, 0, len(counts))
	for u, c := range counts {
		out = append(out, repository.UserScore{UserID: u, Count: c})
	}
	slices.SortFunc(out, func(a, b repository.UserScore) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}

func top(scores []repository.UserScore) []repository.UserScore {
	if len(scores) > repository.LeaderboardSize {
		return scores[:repository.LeaderboardSize]
	}
	return scores
}

func (m *memoryRepository) ScoresForSession(_ context.Context, sessionID string) ([]repository.UserScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scoresErr != nil {
		return nil, m.scoresErr
	}
	return top(m.ranked(sessionID)), nil
}

func (m *memoryRepository) ScoreForUser(_ context.Context, userID string) (*repository.UserScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sc := range m.ranked("") {
		if sc.UserID == userID {
			return &sc, nil
		}
	}
	return nil, nil
}

func (m *memoryRepository) TopScoresAllTime(_ context.Context) ([]repository.UserScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return top(m.ranked("")), nil
}

func (m *memoryRepository) AllTimeScores(_ context.Context) ([]repository.UserScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ranked(""), nil
}

func (m *memoryRepository) GetChannelConfig(_ context.Context, channelID string) (*repository.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc, ok := m.configs[channelID]
	if !ok {
		return nil, nil
	}
	cp := *cc
	return &cp, nil
}

func (m *memoryRepository) config(channelID string) *repository.ChannelConfig {
	cc, ok := m.configs[channelID]
	if !ok {
		cc = &repository.ChannelConfig{ChannelID: channelID}
		m.configs[channelID] = cc
	}
	return cc
}

func (m *memoryRepository) SetRoundTimeout(_ context.Context, channelID string, seconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config(channelID).RoundTimeoutSeconds = &seconds
	return nil
}

func (m *memoryRepository) SetDefaultQuestionCount(_ context.Context, channelID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config(channelID).DefaultQuestionCount = &count
	return nil
}

type sentMessage struct {
	channelID string
	content   string
}

type mockChat struct {
	mu        sync.Mutex
	sent      []sentMessage
	reactions []string
}

func (m *mockChat) SendChannelMessage(channelID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{channelID: channelID, content: content})
	return nil
}

func (m *mockChat) AddReaction(_, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, messageID+":"+emoji)
	return nil
}

func (m *mockChat) contents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.content)
	}
	return out
}

func (m *mockChat) last() string {
	c := m.contents()
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1]
}

func (m *mockChat) countContaining(sub string) int {
	n := 0
	for _, c := range m.contents() {
		if strings.Contains(c, sub) {
			n++
		}
	}
	return n
}

type mockProvider struct {
	batch question.Batch
	err   error
	calls int
}

func (m *mockProvider) Fetch(_ context.Context, amount int) (question.Batch, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if amount < len(m.batch) {
		return m.batch[:amount], nil
	}
	return m.batch, nil
}

type mockWebhook struct {
	mu       sync.Mutex
	payloads []webhook.GameResultPayload
}

func (m *mockWebhook) SendGameResult(_ context.Context, payload webhook.GameResultPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

type pendingTimer struct {
	d  time.Duration
	fn func()
}

// manualClock holds armed timers until the test fires them.
type manualClock struct {
	mu     sync.Mutex
	timers []pendingTimer
}

func (c *manualClock) After(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = append(c.timers, pendingTimer{d: d, fn: fn})
}

func (c *manualClock) fire(i int) {
	c.mu.Lock()
	fn := c.timers[i].fn
	c.mu.Unlock()
	fn()
}

func (c *manualClock) armed() []pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.timers)
}

type harness struct {
	engine   *Engine
	repo     *memoryRepository
	chat     *mockChat
	provider *mockProvider
	webhook  *mockWebhook
	clock    *manualClock
	metrics  *telemetry.Metrics
}

func newHarness(t *testing.T, batch question.Batch) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		repo:     newMemoryRepository(),
		chat:     &mockChat{},
		provider: &mockProvider{batch: batch},
		webhook:  &mockWebhook{},
		clock:    &manualClock{},
		metrics:  telemetry.NewMetrics(prometheus.NewRegistry()),
	}
	h.engine = NewEngine(Dependencies{
		Config: &config.Config{
			CommandPrefix:          "!",
			DefaultRoundTimeoutSec: 20,
			DefaultQuestionCount:   10,
		},
		Repo:      h.repo,
		Notifier:  h.chat,
		Questions: h.provider,
		Timer:     scheduler.NewRoundScheduler(h.clock, h.repo, logger),
		Webhook:   h.webhook,
		Metrics:   h.metrics,
		Logger:    logger,
	})
	return h
}

func booleanQuestion(prompt, answer string) question.Question {
	wrong := "False"
	if answer == "False" {
		wrong = "True"
	}
	return question.Question{
		Type:             question.TypeBoolean,
		Prompt:           prompt,
		CorrectAnswer:    answer,
		IncorrectAnswers: []string{wrong},
	}
}
