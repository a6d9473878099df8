package repository

import (
	"time"

	"github.com/foxseedlab/trivia/internal/question"
)

type Session struct {
	ID        string
	ChannelID string
	Active    bool
	CreatedAt time.Time
	EndedAt   *time.Time
}

// RoundState is the mutable progress of a session. RoundIndex doubles as an
// optimistic version tag: every advance is conditional on its previous value.
type RoundState struct {
	SessionID  string
	BatchID    string
	Questions  question.Batch
	RoundIndex int
	RoundTotal int
}

// Current returns the open question, or false once every round is resolved.
func (s *RoundState) Current() (question.Question, bool) {
	if s == nil || s.RoundIndex < 0 || s.RoundIndex >= s.RoundTotal || s.RoundIndex >= len(s.Questions) {
		return question.Question{}, false
	}
	return s.Questions[s.RoundIndex], true
}

// Finished reports whether the last round has been resolved.
func (s *RoundState) Finished() bool {
	return s.RoundIndex >= s.RoundTotal
}

type ScoreEntry struct {
	UserID     string
	SessionID  string
	RoundIndex int
	CreatedAt  time.Time
}

type UserScore struct {
	UserID string
	Count  int
}

// ChannelConfig holds per-channel overrides. Nil fields fall back to global defaults.
type ChannelConfig struct {
	ChannelID            string
	RoundTimeoutSeconds  *int
	DefaultQuestionCount *int
}
