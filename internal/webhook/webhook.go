package webhook

import (
	"context"
	"time"
)

const (
	ReasonCompleted = "completed"
	ReasonStopped   = "stopped"
)

type Winner struct {
	UserID string `json:"user_id"`
	Points int    `json:"points"`
}

// GameResultPayload is posted once per finished game.
type GameResultPayload struct {
	SessionID    string    `json:"session_id"`
	ChannelID    string    `json:"channel_id"`
	Reason       string    `json:"reason"`
	RoundsPlayed int       `json:"rounds_played"`
	RoundTotal   int       `json:"round_total"`
	EndedAt      time.Time `json:"ended_at"`
	Winners      []Winner  `json:"winners"`
}

type Sender interface {
	SendGameResult(ctx context.Context, payload GameResultPayload) error
}

// Normalize returns p with an empty winners list in place of nil, so the
// JSON body always carries an array.
func (p GameResultPayload) Normalize() GameResultPayload {
	if p.Winners == nil {
		p.Winners = []Winner{}
	}
	return p
}
