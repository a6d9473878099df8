// Package leaderboard serves all-time rankings. The session store stays the
// source of truth; a Board may cache what it reads from it.
package leaderboard

import (
	"context"

	"github.com/foxseedlab/trivia/internal/repository"
)

type Board interface {
	// Record is called after a point for userID has been committed to the store.
	Record(ctx context.Context, userID string) error
	// Top returns at most repository.LeaderboardSize entries, highest first.
	Top(ctx context.Context) ([]repository.UserScore, error)
	// Score returns nil, nil when the user has no points.
	Score(ctx context.Context, userID string) (*repository.UserScore, error)
}

type scoreReader interface {
	TopScoresAllTime(ctx context.Context) ([]repository.UserScore, error)
	ScoreForUser(ctx context.Context, userID string) (*repository.UserScore, error)
}

// StoreBoard reads rankings straight from the store.
type StoreBoard struct {
	store scoreReader
}

func NewStoreBoard(store scoreReader) *StoreBoard {
	return &StoreBoard{store: store}
}

func (b *StoreBoard) Record(context.Context, string) error {
	return nil
}

func (b *StoreBoard) Top(ctx context.Context) ([]repository.UserScore, error) {
	return b.store.TopScoresAllTime(ctx)
}

func (b *StoreBoard) Score(ctx context.Context, userID string) (*repository.UserScore, error) {
	return b.store.ScoreForUser(ctx, userID)
}

var _ Board = (*StoreBoard)(nil)
