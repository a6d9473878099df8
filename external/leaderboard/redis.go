package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foxseedlab/trivia/internal/leaderboard"
	"github.com/foxseedlab/trivia/internal/repository"
)

// readyTTL forces a periodic re-warm from the store.
const readyTTL = 10 * time.Minute

type scoreStore interface {
	TopScoresAllTime(ctx context.Context) ([]repository.UserScore, error)
	ScoreForUser(ctx context.Context, userID string) (*repository.UserScore, error)
	AllTimeScores(ctx context.Context) ([]repository.UserScore, error)
}

// RedisBoard mirrors all-time point counts into a sorted set. Counts are
// written with ZADD GT so replays and concurrent warm-ups never lower a score.
// Reads fall back to the store while the set is cold or Redis is unreachable.
type RedisBoard struct {
	redis  redis.UniversalClient
	store  scoreStore
	prefix string
	logger *slog.Logger
	// dirty is set when a write was lost; the next read re-warms even if
	// the ready marker could not be removed.
	dirty atomic.Bool
}

func NewRedisBoard(rdb redis.UniversalClient, store scoreStore, prefix string, logger *slog.Logger) *RedisBoard {
	return &RedisBoard{
		redis:  rdb,
		store:  store,
		prefix: prefix,
		logger: logger,
	}
}

func (b *RedisBoard) Record(ctx context.Context, userID string) error {
	sc, err := b.store.ScoreForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user score: %w", err)
	}
	if sc == nil {
		return nil
	}
	if err := b.redis.ZAddGT(ctx, b.scoresKey(), redis.Z{
		Score:  float64(sc.Count),
		Member: sc.UserID,
	}).Err(); err != nil {
		b.invalidate(ctx)
		return fmt.Errorf("update leaderboard: %w", err)
	}
	return nil
}

// invalidate drops the ready marker so the next read, here or on another
// instance, re-warms from the store. If the delete fails too, the marker's
// TTL bounds how long other instances see the missed write.
func (b *RedisBoard) invalidate(ctx context.Context) {
	b.dirty.Store(true)
	if err := b.redis.Del(ctx, b.readyKey()).Err(); err != nil {
		b.logger.Warn("failed to invalidate leaderboard cache", slog.Any("error", err))
	}
}

func (b *RedisBoard) Top(ctx context.Context) ([]repository.UserScore, error) {
	if !b.ready(ctx) {
		return b.store.TopScoresAllTime(ctx)
	}
	res, err := b.redis.ZRevRangeWithScores(ctx, b.scoresKey(), 0, repository.LeaderboardSize-1).Result()
	if err != nil {
		b.logger.Warn("falling back to store for leaderboard", slog.Any("error", err))
		return b.store.TopScoresAllTime(ctx)
	}
	scores := make([]repository.UserScore, 0, len(res))
	for _, z := range res {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		scores = append(scores, repository.UserScore{UserID: member, Count: int(z.Score)})
	}
	return scores, nil
}

func (b *RedisBoard) Score(ctx context.Context, userID string) (*repository.UserScore, error) {
	if !b.ready(ctx) {
		return b.store.ScoreForUser(ctx, userID)
	}
	v, err := b.redis.ZScore(ctx, b.scoresKey(), userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		b.logger.Warn("falling back to store for user score",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return b.store.ScoreForUser(ctx, userID)
	}
	return &repository.UserScore{UserID: userID, Count: int(v)}, nil
}

// Warm copies every stored count into the sorted set and marks it ready.
func (b *RedisBoard) Warm(ctx context.Context) error {
	scores, err := b.store.AllTimeScores(ctx)
	if err != nil {
		return fmt.Errorf("load all-time scores: %w", err)
	}
	_, err = b.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, sc := range scores {
			p.ZAddGT(ctx, b.scoresKey(), redis.Z{Score: float64(sc.Count), Member: sc.UserID})
		}
		p.Set(ctx, b.readyKey(), 1, readyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("warm leaderboard: %w", err)
	}
	return nil
}

// ready reports whether the sorted set has been warmed. A cold set is warmed
// on first read.
func (b *RedisBoard) ready(ctx context.Context) bool {
	if b.dirty.Load() {
		if err := b.Warm(ctx); err != nil {
			b.logger.Warn("failed to re-warm leaderboard cache", slog.Any("error", err))
			return false
		}
		b.dirty.Store(false)
		return true
	}
	n, err := b.redis.Exists(ctx, b.readyKey()).Result()
	if err != nil {
		b.logger.Warn("leaderboard cache unavailable", slog.Any("error", err))
		return false
	}
	if n > 0 {
		return true
	}
	if err := b.Warm(ctx); err != nil {
		b.logger.Warn("failed to warm leaderboard cache", slog.Any("error", err))
		return false
	}
	return true
}

func (b *RedisBoard) scoresKey() string {
	return fmt.Sprintf("%s:alltime", b.prefix)
}

func (b *RedisBoard) readyKey() string {
	return fmt.Sprintf("%s:alltime:ready", b.prefix)
}

var _ leaderboard.Board = (*RedisBoard)(nil)
