package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"

	"github.com/foxseedlab/trivia/internal/config"
	"github.com/foxseedlab/trivia/internal/leaderboard"
	"github.com/foxseedlab/trivia/internal/repository"
)

const redisPingTimeout = 5 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (leaderboard.Board, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		logger := do.MustInvoke[*slog.Logger](i)

		if cfg.RedisAddr == "" {
			return leaderboard.NewStoreBoard(repo), nil
		}

		rdb, err := NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, leaderboard will read from the store until it recovers",
				slog.String("redis_addr", cfg.RedisAddr),
				slog.Any("error", err))
		}
		return NewRedisBoard(rdb, repo, cfg.RedisPrefix, logger), nil
	})
}

func NewRedisClient(addr, password string) (redis.UniversalClient, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: password,
	})
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(rdb); err != nil {
		return nil, fmt.Errorf("instrument redis metrics: %w", err)
	}
	return rdb, nil
}
