package session

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/foxseedlab/trivia/internal/config"
	"github.com/foxseedlab/trivia/internal/discord"
	"github.com/foxseedlab/trivia/internal/leaderboard"
	"github.com/foxseedlab/trivia/internal/question"
	"github.com/foxseedlab/trivia/internal/repository"
	"github.com/foxseedlab/trivia/internal/scheduler"
	"github.com/foxseedlab/trivia/internal/telemetry"
	"github.com/foxseedlab/trivia/internal/webhook"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Engine, error) {
		repo := do.MustInvoke[repository.Repository](i)
		metrics := do.MustInvoke[*telemetry.Metrics](i)
		logger := do.MustInvoke[*slog.Logger](i)

		timer := scheduler.NewRoundScheduler(scheduler.TimerClock{}, repo, logger,
			scheduler.WithStaleHook(func(scheduler.RoundKey) {
				metrics.StaleOperations.WithLabelValues(telemetry.SourceTimer).Inc()
			}),
		)

		return NewEngine(Dependencies{
			Config:    do.MustInvoke[*config.Config](i),
			Repo:      repo,
			Notifier:  do.MustInvoke[discord.Client](i),
			Questions: do.MustInvoke[question.Provider](i),
			Timer:     timer,
			Board:     do.MustInvoke[leaderboard.Board](i),
			Webhook:   do.MustInvoke[webhook.Sender](i),
			Metrics:   metrics,
			Tracer:    telemetry.Tracer(),
			Logger:    logger,
		}), nil
	})

	do.Provide(injector, func(i do.Injector) (*Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewHandler(
			do.MustInvoke[*Engine](i),
			do.MustInvoke[discord.Client](i),
			cfg.CommandPrefix,
			do.MustInvoke[*slog.Logger](i),
		), nil
	})
}
