package discord

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/foxseedlab/trivia/internal/config"
	discordpkg "github.com/foxseedlab/trivia/internal/discord"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (discordpkg.Client, error) {
		c := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return NewClient(c.DiscordToken, logger), nil
	})
}
