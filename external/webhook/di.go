package webhook

import (
	"github.com/samber/do/v2"

	"github.com/foxseedlab/trivia/internal/config"
	"github.com/foxseedlab/trivia/internal/webhook"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (webhook.Sender, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHTTPSender(c.ResultWebhookURL), nil
	})
}
