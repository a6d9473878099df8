package opentdb

import (
	"github.com/samber/do/v2"

	"github.com/foxseedlab/trivia/internal/config"
	"github.com/foxseedlab/trivia/internal/question"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (question.Provider, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewClient(c.QuestionAPIURL, c.QuestionAPITimeout()), nil
	})
}
