package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"

	"github.com/foxseedlab/trivia/internal/telemetry"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*telemetry.Metrics, error) {
		return telemetry.NewMetrics(prometheus.DefaultRegisterer), nil
	})
}
