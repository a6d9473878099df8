package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	namespace  = "trivia"
	tracerName = "github.com/foxseedlab/trivia"
)

const (
	OutcomeAnswered = "answered"
	OutcomeExpired  = "expired"

	SourceGuess  = "guess"
	SourceExpiry = "expiry"
	SourceStop   = "stop"
	SourceTimer  = "timer"

	ResultCorrect   = "correct"
	ResultIncorrect = "incorrect"
)

type Metrics struct {
	GamesStarted    prometheus.Counter
	GamesFinished   *prometheus.CounterVec
	RoundsResolved  *prometheus.CounterVec
	StaleOperations *prometheus.CounterVec
	Guesses         *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GamesStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_started_total",
			Help:      "Games started.",
		}),
		GamesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Games finished, by reason.",
		}, []string{"reason"}),
		RoundsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_resolved_total",
			Help:      "Rounds resolved, by outcome.",
		}, []string{"outcome"}),
		StaleOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_operations_total",
			Help:      "Operations dropped because the round had already moved on.",
		}, []string{"source"}),
		Guesses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guesses_total",
			Help:      "Guesses evaluated, by result.",
		}, []string{"result"}),
	}
}

// Tracer returns the tracer used for engine spans. It is a no-op until a provider is installed.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
