package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quiz_active_sessions",
			Help: "Number of live quiz sessions",
		},
	)

	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_sessions_started_total",
			Help: "Total number of quiz sessions started",
		},
	)

	SessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_sessions_finished_total",
			Help: "Total number of quiz sessions finished, by terminal status",
		},
		[]string{"status"},
	)

	Answers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Total number of recorded answers, by outcome",
		},
		[]string{"outcome"},
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_deliveries_total",
			Help: "Gateway deliveries by kind and result",
		},
		[]string{"kind", "result"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ActiveSessions, SessionsStarted, SessionsFinished, Answers, Deliveries)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AnswerOutcome labels an answer for the Answers counter.
func AnswerOutcome(correct, timedOut bool) string {
	switch {
	case timedOut:
		return "timeout"
	case correct:
		return "correct"
	default:
		return "wrong"
	}
}
