// Package metrics holds the prometheus collectors of collabtext.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	OutcomeNew       = "new"
	OutcomeExisting  = "existing"
	OutcomeRejected  = "rejected"
	OutcomeExhausted = "exhausted"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collabtext_submissions_total",
		Help: "Submitted records by outcome",
	}, []string{"outcome"})

	RebaseDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collabtext_rebase_depth",
		Help:    "Number of records a submission was rebased over",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
	})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collabtext_reconcile_duration_seconds",
		Help:    "Time spent reconciling one submission",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	AppendConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabtext_append_conflicts_total",
		Help: "Appends that lost the race for a revision and were retried",
	})

	Compactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabtext_compactions_total",
		Help: "Tail compactions performed",
	})

	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collabtext_sessions",
		Help: "Open websocket sessions",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
