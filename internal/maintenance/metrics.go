package maintenance

import (
	"time"

	"github.com/bissquit/incident-tracker/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "maintenance",
			Name:      "runs_total",
			Help:      "Total maintenance runs by result",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "maintenance",
			Name:      "run_duration_seconds",
			Help:      "Duration of maintenance runs",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
	)

	incidentsSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "maintenance",
			Name:      "incidents_total",
			Help:      "Incidents handled by the SLA sweep by outcome",
		},
		[]string{"outcome"},
	)

	incidentsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "maintenance",
			Name:      "purged_total",
			Help:      "Total closed incidents purged",
		},
	)
)

func recordRun(status string, duration time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(duration.Seconds())
}

func recordSwept(outcome string) {
	incidentsSwept.WithLabelValues(outcome).Inc()
}

func recordPurged(n int64) {
	incidentsPurged.Add(float64(n))
}
