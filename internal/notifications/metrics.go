package notifications

import (
	"time"

	"github.com/bissquit/incident-tracker/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "alerts_total",
			Help:      "Total escalation alerts by kind and result",
		},
		[]string{"kind", "status"},
	)

	alertSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver an escalation alert",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

func recordAlert(kind, status string) {
	alertsSent.WithLabelValues(kind, status).Inc()
}

func recordSendDuration(d time.Duration) {
	alertSendDuration.Observe(d.Seconds())
}
