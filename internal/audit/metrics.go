package audit

import (
	"github.com/bissquit/incident-tracker/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var auditWrites = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "audit",
		Name:      "writes_total",
		Help:      "Total audit log writes by action and result",
	},
	[]string{"action", "status"},
)

func recordAuditWrite(action, status string) {
	auditWrites.WithLabelValues(action, status).Inc()
}
