package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors exposed at GET /metrics. This
// is a domain-stack addition, additive to the distilled spec: not part
// of the endpoint table's testable properties, purely observability.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors against a fresh registry so
// repeated test construction does not panic on duplicate registration.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ironflow",
			Name:      "runs_total",
			Help:      "Total number of flow runs by terminal status.",
		}, []string{"status"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ironflow",
			Name:      "task_duration_seconds",
			Help:      "Step execution duration in seconds by node type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_type"}),
	}
	reg.MustRegister(m.RunsTotal, m.TaskDuration)
	return m
}
