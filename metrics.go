package rethinkengine

import "github.com/prometheus/client_golang/prometheus"

var (
	SaveCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rethinkengine",
		Subsystem: "documents",
		Name:      "saves_total",
		Help:      "Documents saved, by table and write kind.",
	}, []string{"table", "kind"})

	SaveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rethinkengine",
		Subsystem: "documents",
		Name:      "save_duration_seconds",
		Help:      "Wall time of successful saves.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"table"})

	DeleteCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rethinkengine",
		Subsystem: "documents",
		Name:      "deletes_total",
		Help:      "Documents deleted, by table.",
	}, []string{"table"})

	QueryCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rethinkengine",
		Subsystem: "queries",
		Name:      "runs_total",
		Help:      "Query set executions, by table.",
	}, []string{"table"})

	ValidationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rethinkengine",
		Subsystem: "documents",
		Name:      "validation_failures_total",
		Help:      "Saves rejected before any round trip.",
	}, []string{"table"})

	OperationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rethinkengine",
		Subsystem: "documents",
		Name:      "operation_errors_total",
		Help:      "Failed writes, by table and operation.",
	}, []string{"table", "op"})
)

// RegisterMetrics registers the package collectors with reg. Backends
// export their own collectors separately.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		SaveCount, SaveDuration, DeleteCount,
		QueryCount, ValidationFailures, OperationErrors,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
