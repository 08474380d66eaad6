// Package metrics registers the Prometheus collectors surfaced at
// `/metrics`, the `GET /stats` companion endpoint named in SPEC_FULL.md's
// DOMAIN STACK (task-queue depth, worker utilization, collector error
// counters).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the gauges/counters exported at /metrics. The Task
// Engine and Collectors do not hold a Registry and do not update these
// series, so each keeps its initial value.
type Registry struct {
	TaskQueueDepth    *prometheus.GaugeVec
	WorkerUtilization prometheus.Gauge
	CollectorErrors   *prometheus.CounterVec
	TaskTransitions   *prometheus.CounterVec
}

// NewRegistry registers every collector against reg and returns the
// typed handles callers update directly, rather than looking metrics up
// by name at call sites.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		TaskQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zoneweaver",
			Subsystem: "engine",
			Name:      "task_queue_depth",
			Help:      "Number of tasks currently in the given status.",
		}, []string{"status"}),
		WorkerUtilization: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "zoneweaver",
			Subsystem: "engine",
			Name:      "worker_utilization",
			Help:      "Fraction of the worker pool currently executing a task.",
		}),
		CollectorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zoneweaver",
			Subsystem: "collectors",
			Name:      "errors_total",
			Help:      "Consecutive-reset collector error count by collector name.",
		}, []string{"collector"}),
		TaskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zoneweaver",
			Subsystem: "engine",
			Name:      "task_transitions_total",
			Help:      "Task status transitions by operation and resulting status.",
		}, []string{"operation", "status"}),
	}
}
