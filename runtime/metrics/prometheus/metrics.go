// Package prometheus provides Prometheus metrics for the annotation workflow
// engine: step execution, rollbacks, backend round trips and schema checks.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mat"

// Status values for metric labels.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

var (
	// stepsTotal counts executed workflow steps.
	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of workflow steps executed",
		},
		[]string{"task", "step", "status"}, // status: success, error
	)

	// stepDuration is a histogram of step execution time, backend round trip included.
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of workflow step execution in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"task", "step"},
	)

	// rollbacksTotal counts rollbacks by outcome.
	rollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Total number of workflow rollbacks",
		},
		[]string{"task", "kind", "status"}, // kind: virtual, backend, cancelled
	)

	// stepsUndoneTotal counts steps reverted by rollbacks.
	stepsUndoneTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_undone_total",
			Help:      "Total number of steps reverted by rollbacks",
		},
		[]string{"task", "step"},
	)

	// backendRequestDuration is a histogram of backend operation latency.
	backendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Duration of backend operations in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	// backendRequestsTotal counts backend operations by outcome.
	backendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of backend operations",
		},
		[]string{"operation", "status"}, // status: success, transport, decode, application
	)

	// schemaViolationsTotal counts rejected attribute values.
	schemaViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_violations_total",
			Help:      "Total number of attribute values rejected by the schema",
		},
		[]string{"label", "attribute"},
	)

	// documentsOpen tracks sessions with an open document.
	documentsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "documents_open",
			Help:      "Number of documents currently open in workflow sessions",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		stepsTotal,
		stepDuration,
		rollbacksTotal,
		stepsUndoneTotal,
		backendRequestDuration,
		backendRequestsTotal,
		schemaViolationsTotal,
		documentsOpen,
	}
)

// RecordStep records one executed step.
func RecordStep(task, step, status string, durationSeconds float64) {
	stepsTotal.WithLabelValues(task, step, status).Inc()
	stepDuration.WithLabelValues(task, step).Observe(durationSeconds)
}

// RecordRollback records a rollback and every step it reverted.
func RecordRollback(task, kind, status string, undone []string) {
	rollbacksTotal.WithLabelValues(task, kind, status).Inc()
	for _, step := range undone {
		stepsUndoneTotal.WithLabelValues(task, step).Inc()
	}
}

// RecordBackendRequest records a backend operation.
func RecordBackendRequest(operation, status string, durationSeconds float64) {
	backendRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
	backendRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordSchemaViolation records a rejected attribute value.
func RecordSchemaViolation(label, attribute string) {
	schemaViolationsTotal.WithLabelValues(label, attribute).Inc()
}

// DocumentOpened increments the open document gauge.
func DocumentOpened() {
	documentsOpen.Inc()
}

// DocumentClosed decrements the open document gauge.
func DocumentClosed() {
	documentsOpen.Dec()
}
