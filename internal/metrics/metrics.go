// Package metrics holds the Prometheus collectors for the execution pipeline.
//
// All methods are safe to call on a nil *Metrics so tests and the CLI can run
// the executor without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Execution outcomes used as the "outcome" label.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Housekeeping steps used as the "step" label.
const (
	StepKill   = "kill"
	StepLogs   = "logs"
	StepRemove = "remove"
)

// Metrics holds all Prometheus metrics for the code runner.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	QueueDepth           prometheus.Gauge
	HousekeepingFailures *prometheus.CounterVec
	OutputTruncatedTotal prometheus.Counter
}

// New creates and registers all metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coderunner",
				Name:      "executions_total",
				Help:      "Total number of executions by language and outcome.",
			},
			[]string{"language", "outcome"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "coderunner",
				Name:      "execution_duration_seconds",
				Help:      "Wall-clock time containers ran before exiting or timing out.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"language"},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "coderunner",
				Name:      "queue_depth",
				Help:      "Execution requests waiting for the executor.",
			},
		),

		HousekeepingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coderunner",
				Name:      "housekeeping_failures_total",
				Help:      "Failed kill, log collection and container removal attempts.",
			},
			[]string{"step"},
		),

		OutputTruncatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coderunner",
				Name:      "output_truncated_total",
				Help:      "Output streams cut at the configured maximum size.",
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.QueueDepth,
		m.HousekeepingFailures,
		m.OutputTruncatedTotal,
	)

	return m
}

// RecordExecution records one finished execution.
func (m *Metrics) RecordExecution(language, outcome string, durationSec float64) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(language, outcome).Inc()
	if outcome != OutcomeError {
		m.ExecutionDuration.WithLabelValues(language).Observe(durationSec)
	}
}

// RecordHousekeepingFailure counts a swallowed cleanup error.
func (m *Metrics) RecordHousekeepingFailure(step string) {
	if m == nil {
		return
	}
	m.HousekeepingFailures.WithLabelValues(step).Inc()
}

// RecordTruncation counts one truncated output stream.
func (m *Metrics) RecordTruncation() {
	if m == nil {
		return
	}
	m.OutputTruncatedTotal.Inc()
}

// SetQueueDepth reports how many commands are waiting.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
