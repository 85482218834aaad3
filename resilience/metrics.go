package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector interface for circuit breaker metrics
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorType string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

// noopMetrics is a no-op metrics implementation
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string, errorType string)    {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// NoopMetrics returns a collector that discards everything.
func NoopMetrics() MetricsCollector {
	return &noopMetrics{}
}

// PrometheusMetrics exports breaker counters to a Prometheus registry.
type PrometheusMetrics struct {
	successes    *prometheus.CounterVec
	failures     *prometheus.CounterVec
	stateChanges *prometheus.CounterVec
	rejections   *prometheus.CounterVec
}

// NewPrometheusMetrics registers the breaker metric families.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbit_circuit_breaker_successes_total",
			Help: "Successful operations per circuit breaker.",
		}, []string{"breaker"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbit_circuit_breaker_failures_total",
			Help: "Failed operations per circuit breaker by error type.",
		}, []string{"breaker", "error_type"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbit_circuit_breaker_state_changes_total",
			Help: "State transitions per circuit breaker.",
		}, []string{"breaker", "from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orbit_circuit_breaker_rejections_total",
			Help: "Fast-failed operations while the circuit was open.",
		}, []string{"breaker"}),
	}
	reg.MustRegister(m.successes, m.failures, m.stateChanges, m.rejections)
	return m
}

func (m *PrometheusMetrics) RecordSuccess(name string) {
	m.successes.WithLabelValues(name).Inc()
}

func (m *PrometheusMetrics) RecordFailure(name string, errorType string) {
	m.failures.WithLabelValues(name, errorType).Inc()
}

func (m *PrometheusMetrics) RecordStateChange(name string, from, to string) {
	m.stateChanges.WithLabelValues(name, from, to).Inc()
}

func (m *PrometheusMetrics) RecordRejection(name string) {
	m.rejections.WithLabelValues(name).Inc()
}
