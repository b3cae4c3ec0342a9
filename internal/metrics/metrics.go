// Package metrics exposes Prometheus metrics for provisioning operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks provisioning outcomes. Methods handle a nil receiver, so a
// nil *Metrics is a no-op.
type Metrics struct {
	// Operations counts use case invocations.
	// Labels: operation, result=[ok, rejected, conflict, not_found, error]
	Operations *prometheus.CounterVec

	// Duration tracks use case latency by operation.
	Duration *prometheus.HistogramVec

	// CertificatesIssued counts newly generated key pairs by role.
	CertificatesIssued *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them with reg. A nil reg gets a
// private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lares_provision_operations_total",
				Help: "Provisioning operations by result",
			},
			[]string{"operation", "result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lares_provision_duration_seconds",
				Help:    "Provisioning operation duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CertificatesIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lares_certificates_issued_total",
				Help: "Key pairs and certificates generated by role",
			},
			[]string{"role"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.Operations, m.Duration, m.CertificatesIssued)
	return m
}

// Observe records one finished operation
func (m *Metrics) Observe(operation, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, result).Inc()
	m.Duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// CertificateIssued records a newly generated certificate
func (m *Metrics) CertificateIssued(role string) {
	if m == nil {
		return
	}
	m.CertificatesIssued.WithLabelValues(role).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
