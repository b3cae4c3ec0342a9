package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Observe("register_host", "ok", 10*time.Millisecond)
	m.Observe("register_host", "conflict", time.Millisecond)
	m.Observe("register_host", "ok", time.Millisecond)
	m.CertificateIssued("computer")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `lares_provision_operations_total{operation="register_host",result="ok"} 2`)
	assert.Contains(t, body, `lares_provision_operations_total{operation="register_host",result="conflict"} 1`)
	assert.Contains(t, body, `lares_certificates_issued_total{role="computer"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observe("register_host", "ok", time.Millisecond)
		m.CertificateIssued("service")
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.Observe("register_service", "rejected", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lares_provision_operations_total{operation="register_service",result="rejected"} 1`)
}
