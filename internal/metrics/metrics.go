// Package metrics exposes Prometheus counters for authentication and email
// delivery outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AuthEvents    *prometheus.CounterVec
	EmailDispatch *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := NewMetrics(reg)
	m.registry = reg
	return m
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_auth_events_total",
				Help: "Authentication and credential lifecycle events by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		EmailDispatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_email_dispatch_total",
				Help: "Email deliveries by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_http_requests_total",
				Help: "HTTP requests by method and status class",
			},
			[]string{"method", "status"},
		),
	}

	reg.MustRegister(m.AuthEvents, m.EmailDispatch, m.HTTPRequests)
	return m
}

func (m *Metrics) AuthEvent(event string, success bool) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event, outcome(success)).Inc()
}

func (m *Metrics) EmailDispatched(kind string, err error) {
	if m == nil {
		return
	}
	m.EmailDispatch.WithLabelValues(kind, outcome(err == nil)).Inc()
}

func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, statusClass(status)).Inc()
}

// Handler serves the registry created by New. Metrics built with NewMetrics
// against a foreign registry fall back to the default gatherer.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(success bool) string {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
