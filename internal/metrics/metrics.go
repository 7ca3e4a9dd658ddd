// Package metrics provides Prometheus instrumentation for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. It implements the call and round
// recorder hooks consumed by the gateway and coordinator.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	ledgerCalls   *prometheus.CounterVec
	ledgerLatency *prometheus.HistogramVec
	rounds        *prometheus.CounterVec
	roundDuration prometheus.Histogram
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flserver_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flserver_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ledgerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flserver_ledger_calls_total",
			Help: "Ledger gateway calls by operation, function and outcome.",
		}, []string{"op", "fn", "outcome"}),
		ledgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flserver_ledger_call_duration_seconds",
			Help:    "Ledger gateway call duration by operation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"op"}),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flserver_aggregation_rounds_total",
			Help: "Aggregation rounds by outcome.",
		}, []string{"outcome"}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flserver_aggregation_round_duration_seconds",
			Help:    "End-to-end aggregation round duration.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
	m.registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.ledgerCalls, m.ledgerLatency,
		m.rounds, m.roundDuration,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest counts one handled request.
func (m *Metrics) RecordHTTPRequest(route, code string, seconds float64) {
	m.httpRequests.WithLabelValues(route, code).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}

// RecordLedgerCall implements fabric.CallRecorder.
func (m *Metrics) RecordLedgerCall(op, fn, outcome string, seconds float64) {
	m.ledgerCalls.WithLabelValues(op, fn, outcome).Inc()
	m.ledgerLatency.WithLabelValues(op).Observe(seconds)
}

// RecordRound implements coordinator.RoundRecorder.
func (m *Metrics) RecordRound(outcome string, seconds float64) {
	m.rounds.WithLabelValues(outcome).Inc()
	m.roundDuration.Observe(seconds)
}
