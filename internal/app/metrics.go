package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// runtimeMetrics implements dispatcher.Metrics on its own registry so test
// processes never collide on the default one.
type runtimeMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reloadsTotal    *prometheus.CounterVec
}

func newRuntimeMetrics() *runtimeMetrics {
	registry := prometheus.NewRegistry()

	m := &runtimeMetrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "requests_total",
				Help:      "Requests handled, by host, route pattern and status code.",
			},
			[]string{"host", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rampart",
				Name:      "request_duration_seconds",
				Help:      "Request handling time in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"host", "route"},
		),
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rampart",
				Name:      "config_reloads_total",
				Help:      "Config reload attempts by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.reloadsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *runtimeMetrics) ObserveRequest(host, pattern string, status int, duration time.Duration) {
	if pattern == "" {
		pattern = "(none)"
	}
	m.requestsTotal.WithLabelValues(host, pattern, statusLabel(status)).Inc()
	m.requestDuration.WithLabelValues(host, pattern).Observe(duration.Seconds())
}

func (m *runtimeMetrics) observeReload(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.reloadsTotal.WithLabelValues(outcome).Inc()
}

func (m *runtimeMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}
