package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the server's Prometheus collectors. Each server owns a
// registry so several servers can coexist in one process.
type metrics struct {
	registry        *prometheus.Registry
	inFlight        prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authEvents      *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartrack",
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartrack",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartrack",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartrack",
			Name:      "auth_events_total",
			Help:      "Authentication events by kind and outcome.",
		}, []string{"event", "outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartrack",
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"group"}),
	}
	m.registry.MustRegister(
		m.inFlight,
		m.requestsTotal,
		m.requestDuration,
		m.authEvents,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// authEvent counts one authentication attempt.
func (m *metrics) authEvent(event string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.authEvents.WithLabelValues(event, outcome).Inc()
}

// instrument records request count and latency per route pattern, which
// keeps label cardinality bounded regardless of path parameters.
func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.status)
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
