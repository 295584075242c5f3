// Package metrics provides Prometheus instrumentation for the margin engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PlansTotal counts plans produced, partitioned by action.
	PlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xdex_plans_total",
		Help: "Total number of operation plans produced",
	}, []string{"action"})

	// InfeasibleTotal counts requests rejected as infeasible, partitioned
	// by action and reason.
	InfeasibleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xdex_infeasible_total",
		Help: "Planning requests rejected as infeasible",
	}, []string{"action", "reason"})

	// PositionRecomputes counts derived-snapshot recomputations.
	PositionRecomputes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xdex_position_recomputes_total",
		Help: "Derived position snapshot recomputations",
	})

	// AllocationDuration tracks optimizer wall time in seconds.
	AllocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xdex_allocation_duration_seconds",
		Help:    "Debt allocation optimizer run duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	// AllocationLoss tracks the best loss achieved per optimizer run.
	AllocationLoss = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xdex_allocation_loss",
		Help:    "Best risk-parity loss achieved per optimizer run",
		Buckets: []float64{1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1},
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xdex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xdex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xdex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
