// Package metrics provides Prometheus instrumentation for the vault engine.
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
	// TradesConfirmed counts trades confirmed on chain, partitioned by side.
	TradesConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fate_trades_confirmed_total",
		Help: "Total number of trades confirmed on chain",
	}, []string{"side"})

	// VerifyFailures counts guard-pipeline failures by reason.
	VerifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fate_verify_failures_total",
		Help: "Trade attempts rejected by the verification pipeline",
	}, []string{"reason"})

	// QuotesTotal counts swap quotes served, partitioned by leg.
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fate_quotes_total",
		Help: "Total number of swap quotes served",
	}, []string{"from", "to"})

	// RemoteCallDuration tracks chain RPC latency per method.
	RemoteCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fate_remote_call_duration_seconds",
		Help:    "Chain RPC call latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 15.0},
	}, []string{"method"})

	// ActivePools tracks the number of pools with a cached snapshot.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fate_active_pools",
		Help: "Number of pools with a current snapshot",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fate_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fate_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fate_http_request_duration_seconds",
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
