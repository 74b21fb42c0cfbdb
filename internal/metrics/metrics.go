// Package metrics provides Prometheus instrumentation for the simulator.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TrialsTotal counts simulated trials, partitioned by outcome.
	TrialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterfall_trials_total",
		Help: "Total number of Monte Carlo trials run",
	}, []string{"outcome"})

	// TrialDuration tracks how long one trial takes end to end.
	TrialDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waterfall_trial_duration_seconds",
		Help:    "Duration of a single trial in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// InvariantViolations counts trials aborted by a bookkeeping check.
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waterfall_invariant_violations_total",
		Help: "Trials aborted because the waterfall broke an invariant",
	})

	// RunsInFlight tracks ensembles currently executing.
	RunsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waterfall_runs_in_flight",
		Help: "Number of ensembles currently running",
	})

	// RunsTotal counts finished ensembles by final status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterfall_runs_total",
		Help: "Total ensembles finished",
	}, []string{"status"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waterfall_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterfall_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waterfall_http_request_duration_seconds",
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

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern labels by chi route (/api/v1/runs/{runID}) rather than the
// raw path so run IDs do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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
