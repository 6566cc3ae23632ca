package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of analysis jobs enqueued",
		},
		[]string{"kind"},
	)
	JobsTerminalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_terminal_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"status", "error_kind"},
	)

	WorkerResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_results_total",
			Help: "Worker attempt outcomes by worker and outcome",
		},
		[]string{"worker", "outcome"},
	)
	WorkerAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_attempt_duration_seconds",
			Help:    "Per-attempt worker duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"worker"},
	)

	OracleLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_lookups_total",
			Help: "Market oracle symbol lookups by result",
		},
		[]string{"result"},
	)
)

// InitMetrics registers all collectors. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsTerminalTotal)
	prometheus.MustRegister(WorkerResultsTotal)
	prometheus.MustRegister(WorkerAttemptDuration)
	prometheus.MustRegister(OracleLookupsTotal)
}

// EnqueueJob bumps the enqueue counter for one job kind.
func EnqueueJob(kind string) {
	JobsEnqueuedTotal.WithLabelValues(kind).Inc()
}

// ObserveWorkerResult records one worker attempt outcome.
func ObserveWorkerResult(worker, outcome string, dur time.Duration) {
	WorkerResultsTotal.WithLabelValues(worker, outcome).Inc()
	WorkerAttemptDuration.WithLabelValues(worker).Observe(dur.Seconds())
}

// ObserveJobTerminal records one terminal transition.
func ObserveJobTerminal(status, errorKind string) {
	JobsTerminalTotal.WithLabelValues(status, errorKind).Inc()
}

// ObserveOracleLookup records one symbol lookup result (hit, miss, error,
// cache_hit).
func ObserveOracleLookup(result string, n int) {
	OracleLookupsTotal.WithLabelValues(result).Add(float64(n))
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
