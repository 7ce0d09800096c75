package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starcover_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starcover_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	oracleCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starcover_oracle_calls_total",
			Help: "Visibility oracle calls by outcome.",
		},
		[]string{"outcome"},
	)

	oracleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "starcover_oracle_duration_seconds",
			Help:    "Duration of a single device/satellite visibility computation.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	pairFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starcover_pair_failures_total",
			Help: "Device/satellite pairs treated as never visible after an oracle failure.",
		},
		[]string{"reason"},
	)

	combineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "starcover_combine_duration_seconds",
			Help:    "Duration of one primary's coverage sweep.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starcover_runs_total",
			Help: "Coverage analyses by point of view and outcome.",
		},
		[]string{"pov", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		oracleCallsTotal,
		oracleDurationSeconds,
		pairFailuresTotal,
		combineDurationSeconds,
		runsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOracleCall counts one oracle call and observes its duration.
func RecordOracleCall(outcome string, d time.Duration) {
	oracleCallsTotal.WithLabelValues(outcome).Inc()
	oracleDurationSeconds.Observe(d.Seconds())
}

// IncPairFailures counts a pair dropped from a run. reason is error, timeout or malformed.
func IncPairFailures(reason string) {
	pairFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveCombine records the duration of one sweep.
func ObserveCombine(d time.Duration) {
	combineDurationSeconds.Observe(d.Seconds())
}

// RecordRun counts a finished analysis.
func RecordRun(pov, outcome string) {
	runsTotal.WithLabelValues(pov, outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

var exactRoutes = map[string]bool{
	"/":                true,
	"/healthz":         true,
	"/readyz":          true,
	"/metrics":         true,
	"/api/v1/coverage": true,
	"/api/v1/runs":     true,
}

// normalizeRoute maps a request path to a bounded label set so run ids and
// scanner noise do not create one series each.
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/runs/"); ok {
		id, tail, _ := strings.Cut(rest, "/")
		switch {
		case id == "":
		case tail == "":
			return "/api/v1/runs/{id}"
		case tail == "maxgap":
			return "/api/v1/runs/{id}/maxgap"
		case tail == "summary":
			return "/api/v1/runs/{id}/summary"
		}
	}
	return "other"
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
