// Package api serves coverage analyses and stored runs over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/starcover/internal/auth"
	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/health"
	"github.com/star/starcover/internal/metrics"
	"github.com/star/starcover/internal/runner"
	"github.com/star/starcover/internal/scenario"
	"github.com/star/starcover/internal/store"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr string
	// RunTimeout bounds one coverage computation.
	RunTimeout time.Duration
	// MaxBodyBytes caps a posted scenario.
	MaxBodyBytes int64
	// MaxRunsPerClient and MaxRuns cap concurrent computations.
	MaxRunsPerClient int
	MaxRuns          int
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// AllowRemoteTLE lets posted scenarios fetch satellites_url.
	AllowRemoteTLE bool
}

// DefaultConfig returns the settings used when no environment overrides them.
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		RunTimeout:       5 * time.Minute,
		MaxBodyBytes:     4 << 20,
		MaxRunsPerClient: 2,
		MaxRuns:          16,
	}
}

// Runner computes coverage for a scenario.
type Runner interface {
	Run(ctx context.Context, f scenario.File, baseDir string) (*scenario.Scenario, *coverage.Result, error)
}

// Store persists runs.
type Store interface {
	Save(ctx context.Context, res *coverage.Result) (store.Run, error)
	Get(ctx context.Context, id string) (store.Run, *coverage.Result, error)
	List(ctx context.Context, limit int) ([]store.Run, error)
	Ping(ctx context.Context) error
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	cfg        Config
	runner     Runner
	store      Store
	limiter    *runLimiter
	logger     *slog.Logger
}

var _ Runner = (*runner.Runner)(nil)

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, logger *slog.Logger, authCfg auth.Config, r Runner, st Store) *Server {
	s := &Server{
		cfg:     cfg,
		runner:  r,
		store:   st,
		limiter: newRunLimiter(cfg.MaxRunsPerClient, cfg.MaxRuns),
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(map[string]health.Check{"store": st.Ping}))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/v1/coverage", s.handleCoverage)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/maxgap", s.handleMaxGap)
	mux.HandleFunc("GET /api/v1/runs/{id}/summary", s.handleSummary)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, cfg.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.RunTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// quietPath returns true for health and readiness paths that should not log at INFO.
func quietPath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if quietPath(r.URL.Path) {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", clientIP(r, trustProxy),
			)
		})
	}
}
