package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/star/starcover/internal/api"
	"github.com/star/starcover/internal/auth"
	"github.com/star/starcover/internal/runner"
	"github.com/star/starcover/internal/store"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the coverage HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "Listen address", EnvVars: []string{"STARCOVER_HTTP_ADDR"}},
			&cli.StringFlag{Name: "db", Value: "starcover.db", Usage: "SQLite database for stored runs", EnvVars: []string{"STARCOVER_DB_PATH"}},
		},
		Action: runServe,
	}
}

func runServe(cCtx *cli.Context) error {
	logger := newLogger(cCtx)

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		return err
	}
	cfg := loadServerConfig(logger)
	cfg.Addr = cCtx.String("addr")

	st, err := store.Open(cCtx.String("db"))
	if err != nil {
		return err
	}
	defer st.Close()

	srv := api.NewServer(cfg, logger, authCfg, runner.New(logger), st)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "db", cCtx.String("db"), "auth_enabled", authCfg.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("server listen error", "error", err)
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("STARCOVER_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("STARCOVER_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("STARCOVER_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("STARCOVER_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

// envPositiveInt reads a positive integer, keeping def on a missing or bad value.
func envPositiveInt(logger *slog.Logger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return n
}

func envBool(logger *slog.Logger, key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return b
}

func loadServerConfig(logger *slog.Logger) api.Config {
	cfg := api.DefaultConfig()

	cfg.RunTimeout = time.Duration(envPositiveInt(logger, "STARCOVER_RUN_TIMEOUT", int(cfg.RunTimeout.Seconds()))) * time.Second
	cfg.MaxBodyBytes = int64(envPositiveInt(logger, "STARCOVER_MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.MaxRunsPerClient = envPositiveInt(logger, "STARCOVER_MAX_RUNS_PER_CLIENT", cfg.MaxRunsPerClient)
	cfg.MaxRuns = envPositiveInt(logger, "STARCOVER_MAX_RUNS", cfg.MaxRuns)
	cfg.TrustProxy = envBool(logger, "STARCOVER_TRUST_PROXY", cfg.TrustProxy)
	cfg.AllowRemoteTLE = envBool(logger, "STARCOVER_ALLOW_REMOTE_TLE", cfg.AllowRemoteTLE)

	logger.Info("server config",
		"run_timeout_seconds", cfg.RunTimeout.Seconds(),
		"max_body_bytes", cfg.MaxBodyBytes,
		"max_runs_per_client", cfg.MaxRunsPerClient,
		"max_runs", cfg.MaxRuns,
		"trust_proxy", cfg.TrustProxy,
		"allow_remote_tle", cfg.AllowRemoteTLE,
	)

	return cfg
}
