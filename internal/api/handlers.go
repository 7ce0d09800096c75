package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/report"
	"github.com/star/starcover/internal/runner"
	"github.com/star/starcover/internal/scenario"
	"github.com/star/starcover/internal/store"
)

const maxListLimit = 500

type coverageResponse struct {
	Run       store.Run              `json:"run"`
	MaxGap    *maxGapResponse        `json:"max_gap,omitempty"`
	Failures  []coverage.PairFailure `json:"failures"`
	Intervals []report.Row           `json:"intervals"`
}

type maxGapResponse struct {
	RunID       string      `json:"run_id,omitempty"`
	DurationMs  int64       `json:"duration_ms"`
	DurationMin float64     `json:"duration_min"`
	Found       bool        `json:"found"`
	Gap         *report.Row `json:"gap,omitempty"`
}

func newMaxGapResponse(runID string, stat coverage.GapStat) *maxGapResponse {
	resp := &maxGapResponse{
		RunID:       runID,
		DurationMs:  stat.Duration,
		DurationMin: stat.Minutes(),
		Found:       stat.Found,
	}
	if stat.Found {
		row := report.Rows([]coverage.Interval{stat.Gap}, report.Options{})[0]
		resp.Gap = &row
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "starcover",
		"endpoints": []string{
			"POST /api/v1/coverage",
			"GET /api/v1/runs",
			"GET /api/v1/runs/{id}",
			"GET /api/v1/runs/{id}/maxgap",
			"GET /api/v1/runs/{id}/summary",
		},
	})
}

// scenarioFormat maps a request media type to a scenario encoding. JSON is the default.
func scenarioFormat(contentType string) (scenario.Format, error) {
	if contentType == "" {
		return scenario.JSON, nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("invalid Content-Type: %w", err)
	}
	switch mt {
	case "application/json":
		return scenario.JSON, nil
	case "application/yaml", "application/x-yaml", "text/yaml":
		return scenario.YAML, nil
	case "application/toml":
		return scenario.TOML, nil
	default:
		return "", fmt.Errorf("unsupported Content-Type %q", mt)
	}
}

// viewFromQuery reads primary, min_contacts and gaps. def supplies defaults.
func viewFromQuery(r *http.Request, def runner.View) (runner.View, error) {
	q := r.URL.Query()
	v := def
	if s := q.Get("primary"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return v, fmt.Errorf("invalid primary %q", s)
		}
		v.Primary = n
	}
	if s := q.Get("min_contacts"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return v, fmt.Errorf("invalid min_contacts %q", s)
		}
		v.MinContacts = n
	}
	if s := q.Get("gaps"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return v, fmt.Errorf("invalid gaps %q", s)
		}
		v.GapsOnly = b
	}
	return v, nil
}

func outputOptions(r *http.Request, def report.Format) (report.Format, report.Options, error) {
	format := def
	if s := r.URL.Query().Get("format"); s != "" {
		f, err := report.ParseFormat(s)
		if err != nil {
			return "", report.Options{}, err
		}
		format = f
	}
	var opts report.Options
	if s := r.URL.Query().Get("minutes"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return "", report.Options{}, fmt.Errorf("invalid minutes %q", s)
		}
		opts.IncludeMinutes = b
	}
	return format, opts, nil
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	client := clientIP(r, s.cfg.TrustProxy)
	if !s.limiter.acquire(client) {
		s.logger.Warn("coverage run rejected", "remote_ip", client, "active", s.limiter.active(client))
		writeError(w, http.StatusTooManyRequests, "too many concurrent coverage runs")
		return
	}
	defer s.limiter.release(client)

	scFormat, err := scenarioFormat(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	format, opts, err := outputOptions(r, report.JSON)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("scenario exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	f, err := scenario.Decode(body, scFormat)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.DevicesFile != "" || f.SatellitesFile != "" {
		writeError(w, http.StatusBadRequest, "devices_file and satellites_file are not accepted over HTTP")
		return
	}
	if f.SatellitesURL != "" && !s.cfg.AllowRemoteTLE {
		writeError(w, http.StatusBadRequest, "satellites_url is disabled on this server")
		return
	}
	view, err := viewFromQuery(r, runner.View{MinContacts: f.MinContacts})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RunTimeout)
	defer cancel()

	_, res, err := s.runner.Run(ctx, f, "")
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}

	intervals, err := view.Select(res)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.store.Save(r.Context(), res)
	if err != nil {
		s.logger.Error("failed to save run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save run")
		return
	}

	if format != report.JSON {
		w.Header().Set("X-Run-ID", run.ID)
		s.writeIntervals(w, format, intervals, opts)
		return
	}

	resp := coverageResponse{
		Run:       run,
		Failures:  res.Failures,
		Intervals: report.Rows(intervals, opts),
	}
	if resp.Failures == nil {
		resp.Failures = []coverage.PairFailure{}
	}
	if stat, err := res.MaxGap(); err == nil {
		resp.MaxGap = newMaxGapResponse("", stat)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *coverage.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "coverage run exceeded "+s.cfg.RunTimeout.String())
	case errors.Is(err, context.Canceled):
		s.logger.Info("coverage run abandoned by client", "remote_ip", clientIP(r, s.cfg.TrustProxy))
	default:
		s.logger.Error("coverage run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "coverage run failed")
	}
}

func (s *Server) writeIntervals(w http.ResponseWriter, format report.Format, intervals []coverage.Interval, opts report.Options) {
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := report.Write(w, format, intervals, opts); err != nil {
		s.logger.Warn("failed to write intervals", "format", string(format), "error", err)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
			return
		}
		limit = n
	}
	runs, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// loadRun fetches the run named in the path, writing the error response itself.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (store.Run, *coverage.Result, bool) {
	run, res, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return store.Run{}, nil, false
	}
	if err != nil {
		s.logger.Error("failed to load run", "id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return store.Run{}, nil, false
	}
	return run, res, true
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	format, opts, err := outputOptions(r, report.CSV)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := viewFromQuery(r, runner.View{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, res, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	intervals, err := view.Select(res)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("X-Run-ID", run.ID)
	s.writeIntervals(w, format, intervals, opts)
}

func (s *Server) handleMaxGap(w http.ResponseWriter, r *http.Request) {
	view, err := viewFromQuery(r, runner.View{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, res, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	if _, err := (runner.View{Primary: view.Primary}).Select(res); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var stat coverage.GapStat
	if view.Primary != 0 {
		stat, err = res.PrimaryMaxGap(view.Primary)
	} else {
		stat, err = res.MaxGap()
	}
	if errors.Is(err, coverage.ErrNoIntervals) {
		writeError(w, http.StatusUnprocessableEntity, "run has no intervals to measure")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newMaxGapResponse(run.ID, stat))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	run, res, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":       run,
		"summaries": coverage.Summarize(res),
	})
}
