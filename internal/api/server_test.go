package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/star/starcover/internal/auth"
	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/scenario"
	"github.com/star/starcover/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

const scenarioJSON = `{
  "window_start": "2024-04-10T00:00:00Z",
  "window_end": "2024-04-10T00:00:00.150Z",
  "devices": [{"id": 1, "name": "madrid", "lat": 40.4, "lon": -3.7, "alt": 650}],
  "satellites": [{"name": "ISS", "line1": "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005", "line2": "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"}]
}`

// fakeRunner returns a fixed device timeline: gap, one contact, two contacts.
type fakeRunner struct {
	err   error
	block chan struct{}
	// noGaps drops the gap interval as a run without IncludeGaps would.
	noGaps bool
}

func (f *fakeRunner) Run(ctx context.Context, sf scenario.File, baseDir string) (*scenario.Scenario, *coverage.Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	w, err := sf.Window()
	if err != nil {
		return nil, nil, err
	}
	base := w.StartMs()
	timeline := []coverage.Interval{
		{Start: base, End: base + 50, From: coverage.NewAssetSet(1)},
		coverage.NewInterval(base+50, base+100, 1, 10),
		{Start: base + 100, End: base + 150, From: coverage.NewAssetSet(1), To: coverage.NewAssetSet(10, 20)},
	}
	if f.noGaps {
		timeline = timeline[1:]
	}
	return nil, &coverage.Result{
		POV:         coverage.DevicePOV,
		Mode:        coverage.SweepTagged,
		IncludeGaps: !f.noGaps,
		Window:      w,
		Primaries:   []int{1},
		ByPrimary:   map[int][]coverage.Interval{1: timeline},
		All:         timeline,
		Failures:    []coverage.PairFailure{{Primary: 1, Counterpart: 30, Err: errors.New("oracle timeout")}},
	}, nil
}

func newTestServer(t *testing.T, r Runner, mutate func(*Config)) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig()
	cfg.RunTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	return NewServer(cfg, testLogger(), auth.Config{}, r, st), st
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.HTTPServer().Handler.ServeHTTP(w, req)
	return w
}

func postScenario(t *testing.T, s *Server, query, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/coverage"+query, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return do(t, s, req)
}

func TestCoverageAndRuns(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{}, nil)

	w := postScenario(t, s, "", "application/json", scenarioJSON)
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Run    store.Run `json:"run"`
		MaxGap struct {
			DurationMs int64 `json:"duration_ms"`
			Found      bool  `json:"found"`
		} `json:"max_gap"`
		Failures  []map[string]any `json:"failures"`
		Intervals []map[string]any `json:"intervals"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Run.ID == "" || len(resp.Intervals) != 3 {
		t.Fatalf("response = %+v", resp)
	}
	if !resp.MaxGap.Found || resp.MaxGap.DurationMs != 50 {
		t.Errorf("max_gap = %+v, want found 50ms", resp.MaxGap)
	}
	if len(resp.Failures) != 1 || resp.Failures[0]["error"] != "oracle timeout" {
		t.Errorf("failures = %v", resp.Failures)
	}
	id := resp.Run.ID

	t.Run("list", func(t *testing.T) {
		w := do(t, s, httptest.NewRequest("GET", "/api/v1/runs?limit=5", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var list struct {
			Runs []store.Run `json:"runs"`
		}
		json.NewDecoder(w.Body).Decode(&list)
		if len(list.Runs) != 1 || list.Runs[0].ID != id || list.Runs[0].Failures != 1 {
			t.Errorf("runs = %+v", list.Runs)
		}
	})

	t.Run("get csv", func(t *testing.T) {
		w := do(t, s, httptest.NewRequest("GET", "/api/v1/runs/"+id+"?min_contacts=1", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
			t.Errorf("Content-Type = %q", ct)
		}
		records, err := csv.NewReader(w.Body).ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 3 {
			t.Fatalf("got %d records, want header + 2", len(records))
		}
		if records[2][3] != "10;20" {
			t.Errorf("to_assets = %q, want 10;20", records[2][3])
		}
	})

	t.Run("get gaps json", func(t *testing.T) {
		w := do(t, s, httptest.NewRequest("GET", "/api/v1/runs/"+id+"?gaps=true&format=json&minutes=true", nil))
		var rows []map[string]any
		if err := json.NewDecoder(w.Body).Decode(&rows); err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 || rows[0]["duration_ms"] != float64(50) || rows[0]["duration_min"] == nil {
			t.Errorf("rows = %v", rows)
		}
	})

	t.Run("maxgap", func(t *testing.T) {
		w := do(t, s, httptest.NewRequest("GET", "/api/v1/runs/"+id+"/maxgap", nil))
		var mg maxGapResponse
		if err := json.NewDecoder(w.Body).Decode(&mg); err != nil {
			t.Fatal(err)
		}
		if mg.RunID != id || mg.DurationMs != 50 || !mg.Found || mg.Gap == nil || len(mg.Gap.ToAssets) != 0 {
			t.Errorf("maxgap = %+v", mg)
		}
	})

	t.Run("summary", func(t *testing.T) {
		w := do(t, s, httptest.NewRequest("GET", "/api/v1/runs/"+id+"/summary", nil))
		var body struct {
			Summaries []coverage.Summary `json:"summaries"`
		}
		json.NewDecoder(w.Body).Decode(&body)
		if len(body.Summaries) != 1 || body.Summaries[0].CoveredMs != 100 {
			t.Errorf("summaries = %+v", body.Summaries)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		w := do(t, s, httptest.NewRequest("GET", "/api/v1/runs/nope/maxgap", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("unknown primary", func(t *testing.T) {
		for _, path := range []string{"/api/v1/runs/" + id + "?primary=9", "/api/v1/runs/" + id + "/maxgap?primary=9"} {
			w := do(t, s, httptest.NewRequest("GET", path, nil))
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", path, w.Code)
			}
		}
	})
}

func TestMaxGapWithoutGapIntervals(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{noGaps: true}, nil)

	w := postScenario(t, s, "", "application/json", scenarioJSON)
	if w.Code != http.StatusOK {
		t.Fatalf("POST status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Run    store.Run      `json:"run"`
		MaxGap maxGapResponse `json:"max_gap"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.MaxGap.Found || resp.MaxGap.DurationMs != 50 {
		t.Errorf("coverage max_gap = %+v, want found 50ms", resp.MaxGap)
	}

	for _, query := range []string{"", "?primary=1"} {
		w := do(t, s, httptest.NewRequest("GET", "/api/v1/runs/"+resp.Run.ID+"/maxgap"+query, nil))
		var mg maxGapResponse
		if err := json.NewDecoder(w.Body).Decode(&mg); err != nil {
			t.Fatal(err)
		}
		if w.Code != http.StatusOK || !mg.Found || mg.DurationMs != 50 {
			t.Errorf("maxgap%s = %d %+v, want found 50ms", query, w.Code, mg)
		}
	}
}

func TestCoverageRejectedViewIsNotSaved(t *testing.T) {
	s, st := newTestServer(t, &fakeRunner{}, nil)

	w := postScenario(t, s, "?primary=9", "application/json", scenarioJSON)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	runs, err := st.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("stored %d runs for a rejected request", len(runs))
	}
}

func TestCoverageFormats(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{}, nil)

	yamlBody := "window_start: 2024-04-10T00:00:00Z\nwindow_end: 2024-04-10T01:00:00Z\n" +
		"devices: [{id: 1, name: madrid, lat: 40.4, lon: -3.7, alt: 650}]\n" +
		"satellites_url: https://example.invalid/tle\n"

	w := postScenario(t, s, "?format=csv", "application/yaml", yamlBody)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "satellites_url") {
		t.Errorf("remote TLE: status = %d body = %s", w.Code, w.Body.String())
	}

	w = postScenario(t, s, "?format=msgpack", "", scenarioJSON)
	if w.Code != http.StatusOK {
		t.Fatalf("msgpack status = %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Run-ID") == "" || w.Header().Get("Content-Type") != "application/x-msgpack" {
		t.Errorf("headers = %v", w.Header())
	}
}

func TestCoverageErrors(t *testing.T) {
	tests := []struct {
		name        string
		runner      *fakeRunner
		contentType string
		query       string
		body        string
		wantCode    int
	}{
		{name: "invalid json", runner: &fakeRunner{}, body: "{", wantCode: http.StatusBadRequest},
		{name: "missing window", runner: &fakeRunner{}, body: `{"devices":[{"id":1}],"satellites_url":"x"}`, wantCode: http.StatusBadRequest},
		{name: "file sources", runner: &fakeRunner{}, body: strings.Replace(scenarioJSON, `"devices"`, `"devices_file": "/etc/passwd", "devices"`, 1), wantCode: http.StatusBadRequest},
		{name: "bad media type", runner: &fakeRunner{}, contentType: "text/plain", body: scenarioJSON, wantCode: http.StatusUnsupportedMediaType},
		{name: "bad format", runner: &fakeRunner{}, query: "?format=xml", body: scenarioJSON, wantCode: http.StatusBadRequest},
		{
			name:     "config error",
			runner:   &fakeRunner{err: &coverage.ConfigError{Population: "satellite", Err: coverage.ErrEmptyPopulation}},
			body:     scenarioJSON,
			wantCode: http.StatusBadRequest,
		},
		{name: "internal", runner: &fakeRunner{err: errors.New("boom")}, body: scenarioJSON, wantCode: http.StatusInternalServerError},
		{name: "timeout", runner: &fakeRunner{block: make(chan struct{})}, body: scenarioJSON, wantCode: http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.runner, func(c *Config) { c.RunTimeout = 20 * time.Millisecond })
			w := postScenario(t, s, tt.query, tt.contentType, tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			var resp map[string]any
			json.NewDecoder(w.Body).Decode(&resp)
			if resp["error"] == nil {
				t.Error("expected error field in response")
			}
		})
	}
}

func TestCoverageBodyLimit(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{}, func(c *Config) { c.MaxBodyBytes = 64 })
	w := postScenario(t, s, "", "application/json", scenarioJSON)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestCoverageRateLimit(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{}, func(c *Config) { c.MaxRunsPerClient = 1 })

	var logs bytes.Buffer
	s.logger = slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if !s.limiter.acquire("192.0.2.1") {
		t.Fatal("first acquire failed")
	}
	req := httptest.NewRequest("POST", "/api/v1/coverage", bytes.NewBufferString(scenarioJSON))
	req.RemoteAddr = "192.0.2.1:4242"
	if w := do(t, s, req); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	var rejected struct {
		Msg      string `json:"msg"`
		RemoteIP string `json:"remote_ip"`
		Active   int    `json:"active"`
	}
	if err := json.NewDecoder(&logs).Decode(&rejected); err != nil {
		t.Fatalf("decode rejection log: %v", err)
	}
	if rejected.Msg != "coverage run rejected" || rejected.RemoteIP != "192.0.2.1" || rejected.Active != 1 {
		t.Errorf("rejection log = %+v", rejected)
	}

	other := httptest.NewRequest("POST", "/api/v1/coverage", bytes.NewBufferString(scenarioJSON))
	other.RemoteAddr = "192.0.2.2:4242"
	if w := do(t, s, other); w.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Code)
	}
	if n := s.limiter.active("192.0.2.2"); n != 0 {
		t.Errorf("slot not released: %d active", n)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, st := newTestServer(t, &fakeRunner{}, nil)

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/"} {
		if w := do(t, s, httptest.NewRequest("GET", path, nil)); w.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, w.Code)
		}
	}

	st.Close()
	if w := do(t, s, httptest.NewRequest("GET", "/readyz", nil)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with closed store = %d, want 503", w.Code)
	}
}

func TestRunLimiter(t *testing.T) {
	l := newRunLimiter(2, 3)
	if !l.acquire("a") || !l.acquire("a") {
		t.Fatal("client a should get two slots")
	}
	if l.acquire("a") {
		t.Error("client a exceeded its limit")
	}
	if !l.acquire("b") {
		t.Fatal("client b should get a slot")
	}
	if l.acquire("c") {
		t.Error("global limit exceeded")
	}
	l.release("a")
	if !l.acquire("c") {
		t.Error("released slot not reusable")
	}
	l.release("a")
	if n := l.active("a"); n != 0 {
		t.Errorf("active(a) = %d, want 0", n)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		xff        string
		xri        string
		remoteAddr string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "ipv6", remoteAddr: "[::1]:12345", want: "::1"},
		{name: "no port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
		{name: "untrusted xff ignored", xff: "1.2.3.4", remoteAddr: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "xff first entry", trust: true, xff: "1.2.3.4, 10.0.0.1", remoteAddr: "10.0.0.3:1234", want: "1.2.3.4"},
		{name: "x-real-ip", trust: true, xri: "5.6.7.8", remoteAddr: "10.0.0.1:1234", want: "5.6.7.8"},
		{name: "xff before x-real-ip", trust: true, xff: "1.2.3.4", xri: "5.6.7.8", remoteAddr: "10.0.0.1:1234", want: "1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: http.Header{}}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := clientIP(r, tt.trust); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
