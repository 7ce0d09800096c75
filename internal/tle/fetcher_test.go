package tle

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const (
	starlinkTLE = "STARLINK-1007\n1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995\n2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05\n"
	issTLE      = "ISS (ZARYA)\n1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005\n2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09\n"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestFetcherBodyLimit verifies oversized catalogs are rejected.
func TestFetcherBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		chunk := strings.Repeat("A", 1<<20)
		for i := 0; i < 52; i++ {
			if _, err := w.Write([]byte(chunk)); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	_, err := NewFetcher(server.URL, testLogger).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error for oversized response, got nil")
	}
	if !strings.Contains(err.Error(), "byte limit") {
		t.Errorf("expected body limit error, got: %v", err)
	}
}

func TestFetcherEntries(t *testing.T) {
	primary := serve(t, http.StatusOK, starlinkTLE)
	extra := serve(t, http.StatusOK, issTLE)

	entries, err := NewFetcher(primary.URL, testLogger, extra.URL).FetchEntries(context.Background())
	if err != nil {
		t.Fatalf("FetchEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].NORADID != 44713 || entries[1].NORADID != 25544 {
		t.Errorf("ids = %d, %d; want 44713, 25544", entries[0].NORADID, entries[1].NORADID)
	}
}

func TestFetcherPrimaryFailure(t *testing.T) {
	failing := serve(t, http.StatusInternalServerError, "")

	if _, err := NewFetcher(failing.URL, testLogger).Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
}

// TestFetcherExtraURLFailure verifies a failing extra source does not fail the fetch.
func TestFetcherExtraURLFailure(t *testing.T) {
	primary := serve(t, http.StatusOK, starlinkTLE)
	failing := serve(t, http.StatusInternalServerError, "")

	entries, err := NewFetcher(primary.URL, testLogger, failing.URL).FetchEntries(context.Background())
	if err != nil {
		t.Fatalf("primary fetch should succeed even when extra fails: %v", err)
	}
	if len(entries) != 1 || entries[0].NORADID != 44713 {
		t.Fatalf("entries = %+v, want only NORAD 44713", entries)
	}
}
