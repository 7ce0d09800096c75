package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/star/starcover/internal/coverage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult() *coverage.Result {
	start := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	w := coverage.Window{Start: start, End: start.Add(150 * time.Millisecond)}
	base := w.StartMs()
	dev1 := []coverage.Interval{
		coverage.NewInterval(base, base+50, 1, 10),
		{Start: base + 50, End: base + 100, From: coverage.NewAssetSet(1), To: coverage.NewAssetSet(10, 20)},
		{Start: base + 100, End: base + 150, From: coverage.NewAssetSet(1)},
	}
	dev2 := []coverage.Interval{
		{Start: base, End: base + 150, From: coverage.NewAssetSet(2)},
	}
	return &coverage.Result{
		POV:         coverage.DevicePOV,
		Mode:        coverage.SweepMembership,
		IncludeGaps: true,
		Window:      w,
		Primaries:   []int{2, 1},
		ByPrimary:   map[int][]coverage.Interval{1: dev1, 2: dev2},
		All:         append(append([]coverage.Interval{}, dev2...), dev1...),
		Failures:    []coverage.PairFailure{{Primary: 2, Counterpart: 20, Err: errors.New("timeout")}},
		Elapsed:     1500 * time.Millisecond,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	want := sampleResult()

	run, err := s.Save(ctx, want)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if run.ID == "" || run.Intervals != 4 || run.Failures != 1 || run.Primaries != 2 {
		t.Errorf("saved run = %+v", run)
	}

	gotRun, got, err := s.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotRun.ID != run.ID || !gotRun.CreatedAt.Equal(run.CreatedAt) || gotRun.ElapsedMs != 1500 {
		t.Errorf("run = %+v, want %+v", gotRun, run)
	}
	if got.POV != want.POV || got.Mode != want.Mode || !got.IncludeGaps {
		t.Errorf("settings = %v/%v/%v", got.POV, got.Mode, got.IncludeGaps)
	}
	if !got.Window.Start.Equal(want.Window.Start) || !got.Window.End.Equal(want.Window.End) {
		t.Errorf("window = %+v, want %+v", got.Window, want.Window)
	}
	if len(got.Primaries) != 2 || got.Primaries[0] != 2 || got.Primaries[1] != 1 {
		t.Errorf("primaries = %v, want [2 1]", got.Primaries)
	}
	if len(got.All) != len(want.All) {
		t.Fatalf("All has %d intervals, want %d", len(got.All), len(want.All))
	}
	for i := range want.All {
		g, w := got.All[i], want.All[i]
		if g.Start != w.Start || g.End != w.End || !g.From.Equal(w.From) || !g.To.Equal(w.To) {
			t.Errorf("interval %d = %v, want %v", i, g, w)
		}
	}
	if len(got.Failures) != 1 || got.Failures[0].Counterpart != 20 || got.Failures[0].Err.Error() != "timeout" {
		t.Errorf("failures = %v", got.Failures)
	}

	stat, err := got.MaxGap()
	if err != nil || stat.Duration != 150 {
		t.Errorf("MaxGap after reload = %+v, %v", stat, err)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if runs, err := s.List(ctx, 10); err != nil || len(runs) != 0 {
		t.Fatalf("empty List = %v, %v", runs, err)
	}

	var ids []string
	for range 3 {
		run, err := s.Save(ctx, sampleResult())
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("order = %s, %s; want newest first", runs[0].ID, runs[1].ID)
	}
	if runs[0].Intervals != 4 || runs[0].Failures != 1 {
		t.Errorf("counts = %+v", runs[0])
	}
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
