package coverage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/star/starcover/internal/asset"
	"github.com/star/starcover/internal/metrics"
)

const (
	DefaultStep          = 60 * time.Second
	DefaultOracleTimeout = 30 * time.Second
)

// Oracle computes the raw visibility windows of one device/satellite pair. Results
// must be sorted, non-overlapping and inside window, with From={device.ID} and
// To={satellite.ID}.
type Oracle interface {
	ComputeAccess(ctx context.Context, device, satellite asset.Asset, window Window, step time.Duration, minElevationDeg float64) ([]Interval, error)
}

// Config holds the analysis parameters.
type Config struct {
	POV          POV
	IncludeGaps  bool
	Mode         SweepMode
	Window       Window
	Step         time.Duration
	ElevationDeg float64

	// Workers bounds the number of primaries processed at once. Zero means NumCPU.
	Workers int
	// OracleTimeout bounds each pair's oracle call. Zero means DefaultOracleTimeout.
	OracleTimeout time.Duration
}

// Result is the outcome of one ComputeCoverage call.
type Result struct {
	POV         POV
	Mode        SweepMode
	IncludeGaps bool
	Window      Window

	// Primaries lists primary ids in input order.
	Primaries []int
	ByPrimary map[int][]Interval
	// All is every combined interval, grouped by primary in Primaries order.
	All      []Interval
	Failures []PairFailure
	Elapsed  time.Duration
}

// MaxGap returns the longest coverage gap across all primaries. Runs without
// explicit gap intervals are measured on the uncovered time between their
// intervals, so the result does not depend on IncludeGaps.
func (r *Result) MaxGap() (GapStat, error) {
	if r.IncludeGaps {
		return MaxGap(r.All, r.POV, r.Window)
	}
	var filled []Interval
	for _, id := range r.Primaries {
		filled = append(filled, fillGaps(r.ByPrimary[id], NewAssetSet(id), r.Window, r.POV)...)
	}
	return MaxGap(filled, r.POV, r.Window)
}

// PrimaryMaxGap is MaxGap restricted to one primary's timeline.
func (r *Result) PrimaryMaxGap(primary int) (GapStat, error) {
	timeline, ok := r.ByPrimary[primary]
	if !ok {
		return GapStat{}, fmt.Errorf("primary %d: %w", primary, ErrNoIntervals)
	}
	if !r.IncludeGaps {
		timeline = fillGaps(timeline, NewAssetSet(primary), r.Window, r.POV)
	}
	return MaxGap(timeline, r.POV, r.Window)
}

// Intervals returns the timeline of one primary, or All when primary is zero.
func (r *Result) Intervals(primary int) []Interval {
	if primary == 0 {
		return r.All
	}
	return r.ByPrimary[primary]
}

// Analyzer runs the oracle over a population and combines the windows per primary.
type Analyzer struct {
	oracle Oracle
	cfg    Config
	logger *slog.Logger
}

// NewAnalyzer validates cfg and fills in defaults.
func NewAnalyzer(oracle Oracle, cfg Config, logger *slog.Logger) (*Analyzer, error) {
	if oracle == nil {
		return nil, errors.New("coverage: nil oracle")
	}
	if err := cfg.Window.Validate(); err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}
	if cfg.Step < 0 {
		return nil, fmt.Errorf("coverage: step must be positive, got %s", cfg.Step)
	}
	if cfg.Step == 0 {
		cfg.Step = DefaultStep
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultOracleTimeout
	}
	return &Analyzer{oracle: oracle, cfg: cfg, logger: logger}, nil
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

type primaryResult struct {
	combined []Interval
	failures []PairFailure
	err      error
}

// ComputeCoverage calls the oracle for every primary/counterpart pair and combines
// each primary's windows. Primaries run concurrently, bounded by Config.Workers;
// the oracle calls of one primary run in sequence, each under OracleTimeout.
//
// A failed or timed out pair is recorded in Result.Failures and treated as never
// visible. Empty populations or kinds that do not match the POV yield a
// *ConfigError and no result. Cancelling ctx aborts the run.
func (a *Analyzer) ComputeCoverage(ctx context.Context, primaries, counterparts []asset.Asset) (*Result, error) {
	if err := a.checkPopulations(primaries, counterparts); err != nil {
		return nil, err
	}

	begin := time.Now()
	results := make([]primaryResult, len(primaries))
	sem := make(chan struct{}, a.cfg.Workers)
	var wg sync.WaitGroup

	for i, p := range primaries {
		wg.Add(1)
		go func(idx int, primary asset.Asset) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			results[idx] = a.computePrimary(ctx, primary, counterparts)
		}(i, p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("coverage cancelled: %w", err)
	}

	res := &Result{
		POV:         a.cfg.POV,
		Mode:        a.cfg.Mode,
		IncludeGaps: a.cfg.IncludeGaps,
		Window:      a.cfg.Window,
		Primaries:   asset.IDs(primaries),
		ByPrimary:   make(map[int][]Interval, len(primaries)),
	}
	for i, p := range primaries {
		r := results[i]
		if r.err != nil {
			return nil, fmt.Errorf("combining %s: %w", p.Label(), r.err)
		}
		res.ByPrimary[p.ID] = r.combined
		res.All = append(res.All, r.combined...)
		res.Failures = append(res.Failures, r.failures...)
	}
	res.Elapsed = time.Since(begin)

	a.logger.Info("coverage computed",
		"pov", a.cfg.POV.String(),
		"primaries", len(primaries),
		"counterparts", len(counterparts),
		"intervals", len(res.All),
		"failures", len(res.Failures),
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	return res, nil
}

func (a *Analyzer) checkPopulations(primaries, counterparts []asset.Asset) error {
	pov := a.cfg.POV
	for _, pop := range []struct {
		kind   asset.Kind
		assets []asset.Asset
	}{
		{pov.PrimaryKind(), primaries},
		{pov.CounterpartKind(), counterparts},
	} {
		if len(pop.assets) == 0 {
			err := &ConfigError{Population: pop.kind.String(), Err: ErrEmptyPopulation}
			a.logger.Warn("coverage not computed", "population", pop.kind.String(), "error", err)
			return err
		}
		for _, as := range pop.assets {
			if as.Kind != pop.kind {
				return &ConfigError{
					Population: pop.kind.String(),
					Err:        fmt.Errorf("%w: %s is a %s under %s point of view", ErrPOVMismatch, as.Label(), as.Kind, pov),
				}
			}
		}
		if err := asset.ValidatePopulation(pop.assets, pop.kind); err != nil {
			return &ConfigError{Population: pop.kind.String(), Err: fmt.Errorf("%w: %w", ErrInvalidAsset, err)}
		}
	}
	return nil
}

func (a *Analyzer) computePrimary(ctx context.Context, primary asset.Asset, counterparts []asset.Asset) primaryResult {
	var (
		raw []Interval
		res primaryResult
	)
	for _, cp := range counterparts {
		if ctx.Err() != nil {
			return res
		}
		ivs, err := a.access(ctx, primary, cp)
		if err != nil {
			if ctx.Err() != nil {
				return res
			}
			reason := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "timeout"
			} else if errors.Is(err, ErrMalformedInterval) {
				reason = "malformed"
			}
			a.logger.Warn("oracle failure, pair treated as never visible",
				"primary", primary.ID,
				"counterpart", cp.ID,
				"reason", reason,
				"error", err,
			)
			metrics.IncPairFailures(reason)
			res.failures = append(res.failures, PairFailure{Primary: primary.ID, Counterpart: cp.ID, Err: err})
			continue
		}
		raw = append(raw, ivs...)
	}

	slices.SortStableFunc(raw, func(x, y Interval) int {
		return cmp.Compare(x.Start, y.Start)
	})

	begin := time.Now()
	combined, err := Combine(raw, CombineOptions{POV: a.cfg.POV, IncludeGaps: a.cfg.IncludeGaps, Mode: a.cfg.Mode})
	metrics.ObserveCombine(time.Since(begin))
	if err != nil {
		res.err = err
		return res
	}
	if a.cfg.IncludeGaps {
		primarySet := NewAssetSet(primary.ID)
		combined = frame(combined, primarySet, a.cfg.Window, a.cfg.POV)
	}
	res.combined = combined
	return res
}

// access runs one oracle call under the per-pair timeout and checks what it returned.
func (a *Analyzer) access(ctx context.Context, primary, counterpart asset.Asset) ([]Interval, error) {
	device, sat := a.cfg.POV.pair(primary, counterpart)

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.OracleTimeout)
	defer cancel()

	begin := time.Now()
	ivs, err := a.oracle.ComputeAccess(callCtx, device, sat, a.cfg.Window, a.cfg.Step, a.cfg.ElevationDeg)
	if err == nil && callCtx.Err() != nil {
		// The oracle ignored its deadline; its answer may be incomplete.
		err = callCtx.Err()
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordOracleCall(outcome, time.Since(begin))
	if err != nil {
		return nil, err
	}

	ws, we := a.cfg.Window.StartMs(), a.cfg.Window.EndMs()
	for i, iv := range ivs {
		if err := iv.ValidateRaw(); err != nil {
			return nil, fmt.Errorf("oracle interval %d: %w", i, err)
		}
		if !iv.From.Has(device.ID) || !iv.To.Has(sat.ID) {
			return nil, fmt.Errorf("oracle interval %d: %w: pair from=[%s] to=[%s], want %d/%d",
				i, ErrMalformedInterval, iv.From, iv.To, device.ID, sat.ID)
		}
		if iv.Start < ws || iv.End > we {
			return nil, fmt.Errorf("oracle interval %d: %w: %s outside window", i, ErrMalformedInterval, iv)
		}
		if i > 0 && iv.Start < ivs[i-1].End {
			return nil, fmt.Errorf("oracle interval %d: %w: overlaps previous", i, ErrMalformedInterval)
		}
	}
	return ivs, nil
}

// frame pads a gap-including timeline so it spans the whole window: a leading gap
// before the first segment, a trailing gap after the last, or one window-long gap
// when there are no segments at all. Zero-length segments are dropped.
func frame(combined []Interval, primary AssetSet, w Window, pov POV) []Interval {
	start, end := w.StartMs(), w.EndMs()
	out := make([]Interval, 0, len(combined)+2)
	for _, iv := range combined {
		if iv.Duration() > 0 {
			out = append(out, iv)
		}
	}
	if len(out) == 0 {
		return []Interval{pov.segment(start, end, primary, AssetSet{})}
	}
	if first := out[0].Start; first > start {
		out = slices.Insert(out, 0, pov.segment(start, first, primary, AssetSet{}))
	}
	if last := out[len(out)-1].End; last < end {
		out = append(out, pov.segment(last, end, primary, AssetSet{}))
	}
	return out
}
