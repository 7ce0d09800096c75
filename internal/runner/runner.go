// Package runner ties scenario resolution, SGP4 visibility and the coverage
// analyzer together for the CLI and the HTTP API.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/star/starcover/internal/asset"
	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/metrics"
	"github.com/star/starcover/internal/scenario"
	"github.com/star/starcover/internal/visibility"
)

// Runner executes scenarios.
type Runner struct {
	logger *slog.Logger
}

// New returns a Runner logging to logger.
func New(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Resolve loads the populations of f. Problems with the document itself come
// back as a *coverage.ConfigError for the "scenario" setting.
func (r *Runner) Resolve(ctx context.Context, f scenario.File, baseDir string) (*scenario.Scenario, error) {
	sc, err := f.Resolve(ctx, baseDir, r.logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &coverage.ConfigError{Population: "scenario", Err: err}
	}
	return sc, nil
}

// Analyze computes the coverage timelines of a resolved scenario.
func (r *Runner) Analyze(ctx context.Context, sc *scenario.Scenario) (*coverage.Result, error) {
	env := visibility.NewEnvironment(sc.Devices, sc.Satellites, r.logger)
	analyzer, err := coverage.NewAnalyzer(visibility.NewSGP4Oracle(env), sc.AnalyzerConfig(), r.logger)
	if err != nil {
		metrics.RecordRun(sc.POV.String(), "error")
		return nil, &coverage.ConfigError{Population: "scenario", Err: err}
	}

	res, err := analyzer.ComputeCoverage(ctx, sc.Primaries(), sc.Counterparts())
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "canceled"
		}
		metrics.RecordRun(sc.POV.String(), outcome)
		return nil, err
	}

	outcome := "ok"
	if len(res.Failures) > 0 {
		outcome = "partial"
	}
	metrics.RecordRun(sc.POV.String(), outcome)
	r.logger.Debug("run finished", "outcome", outcome)
	return res, nil
}

// Run resolves f and analyzes it.
func (r *Runner) Run(ctx context.Context, f scenario.File, baseDir string) (*scenario.Scenario, *coverage.Result, error) {
	sc, err := r.Resolve(ctx, f, baseDir)
	if err != nil {
		return nil, nil, err
	}
	res, err := r.Analyze(ctx, sc)
	if err != nil {
		return nil, nil, err
	}
	return sc, res, nil
}

// Passes lists the passes of one satellite over one device within the scenario window.
func (r *Runner) Passes(ctx context.Context, sc *scenario.Scenario, deviceID, satelliteID int) ([]visibility.Pass, error) {
	device, ok := asset.Find(sc.Devices, deviceID)
	if !ok {
		return nil, fmt.Errorf("device %d: %w", deviceID, visibility.ErrUnknownAsset)
	}
	sat, ok := asset.Find(sc.Satellites, satelliteID)
	if !ok {
		return nil, fmt.Errorf("satellite %d: %w", satelliteID, visibility.ErrUnknownAsset)
	}
	env := visibility.NewEnvironment([]asset.Asset{device}, []asset.Asset{sat}, r.logger)
	return visibility.NewSGP4Oracle(env).Passes(ctx, device, sat, sc.Window, sc.Step, sc.ElevationDeg)
}

// View selects part of a result for output.
type View struct {
	// Primary restricts output to one primary's timeline. Zero means all.
	Primary int
	// MinContacts keeps only coverage intervals with at least this many contacts.
	MinContacts int
	// GapsOnly keeps only gap intervals. It wins over MinContacts.
	GapsOnly bool
}

// Select applies v to res.
func (v View) Select(res *coverage.Result) ([]coverage.Interval, error) {
	if v.MinContacts < 0 {
		return nil, fmt.Errorf("min_contacts must be >= 0, got %d", v.MinContacts)
	}
	intervals := res.All
	if v.Primary != 0 {
		var ok bool
		if intervals, ok = res.ByPrimary[v.Primary]; !ok {
			return nil, fmt.Errorf("primary %d: %w", v.Primary, visibility.ErrUnknownAsset)
		}
	}
	switch {
	case v.GapsOnly:
		return coverage.FilterGaps(intervals, res.POV), nil
	case v.MinContacts > 0:
		return coverage.FilterAtLeastN(intervals, res.POV, v.MinContacts), nil
	}
	return intervals, nil
}
