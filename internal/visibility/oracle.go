package visibility

import (
	"context"
	"fmt"
	"time"

	"github.com/star/starcover/internal/asset"
	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/propagation"
	"github.com/star/starcover/internal/transform"
)

// Crossings are refined to whole seconds, the resolution of the SGP4 library.
const refineResolution = time.Second

// Pass is one interval during which a satellite stays at or above the elevation
// threshold of a device.
type Pass struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	MaxElevationDeg float64   `json:"max_elevation_deg"`
	MaxElevationAt  time.Time `json:"max_elevation_at"`
}

// Duration returns End - Start.
func (p Pass) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// SGP4Oracle implements coverage.Oracle over an Environment.
//
// The window is sampled every step; a change of the above-threshold state between
// two samples is bisected to one second. Passes shorter than step that start and
// end between two samples are not detected.
type SGP4Oracle struct {
	env *Environment
}

var _ coverage.Oracle = (*SGP4Oracle)(nil)

// NewSGP4Oracle returns an oracle backed by env.
func NewSGP4Oracle(env *Environment) *SGP4Oracle {
	return &SGP4Oracle{env: env}
}

// ComputeAccess returns the passes of satellite over device as raw intervals.
func (o *SGP4Oracle) ComputeAccess(ctx context.Context, device, satellite asset.Asset, window coverage.Window, step time.Duration, minElevationDeg float64) ([]coverage.Interval, error) {
	passes, err := o.Passes(ctx, device, satellite, window, step, minElevationDeg)
	if err != nil {
		return nil, err
	}
	out := make([]coverage.Interval, 0, len(passes))
	for _, p := range passes {
		start, end := p.Start.UnixMilli(), p.End.UnixMilli()
		if end <= start {
			continue
		}
		out = append(out, coverage.NewInterval(start, end, device.ID, satellite.ID))
	}
	return out, nil
}

// Passes scans window for passes of satellite over device. The device's own
// MinElevationDeg, when set, replaces minElevationDeg.
func (o *SGP4Oracle) Passes(ctx context.Context, device, satellite asset.Asset, window coverage.Window, step time.Duration, minElevationDeg float64) ([]Pass, error) {
	if device.Kind != asset.Device || satellite.Kind != asset.Satellite {
		return nil, fmt.Errorf("visibility needs a device and a satellite, got %s and %s", device.Kind, satellite.Kind)
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if step <= 0 {
		step = coverage.DefaultStep
	}
	threshold := minElevationDeg
	if device.MinElevationDeg != nil {
		threshold = *device.MinElevationDeg
	}

	obs, err := o.env.Observer(device.ID)
	if err != nil {
		return nil, err
	}
	prop, err := o.env.Propagator(satellite.ID)
	if err != nil {
		return nil, err
	}

	s := scanner{prop: prop, obs: obs, threshold: threshold}
	return s.scan(ctx, window.Start.UTC(), window.End.UTC(), step)
}

type scanner struct {
	prop      *propagation.SGP4Propagator
	obs       transform.ObserverPosition
	threshold float64
}

func (s *scanner) elevation(t time.Time) (float64, error) {
	ecef, err := s.prop.ECEFAt(t)
	if err != nil {
		return 0, err
	}
	return transform.ECEFToLookAngles(s.obs, ecef.Pos).ElevationDeg, nil
}

func (s *scanner) scan(ctx context.Context, start, end time.Time, step time.Duration) ([]Pass, error) {
	var (
		passes []Pass
		open   *Pass
	)
	observe := func(t time.Time, el float64) {
		if open != nil && el > open.MaxElevationDeg {
			open.MaxElevationDeg = el
			open.MaxElevationAt = t
		}
	}

	el, err := s.elevation(start)
	if err != nil {
		return nil, err
	}
	prevT, prevAbove := start, el >= s.threshold
	if prevAbove {
		open = &Pass{Start: start, MaxElevationDeg: el, MaxElevationAt: start}
	}

	for t := start.Add(step); prevT.Before(end); t = t.Add(step) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.After(end) {
			t = end
		}

		el, err := s.elevation(t)
		if err != nil {
			return nil, err
		}
		above := el >= s.threshold

		if above != prevAbove {
			cross, crossEl, err := s.refine(prevT, t, above)
			if err != nil {
				return nil, err
			}
			if above {
				open = &Pass{Start: cross, MaxElevationDeg: crossEl, MaxElevationAt: cross}
			} else {
				open.End = cross
				passes = append(passes, *open)
				open = nil
			}
		}
		observe(t, el)
		prevT, prevAbove = t, above
	}

	if open != nil {
		open.End = end
		passes = append(passes, *open)
	}
	return passes, nil
}

// refine bisects (lo, hi] for the first instant whose above-threshold state equals
// want. It returns that instant and its elevation.
func (s *scanner) refine(lo, hi time.Time, want bool) (time.Time, float64, error) {
	hiEl, err := s.elevation(hi)
	if err != nil {
		return time.Time{}, 0, err
	}
	for hi.Sub(lo) > refineResolution {
		mid := lo.Add((hi.Sub(lo) / 2).Truncate(refineResolution))
		if !mid.After(lo) {
			break
		}
		el, err := s.elevation(mid)
		if err != nil {
			return time.Time{}, 0, err
		}
		if (el >= s.threshold) == want {
			hi, hiEl = mid, el
		} else {
			lo = mid
		}
	}
	return hi, hiEl, nil
}
