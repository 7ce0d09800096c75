// Package propagation wraps go-satellite's SGP4 implementation for a single
// satellite and returns positions in the frames the visibility oracle needs.
package propagation

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/starcover/internal/transform"
)

// go-satellite's Propagate takes the Satellite by value, so SGP4 error codes are
// not visible after initialization. Failures are detected from the output instead.

// SGP4Propagator propagates one satellite. It is safe for concurrent use.
type SGP4Propagator struct {
	sat     satellite.Satellite
	noradID int
}

// NewSGP4Propagator initializes SGP4 from a TLE. The lines are checked first
// because go-satellite calls log.Fatal on malformed input.
func NewSGP4Propagator(line1, line2 string, noradID int) (*SGP4Propagator, error) {
	if err := validateTLELines(line1, line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", noradID, err)
	}

	sat := satellite.TLEToSat(strings.TrimSpace(line1), strings.TrimSpace(line2), satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", noradID, sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat, noradID: noradID}, nil
}

func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// NORADID returns the catalog number the propagator was built for.
func (p *SGP4Propagator) NORADID() int {
	return p.noradID
}

// PropagateAt returns the TEME state (km, km/s) at t. The library resolves whole
// seconds only; sub-second parts of t are truncated.
func (p *SGP4Propagator) PropagateAt(t time.Time) (transform.PositionTEME, error) {
	t = t.UTC()
	pos, vel := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	teme := transform.PositionTEME{
		Pos: r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z},
		Vel: r3.Vec{X: vel.X, Y: vel.Y, Z: vel.Z},
	}
	for _, v := range []float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return transform.PositionTEME{}, fmt.Errorf("sgp4 propagation failed for NORAD %d at %s: output is NaN/Inf", p.noradID, t.Format(time.RFC3339))
		}
	}
	// Decayed or diverged orbits land outside the plausible shell.
	if mag := r3.Norm(teme.Pos); mag < 6200.0 || mag > 50000.0 {
		return transform.PositionTEME{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", p.noradID, mag)
	}
	return teme, nil
}

// ECEFAt returns the ECEF state (m, m/s) at t.
func (p *SGP4Propagator) ECEFAt(t time.Time) (transform.PositionECEF, error) {
	teme, err := p.PropagateAt(t)
	if err != nil {
		return transform.PositionECEF{}, err
	}
	truncated := t.UTC().Truncate(time.Second)
	return transform.TEMEToECEF(teme, truncated), nil
}
