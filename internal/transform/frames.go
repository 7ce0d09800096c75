// Package transform converts SGP4 output into the frames needed for visibility
// checks: TEME to ECEF by a GMST-only rotation (polar motion and the equation of
// the equinoxes are ignored, tens of meters at most), and ECEF to topocentric
// look angles for a ground observer.
package transform

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// PositionTEME is a state vector in the TEME frame (km, km/s).
type PositionTEME struct {
	Pos r3.Vec
	Vel r3.Vec
}

// PositionECEF is a state vector in the ECEF frame (m, m/s).
type PositionECEF struct {
	Pos r3.Vec
	Vel r3.Vec
}

var zAxis = r3.Vec{Z: 1}

// TEMEToECEF transforms a TEME state to ECEF at the given time.
func TEMEToECEF(teme PositionTEME, t time.Time) PositionECEF {
	return TEMEToECEFWithGMST(teme, GMST(t))
}

// TEMEToECEFWithGMST rotates by -gmst about Z, removes the Earth-rotation term from
// the velocity (v_ecef = R3(θ)v_teme - ω×r_ecef) and converts km to m.
func TEMEToECEFWithGMST(teme PositionTEME, gmst float64) PositionECEF {
	pos := r3.Rotate(teme.Pos, -gmst, zAxis)
	vel := r3.Rotate(teme.Vel, -gmst, zAxis)
	vel = r3.Sub(vel, r3.Cross(r3.Scale(OmegaEarth, zAxis), pos))

	return PositionECEF{
		Pos: r3.Scale(1000.0, pos),
		Vel: r3.Scale(1000.0, vel),
	}
}

// ValidateECEF reports whether pos (meters) is finite and between 6200 km and
// 50000 km from the geocenter.
func ValidateECEF(pos PositionECEF) bool {
	for _, v := range []float64{pos.Pos.X, pos.Pos.Y, pos.Pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	mag := r3.Norm(pos.Pos)
	return mag >= 6200e3 && mag <= 50000e3
}
