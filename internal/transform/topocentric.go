package transform

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// WGS-84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// ObserverPosition is a ground observer with its ECEF position precomputed so it
// can be reused across many satellite lookups.
type ObserverPosition struct {
	LatRad, LonRad, AltM float64
	ECEF                 r3.Vec // meters

	// Rows of the ECEF to SEZ rotation.
	south, east, zenith r3.Vec
}

// LookAngles holds azimuth (0 = North, clockwise), elevation and range.
type LookAngles struct {
	AzimuthDeg   float64
	ElevationDeg float64
	RangeKm      float64
}

// NewObserverPosition builds an observer from geodetic degrees and meters above the ellipsoid.
func NewObserverPosition(latDeg, lonDeg, altM float64) ObserverPosition {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	// Prime vertical radius of curvature.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return ObserverPosition{
		LatRad: lat,
		LonRad: lon,
		AltM:   altM,
		ECEF: r3.Vec{
			X: (n + altM) * cosLat * cosLon,
			Y: (n + altM) * cosLat * sinLon,
			Z: (n*(1-wgs84E2) + altM) * sinLat,
		},
		south:  r3.Vec{X: sinLat * cosLon, Y: sinLat * sinLon, Z: -cosLat},
		east:   r3.Vec{X: -sinLon, Y: cosLon},
		zenith: r3.Vec{X: cosLat * cosLon, Y: cosLat * sinLon, Z: sinLat},
	}
}

// ECEFToLookAngles computes look angles from obs to a satellite at sat (ECEF meters)
// using the SEZ topocentric frame (Vallado 4.4).
func ECEFToLookAngles(obs ObserverPosition, sat r3.Vec) LookAngles {
	rho := r3.Sub(sat, obs.ECEF)
	s := r3.Dot(obs.south, rho)
	e := r3.Dot(obs.east, rho)
	z := r3.Dot(obs.zenith, rho)
	rng := r3.Norm(rho)

	az := math.Atan2(e, -s)
	if az < 0 {
		az += 2 * math.Pi
	}
	return LookAngles{
		AzimuthDeg:   az * 180.0 / math.Pi,
		ElevationDeg: math.Asin(z/rng) * 180.0 / math.Pi,
		RangeKm:      rng / 1000.0,
	}
}
