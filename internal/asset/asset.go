// Package asset defines the ground stations and satellites that take part in a
// coverage analysis.
//
// An Asset is a plain record. Which fields are meaningful depends on its Kind:
// devices carry a geodetic position, satellites carry a two-line element set.
package asset

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Kind distinguishes the two asset populations.
type Kind int

const (
	Device Kind = iota + 1
	Satellite
)

// String returns the lowercase population name.
func (k Kind) String() string {
	switch k {
	case Device:
		return "device"
	case Satellite:
		return "satellite"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Asset is a ground station or an orbiting object.
type Asset struct {
	ID   int
	Name string
	Kind Kind

	// Device position (degrees, meters above the WGS-84 ellipsoid).
	LatDeg float64
	LonDeg float64
	AltM   float64
	// MinElevationDeg overrides the scenario elevation threshold for this device.
	MinElevationDeg *float64

	// Satellite element set.
	Line1 string
	Line2 string
}

// NewDevice returns a ground station asset.
func NewDevice(id int, name string, latDeg, lonDeg, altM float64) Asset {
	return Asset{ID: id, Name: name, Kind: Device, LatDeg: latDeg, LonDeg: lonDeg, AltM: altM}
}

// NewSatellite returns an orbiting asset described by a TLE.
func NewSatellite(id int, name, line1, line2 string) Asset {
	return Asset{ID: id, Name: name, Kind: Satellite, Line1: line1, Line2: line2}
}

// Label returns "name (id)" or just the id when the asset is unnamed.
func (a Asset) Label() string {
	if a.Name == "" {
		return fmt.Sprintf("%s %d", a.Kind, a.ID)
	}
	return fmt.Sprintf("%s (%d)", a.Name, a.ID)
}

// Validate checks the fields required by the asset's kind.
func (a Asset) Validate() error {
	if a.ID <= 0 {
		return fmt.Errorf("%s %q: id must be positive, got %d", a.Kind, a.Name, a.ID)
	}
	switch a.Kind {
	case Device:
		if math.IsNaN(a.LatDeg) || a.LatDeg < -90 || a.LatDeg > 90 {
			return fmt.Errorf("device %d: latitude %v out of range", a.ID, a.LatDeg)
		}
		if math.IsNaN(a.LonDeg) || a.LonDeg < -180 || a.LonDeg > 180 {
			return fmt.Errorf("device %d: longitude %v out of range", a.ID, a.LonDeg)
		}
		if a.MinElevationDeg != nil && (*a.MinElevationDeg < -90 || *a.MinElevationDeg > 90) {
			return fmt.Errorf("device %d: min elevation %v out of range", a.ID, *a.MinElevationDeg)
		}
	case Satellite:
		if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.Line2) == "" {
			return fmt.Errorf("satellite %d: both TLE lines are required", a.ID)
		}
	default:
		return fmt.Errorf("asset %d: unknown kind %s", a.ID, a.Kind)
	}
	return nil
}

// ValidatePopulation validates every asset, checks they all have the expected kind,
// and rejects duplicate ids. All problems are reported together.
func ValidatePopulation(assets []Asset, kind Kind) error {
	var errs []error
	seen := make(map[int]bool, len(assets))
	for _, a := range assets {
		if a.Kind != kind {
			errs = append(errs, fmt.Errorf("asset %d is a %s, expected %s", a.ID, a.Kind, kind))
			continue
		}
		if err := a.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("duplicate %s id %d", kind, a.ID))
		}
		seen[a.ID] = true
	}
	return errors.Join(errs...)
}

// IDs returns the ids of assets in order.
func IDs(assets []Asset) []int {
	ids := make([]int, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	return ids
}

// Find returns the asset with the given id.
func Find(assets []Asset, id int) (Asset, bool) {
	for _, a := range assets {
		if a.ID == id {
			return a, true
		}
	}
	return Asset{}, false
}
