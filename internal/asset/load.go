package asset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/star/starcover/internal/tle"
)

// Select keeps assets whose name matches a doublestar glob pattern.
// An empty pattern selects everything.
func Select(assets []Asset, pattern string) ([]Asset, error) {
	if pattern == "" {
		return assets, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid asset filter %q", pattern)
	}
	out := make([]Asset, 0, len(assets))
	for _, a := range assets {
		match, err := doublestar.Match(pattern, a.Name)
		if err != nil {
			return nil, fmt.Errorf("matching %q against %q: %w", pattern, a.Name, err)
		}
		if match {
			out = append(out, a)
		}
	}
	return out, nil
}

// SatellitesFromTLE converts parsed TLE entries to satellite assets keyed by NORAD id.
// Repeated NORAD ids keep the first entry.
func SatellitesFromTLE(entries []tle.TLEEntry) []Asset {
	seen := make(map[int]bool, len(entries))
	out := make([]Asset, 0, len(entries))
	for _, e := range entries {
		if seen[e.NORADID] {
			continue
		}
		seen[e.NORADID] = true
		out = append(out, NewSatellite(e.NORADID, e.Name, e.Line1, e.Line2))
	}
	return out
}

// DevicesFromCSV reads ground stations from CSV rows of the form
// id,name,lat,lon,alt[,min_elevation_deg]. A header row starting with "id" is skipped,
// as are blank lines and lines starting with '#'.
func DevicesFromCSV(r io.Reader) ([]Asset, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var devices []Asset
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading devices: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "id") {
			continue
		}
		d, err := deviceFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("devices line %d: %w", line, err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func deviceFromRecord(rec []string) (Asset, error) {
	if len(rec) < 5 {
		return Asset{}, fmt.Errorf("expected at least 5 fields, got %d", len(rec))
	}
	id, err := strconv.Atoi(strings.TrimSpace(rec[0]))
	if err != nil {
		return Asset{}, fmt.Errorf("invalid id %q: %w", rec[0], err)
	}
	var vals [3]float64
	for i, field := range rec[2:5] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Asset{}, fmt.Errorf("invalid coordinate %q: %w", field, err)
		}
		vals[i] = v
	}
	d := NewDevice(id, strings.TrimSpace(rec[1]), vals[0], vals[1], vals[2])
	if len(rec) > 5 && strings.TrimSpace(rec[5]) != "" {
		el, err := strconv.ParseFloat(strings.TrimSpace(rec[5]), 64)
		if err != nil {
			return Asset{}, fmt.Errorf("invalid min elevation %q: %w", rec[5], err)
		}
		d.MinElevationDeg = &el
	}
	return d, nil
}
