package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/star/starcover/internal/asset"
	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/tle"
)

// Scenario is a resolved File: populations loaded, settings parsed.
type Scenario struct {
	POV           coverage.POV
	Mode          coverage.SweepMode
	IncludeGaps   bool
	MinContacts   int
	Window        coverage.Window
	Step          time.Duration
	ElevationDeg  float64
	OracleTimeout time.Duration
	Workers       int

	Devices    []asset.Asset
	Satellites []asset.Asset
}

// Resolve loads the populations of f. Relative file paths are taken from baseDir.
// Inline assets come first, then file and URL sources; a satellite listed twice
// keeps its first definition.
func (f File) Resolve(ctx context.Context, baseDir string, logger *slog.Logger) (*Scenario, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	pov, _ := coverage.ParsePOV(f.PointOfView)
	mode, _ := coverage.ParseSweepMode(f.SweepMode)
	window, _ := f.Window()

	devices, err := f.loadDevices(baseDir)
	if err != nil {
		return nil, err
	}
	satellites, err := f.loadSatellites(ctx, baseDir, logger)
	if err != nil {
		return nil, err
	}

	if devices, err = asset.Select(devices, f.DeviceFilter); err != nil {
		return nil, fmt.Errorf("device_filter: %w", err)
	}
	if satellites, err = asset.Select(satellites, f.SatelliteFilter); err != nil {
		return nil, fmt.Errorf("satellite_filter: %w", err)
	}
	if err := errors.Join(
		asset.ValidatePopulation(devices, asset.Device),
		asset.ValidatePopulation(satellites, asset.Satellite),
	); err != nil {
		return nil, err
	}

	logger.Info("scenario resolved",
		"pov", pov.String(),
		"devices", len(devices),
		"satellites", len(satellites),
		"window_start", window.Start.Format(time.RFC3339),
		"window_end", window.End.Format(time.RFC3339),
	)

	return &Scenario{
		POV:           pov,
		Mode:          mode,
		IncludeGaps:   f.IncludeCoverageGaps,
		MinContacts:   f.MinContacts,
		Window:        window,
		Step:          time.Duration(f.StepSeconds * float64(time.Second)),
		ElevationDeg:  f.ElevationThresholdDeg,
		OracleTimeout: time.Duration(f.OracleTimeoutSeconds * float64(time.Second)),
		Workers:       f.Workers,
		Devices:       devices,
		Satellites:    satellites,
	}, nil
}

func (f File) loadDevices(baseDir string) ([]asset.Asset, error) {
	devices := make([]asset.Asset, 0, len(f.Devices))
	for _, d := range f.Devices {
		dev := asset.NewDevice(d.ID, d.Name, d.Lat, d.Lon, d.Alt)
		dev.MinElevationDeg = d.MinElevationDeg
		devices = append(devices, dev)
	}
	if f.DevicesFile == "" {
		return devices, nil
	}
	file, err := os.Open(resolvePath(baseDir, f.DevicesFile))
	if err != nil {
		return nil, fmt.Errorf("devices_file: %w", err)
	}
	defer file.Close()
	fromFile, err := asset.DevicesFromCSV(file)
	if err != nil {
		return nil, fmt.Errorf("devices_file: %w", err)
	}
	return append(devices, fromFile...), nil
}

func (f File) loadSatellites(ctx context.Context, baseDir string, logger *slog.Logger) ([]asset.Asset, error) {
	var entries []tle.TLEEntry
	for i, s := range f.Satellites {
		e, err := inlineEntry(s, logger)
		if err != nil {
			return nil, fmt.Errorf("satellites[%d]: %w", i, err)
		}
		entries = append(entries, e)
	}
	if f.SatellitesFile != "" {
		fromFile, err := tle.ParseFile(resolvePath(baseDir, f.SatellitesFile), logger)
		if err != nil {
			return nil, fmt.Errorf("satellites_file: %w", err)
		}
		entries = append(entries, fromFile...)
	}
	if f.SatellitesURL != "" {
		fetched, err := tle.NewFetcher(f.SatellitesURL, logger).FetchEntries(ctx)
		if err != nil {
			return nil, fmt.Errorf("satellites_url: %w", err)
		}
		entries = append(entries, fetched...)
	}
	return asset.SatellitesFromTLE(entries), nil
}

// inlineEntry turns an inline satellite into a TLE entry. An explicit id wins over
// the catalog number in the element lines.
func inlineEntry(s SatelliteSpec, logger *slog.Logger) (tle.TLEEntry, error) {
	text := strings.TrimSpace(s.Line1) + "\n" + strings.TrimSpace(s.Line2) + "\n"
	if s.Name != "" {
		text = s.Name + "\n" + text
	}
	parsed, err := tle.Parse(strings.NewReader(text), logger)
	if err != nil {
		return tle.TLEEntry{}, err
	}
	if len(parsed) != 1 {
		return tle.TLEEntry{}, fmt.Errorf("invalid element set for %q", s.Name)
	}
	e := parsed[0]
	if s.ID != 0 {
		e.NORADID = s.ID
	}
	return e, nil
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Primaries returns the population combined over.
func (s *Scenario) Primaries() []asset.Asset {
	if s.POV == coverage.SatellitePOV {
		return s.Satellites
	}
	return s.Devices
}

// Counterparts returns the population collected into contact sets.
func (s *Scenario) Counterparts() []asset.Asset {
	if s.POV == coverage.SatellitePOV {
		return s.Devices
	}
	return s.Satellites
}

// AnalyzerConfig returns the analyzer settings of the scenario.
func (s *Scenario) AnalyzerConfig() coverage.Config {
	return coverage.Config{
		POV:           s.POV,
		IncludeGaps:   s.IncludeGaps,
		Mode:          s.Mode,
		Window:        s.Window,
		Step:          s.Step,
		ElevationDeg:  s.ElevationDeg,
		Workers:       s.Workers,
		OracleTimeout: s.OracleTimeout,
	}
}
