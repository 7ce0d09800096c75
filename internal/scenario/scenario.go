// Package scenario loads coverage analysis scenarios from YAML, TOML or JSON
// files and resolves them into asset populations and analyzer settings.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/star/starcover/internal/coverage"
)

// File is the on-disk scenario document.
type File struct {
	PointOfView           string  `yaml:"point_of_view" toml:"point_of_view" json:"point_of_view"`
	IncludeCoverageGaps   bool    `yaml:"include_coverage_gaps" toml:"include_coverage_gaps" json:"include_coverage_gaps"`
	MinContacts           int     `yaml:"min_contacts" toml:"min_contacts" json:"min_contacts"`
	WindowStart           string  `yaml:"window_start" toml:"window_start" json:"window_start"`
	WindowEnd             string  `yaml:"window_end" toml:"window_end" json:"window_end"`
	StepSeconds           float64 `yaml:"step_seconds" toml:"step_seconds" json:"step_seconds"`
	ElevationThresholdDeg float64 `yaml:"elevation_threshold_deg" toml:"elevation_threshold_deg" json:"elevation_threshold_deg"`
	SweepMode             string  `yaml:"sweep_mode" toml:"sweep_mode" json:"sweep_mode"`
	OracleTimeoutSeconds  float64 `yaml:"oracle_timeout_seconds" toml:"oracle_timeout_seconds" json:"oracle_timeout_seconds"`
	Workers               int     `yaml:"workers" toml:"workers" json:"workers"`

	Devices         []DeviceSpec    `yaml:"devices" toml:"devices" json:"devices"`
	DevicesFile     string          `yaml:"devices_file" toml:"devices_file" json:"devices_file"`
	Satellites      []SatelliteSpec `yaml:"satellites" toml:"satellites" json:"satellites"`
	SatellitesFile  string          `yaml:"satellites_file" toml:"satellites_file" json:"satellites_file"`
	SatellitesURL   string          `yaml:"satellites_url" toml:"satellites_url" json:"satellites_url"`
	DeviceFilter    string          `yaml:"device_filter" toml:"device_filter" json:"device_filter"`
	SatelliteFilter string          `yaml:"satellite_filter" toml:"satellite_filter" json:"satellite_filter"`
}

// DeviceSpec is an inline ground station.
type DeviceSpec struct {
	ID              int      `yaml:"id" toml:"id" json:"id"`
	Name            string   `yaml:"name" toml:"name" json:"name"`
	Lat             float64  `yaml:"lat" toml:"lat" json:"lat"`
	Lon             float64  `yaml:"lon" toml:"lon" json:"lon"`
	Alt             float64  `yaml:"alt" toml:"alt" json:"alt"`
	MinElevationDeg *float64 `yaml:"min_elevation_deg" toml:"min_elevation_deg" json:"min_elevation_deg,omitempty"`
}

// SatelliteSpec is an inline satellite. A zero ID is taken from the TLE.
type SatelliteSpec struct {
	ID    int    `yaml:"id" toml:"id" json:"id"`
	Name  string `yaml:"name" toml:"name" json:"name"`
	Line1 string `yaml:"line1" toml:"line1" json:"line1"`
	Line2 string `yaml:"line2" toml:"line2" json:"line2"`
}

// Default returns the settings used for keys a scenario leaves out.
func Default() File {
	return File{
		PointOfView:          "device",
		IncludeCoverageGaps:  true,
		StepSeconds:          60,
		SweepMode:            "tagged",
		OracleTimeoutSeconds: 30,
	}
}

// Format names a scenario encoding.
type Format string

const (
	YAML Format = "yaml"
	TOML Format = "toml"
	JSON Format = "json"
)

// FormatFromPath picks the encoding from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	case ".json":
		return JSON, nil
	default:
		return "", fmt.Errorf("unsupported scenario extension %q (want .yaml, .yml, .toml or .json)", filepath.Ext(path))
	}
}

// Load reads and validates the scenario at path.
func Load(path string) (File, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return File{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read scenario: %w", err)
	}
	return Decode(content, format)
}

// Decode parses data over Default and validates the result.
func Decode(data []byte, format Format) (File, error) {
	f := Default()
	var err error
	switch format {
	case YAML:
		err = yaml.Unmarshal(data, &f)
	case TOML:
		err = toml.Unmarshal(data, &f)
	case JSON:
		err = json.Unmarshal(data, &f)
	default:
		return File{}, fmt.Errorf("unknown scenario format %q", format)
	}
	if err != nil {
		return File{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks every setting and reports all problems together.
func (f File) Validate() error {
	var errs []error
	if _, err := coverage.ParsePOV(f.PointOfView); err != nil {
		errs = append(errs, err)
	}
	if _, err := coverage.ParseSweepMode(f.SweepMode); err != nil {
		errs = append(errs, err)
	}
	if f.MinContacts < 0 {
		errs = append(errs, fmt.Errorf("min_contacts must be >= 0, got %d", f.MinContacts))
	}
	if !(f.StepSeconds > 0) || math.IsInf(f.StepSeconds, 0) {
		errs = append(errs, fmt.Errorf("step_seconds must be > 0, got %v", f.StepSeconds))
	}
	if f.ElevationThresholdDeg < -90 || f.ElevationThresholdDeg > 90 {
		errs = append(errs, fmt.Errorf("elevation_threshold_deg %v out of range", f.ElevationThresholdDeg))
	}
	if f.OracleTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("oracle_timeout_seconds must be >= 0, got %v", f.OracleTimeoutSeconds))
	}
	if f.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", f.Workers))
	}
	if _, err := f.Window(); err != nil {
		errs = append(errs, err)
	}
	if len(f.Devices) == 0 && f.DevicesFile == "" {
		errs = append(errs, errors.New("no devices: set devices or devices_file"))
	}
	if len(f.Satellites) == 0 && f.SatellitesFile == "" && f.SatellitesURL == "" {
		errs = append(errs, errors.New("no satellites: set satellites, satellites_file or satellites_url"))
	}
	return errors.Join(errs...)
}

// Window parses the analysis window.
func (f File) Window() (coverage.Window, error) {
	start, err := ParseTimestamp(f.WindowStart)
	if err != nil {
		return coverage.Window{}, fmt.Errorf("window_start: %w", err)
	}
	end, err := ParseTimestamp(f.WindowEnd)
	if err != nil {
		return coverage.Window{}, fmt.Errorf("window_end: %w", err)
	}
	w := coverage.Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return coverage.Window{}, err
	}
	return w, nil
}
