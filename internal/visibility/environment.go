// Package visibility computes device/satellite access windows with SGP4.
package visibility

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/star/starcover/internal/asset"
	"github.com/star/starcover/internal/propagation"
	"github.com/star/starcover/internal/transform"
)

// ErrUnknownAsset is returned for an asset that is not part of the Environment.
var ErrUnknownAsset = errors.New("asset not in environment")

// Environment holds the precomputed observer positions and SGP4 propagators of one
// scenario. It is built once and never modified, so oracles may share it across
// goroutines.
type Environment struct {
	observers map[int]transform.ObserverPosition
	props     map[int]*propagation.SGP4Propagator
	// initErrs keeps satellites whose TLE could not initialize SGP4. Queries for
	// them fail instead of the whole environment.
	initErrs map[int]error
}

// NewEnvironment prepares devices and satellites for visibility queries.
func NewEnvironment(devices, satellites []asset.Asset, logger *slog.Logger) *Environment {
	env := &Environment{
		observers: make(map[int]transform.ObserverPosition, len(devices)),
		props:     make(map[int]*propagation.SGP4Propagator, len(satellites)),
		initErrs:  make(map[int]error),
	}
	for _, d := range devices {
		env.observers[d.ID] = transform.NewObserverPosition(d.LatDeg, d.LonDeg, d.AltM)
	}
	for _, s := range satellites {
		prop, err := propagation.NewSGP4Propagator(s.Line1, s.Line2, s.ID)
		if err != nil {
			logger.Warn("satellite unavailable", "satellite", s.ID, "name", s.Name, "error", err)
			env.initErrs[s.ID] = err
			continue
		}
		env.props[s.ID] = prop
	}
	logger.Debug("environment ready",
		"devices", len(env.observers),
		"satellites", len(env.props),
		"unavailable", len(env.initErrs),
	)
	return env
}

// Observer returns the precomputed position of a device.
func (e *Environment) Observer(deviceID int) (transform.ObserverPosition, error) {
	obs, ok := e.observers[deviceID]
	if !ok {
		return transform.ObserverPosition{}, fmt.Errorf("device %d: %w", deviceID, ErrUnknownAsset)
	}
	return obs, nil
}

// Propagator returns the SGP4 propagator of a satellite.
func (e *Environment) Propagator(satelliteID int) (*propagation.SGP4Propagator, error) {
	if err, ok := e.initErrs[satelliteID]; ok {
		return nil, fmt.Errorf("satellite %d: %w", satelliteID, err)
	}
	prop, ok := e.props[satelliteID]
	if !ok {
		return nil, fmt.Errorf("satellite %d: %w", satelliteID, ErrUnknownAsset)
	}
	return prop, nil
}
