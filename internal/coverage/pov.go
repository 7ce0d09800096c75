package coverage

import (
	"fmt"
	"strings"

	"github.com/star/starcover/internal/asset"
)

// POV selects which population is primary.
type POV int

const (
	// DevicePOV combines, per device, the satellites in contact (the To side).
	DevicePOV POV = iota
	// SatellitePOV combines, per satellite, the devices in contact (the From side).
	SatellitePOV
)

// ParsePOV accepts "device" or "satellite", case-insensitively.
func ParsePOV(s string) (POV, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "device", "devices":
		return DevicePOV, nil
	case "satellite", "satellites":
		return SatellitePOV, nil
	default:
		return 0, fmt.Errorf("unknown point of view %q (want device or satellite)", s)
	}
}

func (p POV) String() string {
	if p == SatellitePOV {
		return "satellite"
	}
	return "device"
}

// PrimaryKind is the asset kind combined over.
func (p POV) PrimaryKind() asset.Kind {
	if p == SatellitePOV {
		return asset.Satellite
	}
	return asset.Device
}

// CounterpartKind is the asset kind collected into contact sets.
func (p POV) CounterpartKind() asset.Kind {
	if p == SatellitePOV {
		return asset.Device
	}
	return asset.Satellite
}

// Contacts returns the side of iv that holds counterpart ids.
func (p POV) Contacts(iv Interval) AssetSet {
	if p == SatellitePOV {
		return iv.From
	}
	return iv.To
}

// Primaries returns the side of iv that holds the primary id.
func (p POV) Primaries(iv Interval) AssetSet {
	if p == SatellitePOV {
		return iv.To
	}
	return iv.From
}

// Primary returns the primary id of a raw interval.
func (p POV) Primary(iv Interval) int {
	return first(p.Primaries(iv))
}

// Counterpart returns the counterpart id of a raw interval.
func (p POV) Counterpart(iv Interval) int {
	return first(p.Contacts(iv))
}

// segment builds an interval with the primary on its own side and contacts on the other.
func (p POV) segment(start, end int64, primary AssetSet, contacts AssetSet) Interval {
	if p == SatellitePOV {
		return Interval{Start: start, End: end, From: contacts, To: primary}
	}
	return Interval{Start: start, End: end, From: primary, To: contacts}
}

// pair orders a (primary, counterpart) asset pair as (device, satellite).
func (p POV) pair(primary, counterpart asset.Asset) (device, satellite asset.Asset) {
	if p == SatellitePOV {
		return counterpart, primary
	}
	return primary, counterpart
}

func first(s AssetSet) int {
	if s.Len() == 0 {
		return 0
	}
	return s.ids[0]
}
