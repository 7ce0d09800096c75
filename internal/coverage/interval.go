// Package coverage merges pairwise visibility windows between ground stations and
// satellites into per-asset coverage timelines.
//
// Raw intervals describe one (device, satellite) pair each: From holds the device
// id and To holds the satellite id. Combine sweeps the raw intervals of a single
// primary asset into a contiguous timeline whose segments carry the set of
// counterparts in contact. Which side is the primary is decided by the POV.
// Analyzer runs the oracle for a whole population and combines per primary.
//
// All timestamps are Unix milliseconds.
package coverage

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End) with the assets in contact during it.
type Interval struct {
	Start int64    `json:"start_ms"`
	End   int64    `json:"end_ms"`
	From  AssetSet `json:"from_assets"`
	To    AssetSet `json:"to_assets"`
}

// NewInterval returns a raw pairwise interval for one device and one satellite.
func NewInterval(start, end int64, deviceID, satelliteID int) Interval {
	return Interval{
		Start: start,
		End:   end,
		From:  NewAssetSet(deviceID),
		To:    NewAssetSet(satelliteID),
	}
}

// Duration is End - Start in milliseconds.
func (iv Interval) Duration() int64 {
	return iv.End - iv.Start
}

// Contains reports whether t (ms) falls inside [Start, End).
func (iv Interval) Contains(t int64) bool {
	return t >= iv.Start && t < iv.End
}

// Validate checks ordering and ids of any interval, raw or combined.
func (iv Interval) Validate() error {
	if iv.End < iv.Start {
		return fmt.Errorf("%w: end %d before start %d", ErrMalformedInterval, iv.End, iv.Start)
	}
	for _, set := range []AssetSet{iv.From, iv.To} {
		for _, id := range set.ids {
			if id <= 0 {
				return fmt.Errorf("%w: non-positive asset id %d", ErrMalformedInterval, id)
			}
		}
	}
	return nil
}

// ValidateRaw additionally requires exactly one id on each side.
func (iv Interval) ValidateRaw() error {
	if err := iv.Validate(); err != nil {
		return err
	}
	if iv.From.Len() != 1 || iv.To.Len() != 1 {
		return fmt.Errorf("%w: raw interval needs one id per side, got from=[%s] to=[%s]",
			ErrMalformedInterval, iv.From, iv.To)
	}
	return nil
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d,%d) from={%s} to={%s}", iv.Start, iv.End, iv.From, iv.To)
}

// Window is the analyzed time horizon.
type Window struct {
	Start time.Time
	End   time.Time
}

// StartMs returns the window start in Unix milliseconds.
func (w Window) StartMs() int64 { return w.Start.UnixMilli() }

// EndMs returns the window end in Unix milliseconds.
func (w Window) EndMs() int64 { return w.End.UnixMilli() }

// Span returns the window length in milliseconds.
func (w Window) Span() int64 { return w.EndMs() - w.StartMs() }

// Validate requires a non-zero window with End after Start.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("window start and end are required")
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s is not after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}
