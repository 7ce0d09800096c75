package coverage

import (
	"fmt"
	"slices"
	"strings"
)

// SweepMode selects how the combiner decides whether an event gains or loses contact.
type SweepMode int

const (
	// SweepTagged uses the event's own start/end tag with a per-counterpart
	// reference count. Repeated or overlapping windows of one counterpart are
	// handled correctly.
	SweepTagged SweepMode = iota
	// SweepMembership decides gain or loss from whether the counterpart is
	// currently in contact. It is only correct when each counterpart has a single
	// window for the primary.
	SweepMembership
)

// ParseSweepMode accepts "tagged" or "membership". Empty selects SweepTagged.
func ParseSweepMode(s string) (SweepMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tagged":
		return SweepTagged, nil
	case "membership":
		return SweepMembership, nil
	default:
		return 0, fmt.Errorf("unknown sweep mode %q (want tagged or membership)", s)
	}
}

func (m SweepMode) String() string {
	if m == SweepMembership {
		return "membership"
	}
	return "tagged"
}

// CombineOptions configures Combine.
type CombineOptions struct {
	POV         POV
	IncludeGaps bool
	Mode        SweepMode
}

// Combine merges the raw intervals of one primary asset, sorted by start, into a
// timeline of non-overlapping segments annotated with the counterparts in contact.
// With IncludeGaps the segments tile [first start, last end) and periods without
// contact appear as segments with an empty contact set; otherwise those periods
// are skipped. Zero-length segments are never emitted and nothing is emitted
// after the last event.
//
// Input of length zero or one is returned as a copy.
func Combine(intervals []Interval, opts CombineOptions) ([]Interval, error) {
	if err := validateRaw(intervals, opts.POV); err != nil {
		return nil, err
	}
	if len(intervals) <= 1 {
		return slices.Clone(intervals), nil
	}

	primary := opts.POV.Primaries(intervals[0])
	if opts.Mode == SweepMembership {
		return sweepMembership(intervals, primary, opts), nil
	}
	return sweepTagged(intervals, primary, opts), nil
}

func validateRaw(intervals []Interval, pov POV) error {
	var primary int
	for i, iv := range intervals {
		if err := iv.ValidateRaw(); err != nil {
			return fmt.Errorf("interval %d: %w", i, err)
		}
		if i == 0 {
			primary = pov.Primary(iv)
		} else if p := pov.Primary(iv); p != primary {
			return fmt.Errorf("interval %d: %w: primary %d, expected %d", i, ErrMalformedInterval, p, primary)
		}
		if i > 0 && iv.Start < intervals[i-1].Start {
			return fmt.Errorf("interval %d: %w: start %d after %d", i, ErrUnsorted, iv.Start, intervals[i-1].Start)
		}
	}
	return nil
}

// sweep is the accumulator threaded through both sweeps: the running contact set
// and the start of the open segment.
type sweep struct {
	start    int64
	contacts AssetSet
}

// cut closes the open segment at t. It returns the snapshot to emit, if any, and
// the accumulator for the next segment with contacts replaced by next.
func (s sweep) cut(t int64, next AssetSet, emit bool, primary AssetSet, pov POV) (sweep, *Interval) {
	var out *Interval
	if emit && t > s.start {
		seg := pov.segment(s.start, t, primary, s.contacts)
		out = &seg
	}
	return sweep{start: t, contacts: next}, out
}

func sweepMembership(intervals []Interval, primary AssetSet, opts CombineOptions) []Interval {
	events := Events(intervals, opts.POV)
	sortByTime(events)

	// The first event seeds the running set.
	acc := sweep{start: events[0].Time, contacts: NewAssetSet(events[0].Who)}
	var out []Interval
	for _, ev := range events[1:] {
		var seg *Interval
		if !acc.contacts.Has(ev.Who) {
			acc, seg = acc.cut(ev.Time, acc.contacts.With(ev.Who), opts.IncludeGaps || !acc.contacts.Empty(), primary, opts.POV)
		} else {
			acc, seg = acc.cut(ev.Time, acc.contacts.Without(ev.Who), true, primary, opts.POV)
		}
		if seg != nil {
			out = append(out, *seg)
		}
	}
	return out
}

func sweepTagged(intervals []Interval, primary AssetSet, opts CombineOptions) []Interval {
	// Zero-length windows carry no visibility and would only split segments.
	live := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Duration() > 0 {
			live = append(live, iv)
		}
	}
	if len(live) == 0 {
		return nil
	}
	events := Events(live, opts.POV)
	sortTagged(events)

	counts := make(map[int]int)
	acc := sweep{start: events[0].Time}
	var out []Interval
	for _, ev := range events {
		var seg *Interval
		switch ev.Kind {
		case Gained:
			counts[ev.Who]++
			if counts[ev.Who] != 1 {
				continue
			}
			acc, seg = acc.cut(ev.Time, acc.contacts.With(ev.Who), opts.IncludeGaps || !acc.contacts.Empty(), primary, opts.POV)
		case Lost:
			counts[ev.Who]--
			if counts[ev.Who] != 0 {
				continue
			}
			acc, seg = acc.cut(ev.Time, acc.contacts.Without(ev.Who), true, primary, opts.POV)
		}
		if seg != nil {
			out = append(out, *seg)
		}
	}
	return out
}
