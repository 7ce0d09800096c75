package coverage

import (
	"cmp"
	"slices"
)

// EventKind tags an event with the raw endpoint it came from.
type EventKind int

const (
	Gained EventKind = iota
	Lost
)

func (k EventKind) String() string {
	if k == Lost {
		return "lost"
	}
	return "gained"
}

// Event is a contact change at one instant. Who is the counterpart whose state
// changes and WhoElse the primary on the other side.
type Event struct {
	Time    int64
	Kind    EventKind
	Who     int
	WhoElse int

	seq int // position in generation order, the final tie-break
}

// Events converts raw intervals into start and end events in input order.
func Events(intervals []Interval, pov POV) []Event {
	events := make([]Event, 0, 2*len(intervals))
	for _, iv := range intervals {
		who, other := pov.Counterpart(iv), pov.Primary(iv)
		events = append(events,
			Event{Time: iv.Start, Kind: Gained, Who: who, WhoElse: other, seq: len(events)},
			Event{Time: iv.End, Kind: Lost, Who: who, WhoElse: other, seq: len(events) + 1},
		)
	}
	return events
}

// sortByTime orders events by time only, keeping generation order for ties.
func sortByTime(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		return cmp.Compare(a.Time, b.Time)
	})
}

// sortTagged orders by time, then gains before losses, then generation order.
// Touching windows therefore overlap for an instant instead of opening a gap.
func sortTagged(events []Event) {
	slices.SortFunc(events, func(a, b Event) int {
		return cmp.Or(
			cmp.Compare(a.Time, b.Time),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.seq, b.seq),
		)
	})
}
