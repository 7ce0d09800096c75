package coverage

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Summary describes one primary's timeline over the analysis window.
type Summary struct {
	Primary   int   `json:"primary"`
	Intervals int   `json:"intervals"`
	CoveredMs int64 `json:"covered_ms"`
	// Gap statistics count every uncovered run inside the window, whether it was
	// emitted as an explicit gap interval or skipped.
	GapCount  int     `json:"gap_count"`
	MaxGapMs  int64   `json:"max_gap_ms"`
	MeanGapMs float64 `json:"mean_gap_ms"`
	P95GapMs  float64 `json:"p95_gap_ms"`
	// MeanContacts is the time-weighted number of counterparts in contact.
	MeanContacts     float64 `json:"mean_contacts"`
	CoverageFraction float64 `json:"coverage_fraction"`
}

// Summarize returns one Summary per primary, in Result.Primaries order.
func Summarize(r *Result) []Summary {
	out := make([]Summary, 0, len(r.Primaries))
	for _, id := range r.Primaries {
		out = append(out, SummarizeTimeline(id, r.ByPrimary[id], r.POV, r.Window))
	}
	return out
}

// SummarizeTimeline computes coverage statistics for one combined timeline.
func SummarizeTimeline(primary int, intervals []Interval, pov POV, w Window) Summary {
	s := Summary{Primary: primary, Intervals: len(intervals)}
	span := w.Span()
	if span <= 0 {
		return s
	}
	ws, we := w.StartMs(), w.EndMs()

	var (
		covered  []Interval
		contacts []float64
		weights  []float64
	)
	for _, iv := range intervals {
		start, end := max(iv.Start, ws), min(iv.End, we)
		if end <= start {
			continue
		}
		n := pov.Contacts(iv).Len()
		contacts = append(contacts, float64(n))
		weights = append(weights, float64(end-start))
		if n > 0 {
			covered = append(covered, Interval{Start: start, End: end})
		}
	}
	slices.SortFunc(covered, func(a, b Interval) int { return cmp.Compare(a.Start, b.Start) })

	var gaps []float64
	cursor := ws
	for _, iv := range covered {
		if iv.Start > cursor {
			gaps = append(gaps, float64(iv.Start-cursor))
		}
		if iv.End > cursor {
			s.CoveredMs += iv.End - max(iv.Start, cursor)
			cursor = iv.End
		}
	}
	if cursor < we {
		gaps = append(gaps, float64(we-cursor))
	}

	s.CoverageFraction = float64(s.CoveredMs) / float64(span)
	if len(contacts) > 0 {
		// Uncovered time not present as intervals counts as zero contacts.
		var seen float64
		for _, wt := range weights {
			seen += wt
		}
		s.MeanContacts = stat.Mean(contacts, weights) * seen / float64(span)
	}
	if len(gaps) > 0 {
		slices.Sort(gaps)
		s.GapCount = len(gaps)
		s.MaxGapMs = int64(gaps[len(gaps)-1])
		s.MeanGapMs = stat.Mean(gaps, nil)
		s.P95GapMs = stat.Quantile(0.95, stat.Empirical, gaps, nil)
	}
	return s
}
