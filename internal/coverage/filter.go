package coverage

// FilterAtLeastN keeps intervals whose contact set under pov has at least n ids.
func FilterAtLeastN(intervals []Interval, pov POV, n int) []Interval {
	out := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if pov.Contacts(iv).Len() >= n {
			out = append(out, iv)
		}
	}
	return out
}

// FilterGaps keeps intervals with an empty contact set under pov.
func FilterGaps(intervals []Interval, pov POV) []Interval {
	out := make([]Interval, 0)
	for _, iv := range intervals {
		if pov.Contacts(iv).Empty() {
			out = append(out, iv)
		}
	}
	return out
}

// TotalDuration sums Duration over intervals, in milliseconds.
func TotalDuration(intervals []Interval) int64 {
	var total int64
	for _, iv := range intervals {
		total += iv.Duration()
	}
	return total
}

// GapStat is the maximum coverage gap. Duration is always milliseconds.
type GapStat struct {
	Duration int64 `json:"duration_ms"`
	// Gap is the longest gap interval. Unset when Found is false.
	Gap Interval `json:"gap"`
	// Found is false when no gap interval exists; Duration then falls back to the
	// window span.
	Found bool `json:"found"`
}

// Minutes converts Duration to minutes.
func (g GapStat) Minutes() float64 {
	return float64(g.Duration) / 60000.0
}

// MaxGap returns the longest gap interval (see FilterGaps). When intervals contain
// no gap the window span is reported with Found unset. Empty input is ErrNoIntervals.
func MaxGap(intervals []Interval, pov POV, window Window) (GapStat, error) {
	if len(intervals) == 0 {
		return GapStat{}, ErrNoIntervals
	}
	var best GapStat
	for _, gap := range FilterGaps(intervals, pov) {
		if !best.Found || gap.Duration() > best.Duration {
			best = GapStat{Duration: gap.Duration(), Gap: gap, Found: true}
		}
	}
	if !best.Found {
		return GapStat{Duration: window.Span()}, nil
	}
	return best, nil
}

// fillGaps inserts a gap interval for every uncovered stretch of the window in a
// timeline combined without gaps. Intervals are clipped to the window.
func fillGaps(timeline []Interval, primary AssetSet, w Window, pov POV) []Interval {
	ws, we := w.StartMs(), w.EndMs()
	out := make([]Interval, 0, 2*len(timeline)+1)
	cursor := ws
	for _, iv := range timeline {
		start, end := max(iv.Start, ws), min(iv.End, we)
		if end <= start {
			continue
		}
		if start > cursor {
			out = append(out, pov.segment(cursor, start, primary, AssetSet{}))
		}
		iv.Start, iv.End = start, end
		out = append(out, iv)
		cursor = max(cursor, end)
	}
	if cursor < we {
		out = append(out, pov.segment(cursor, we, primary, AssetSet{}))
	}
	return out
}
