// Package report renders combined coverage intervals as CSV, JSON or MessagePack.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/star/starcover/internal/coverage"
)

// Format is an output encoding.
type Format string

const (
	CSV     Format = "csv"
	JSON    Format = "json"
	MsgPack Format = "msgpack"
)

// ParseFormat accepts csv, json or msgpack. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return CSV, nil
	case CSV, JSON, MsgPack:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want csv, json or msgpack)", s)
	}
}

// ContentType returns the HTTP media type of f.
func (f Format) ContentType() string {
	switch f {
	case JSON:
		return "application/json"
	case MsgPack:
		return "application/x-msgpack"
	default:
		return "text/csv"
	}
}

// Options controls optional columns.
type Options struct {
	// IncludeMinutes adds a duration_min column next to duration_ms.
	IncludeMinutes bool
}

// Row is one combined interval in output form. Durations are milliseconds unless
// the field name says otherwise.
type Row struct {
	StartMs     int64    `json:"start_ms"`
	EndMs       int64    `json:"end_ms"`
	FromAssets  []int    `json:"from_assets"`
	ToAssets    []int    `json:"to_assets"`
	DurationMs  int64    `json:"duration_ms"`
	DurationMin *float64 `json:"duration_min,omitempty"`
}

// Header is the CSV header without the optional minutes column.
var Header = []string{"start_ms", "end_ms", "from_assets", "to_assets", "duration_ms"}

// Rows converts intervals to output rows. Asset ids are sorted.
func Rows(intervals []coverage.Interval, opts Options) []Row {
	rows := make([]Row, 0, len(intervals))
	for _, iv := range intervals {
		row := Row{
			StartMs:    iv.Start,
			EndMs:      iv.End,
			FromAssets: nonNil(iv.From.Sorted()),
			ToAssets:   nonNil(iv.To.Sorted()),
			DurationMs: iv.Duration(),
		}
		if opts.IncludeMinutes {
			minutes := float64(iv.Duration()) / 60000.0
			row.DurationMin = &minutes
		}
		rows = append(rows, row)
	}
	return rows
}

func nonNil(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}

// WriteCSV writes intervals with a header row. Ids within a field are joined by ';'.
func WriteCSV(w io.Writer, intervals []coverage.Interval, opts Options) error {
	cw := csv.NewWriter(w)
	header := Header
	if opts.IncludeMinutes {
		header = append(header[:len(header):len(header)], "duration_min")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, row := range Rows(intervals, opts) {
		rec := []string{
			strconv.FormatInt(row.StartMs, 10),
			strconv.FormatInt(row.EndMs, 10),
			joinIDs(row.FromAssets),
			joinIDs(row.ToAssets),
			strconv.FormatInt(row.DurationMs, 10),
		}
		if row.DurationMin != nil {
			rec = append(rec, strconv.FormatFloat(*row.DurationMin, 'f', 3, 64))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ";")
}

// WriteJSON encodes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteMsgPack encodes v as MessagePack using the json struct tags.
func WriteMsgPack(w io.Writer, v any) error {
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag("json")
	return enc.Encode(v)
}

// Write renders intervals in format. JSON and MessagePack carry a list of Rows.
func Write(w io.Writer, format Format, intervals []coverage.Interval, opts Options) error {
	switch format {
	case CSV:
		return WriteCSV(w, intervals, opts)
	case JSON:
		return WriteJSON(w, Rows(intervals, opts))
	case MsgPack:
		return WriteMsgPack(w, Rows(intervals, opts))
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
