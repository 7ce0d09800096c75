package tle

import (
	"strings"
	"testing"
	"time"
)

func TestParseThreeLine(t *testing.T) {
	entries, err := Parse(strings.NewReader(starlinkTLE+issTLE), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	iss := entries[1]
	if iss.Name != "ISS (ZARYA)" || iss.NORADID != 25544 {
		t.Errorf("entry = %+v", iss)
	}
	// 24100.5 = 2024 day 100 at noon = April 9th 12:00 UTC.
	want := time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	if !iss.Epoch.Equal(want) {
		t.Errorf("epoch = %v, want %v", iss.Epoch, want)
	}
}

func TestParseTwoLine(t *testing.T) {
	twoLine := strings.Join(strings.Split(issTLE, "\n")[1:], "\n")
	entries, err := Parse(strings.NewReader(twoLine), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Name != "25544" {
		t.Errorf("unnamed entry name = %q, want NORAD id", entries[0].Name)
	}
}

func TestParseSkipsMalformed(t *testing.T) {
	input := "BROKEN\n1 garbage\n3 not an element line\n" + issTLE
	entries, err := Parse(strings.NewReader(input), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 1 || entries[0].NORADID != 25544 {
		t.Fatalf("entries = %+v, want only ISS", entries)
	}
}

func TestParseEpoch(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "24001.00000000", want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{in: "98001.50000000", want: time.Date(1998, 1, 1, 12, 0, 0, 0, time.UTC)},
		{in: "24", wantErr: true},
		{in: "2x001.0", wantErr: true},
		{in: "24000.00000000", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseEpoch(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseEpoch(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
