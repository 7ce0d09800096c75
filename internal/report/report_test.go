package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/star/starcover/internal/coverage"
)

func sample() []coverage.Interval {
	return []coverage.Interval{
		coverage.NewInterval(0, 60000, 1, 25544),
		{Start: 60000, End: 150000, From: coverage.NewAssetSet(1), To: coverage.NewAssetSet(44713, 25544)},
		{Start: 150000, End: 180000, From: coverage.NewAssetSet(1)},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sample(), Options{}); err != nil {
		t.Fatal(err)
	}
	want := "start_ms,end_ms,from_assets,to_assets,duration_ms\n" +
		"0,60000,1,25544,60000\n" +
		"60000,150000,1,25544;44713,90000\n" +
		"150000,180000,1,,30000\n"
	if buf.String() != want {
		t.Errorf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteCSVMinutes(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sample(), Options{IncludeMinutes: true}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "start_ms,end_ms,from_assets,to_assets,duration_ms,duration_min" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[2] != "60000,150000,1,25544;44713,90000,1.500" {
		t.Errorf("row = %q", lines[2])
	}
	if len(Header) != 5 {
		t.Errorf("Header was modified: %v", Header)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, JSON, sample()[2:], Options{}); err != nil {
		t.Fatal(err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	if to, ok := rows[0]["to_assets"].([]any); !ok || len(to) != 0 {
		t.Errorf("gap to_assets = %v, want []", rows[0]["to_assets"])
	}
	if _, ok := rows[0]["duration_min"]; ok {
		t.Error("duration_min present without IncludeMinutes")
	}
}

func TestWriteMsgPackUsesJSONNames(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, MsgPack, sample()[:1], Options{IncludeMinutes: true}); err != nil {
		t.Fatal(err)
	}
	var rows []map[string]any
	if err := msgpack.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	for _, key := range []string{"start_ms", "end_ms", "from_assets", "to_assets", "duration_ms", "duration_min"} {
		if _, ok := rows[0][key]; !ok {
			t.Errorf("msgpack row missing %q: %v", key, rows[0])
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		ctype   string
		wantErr bool
	}{
		{in: "", want: CSV, ctype: "text/csv"},
		{in: "JSON", want: JSON, ctype: "application/json"},
		{in: "msgpack", want: MsgPack, ctype: "application/x-msgpack"},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want || got.ContentType() != tt.ctype {
			t.Errorf("ParseFormat(%q) = %q (%s), %v", tt.in, got, got.ContentType(), err)
		}
	}
}
