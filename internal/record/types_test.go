package record

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlexTimeUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", `"2026-08-01T10:30:00Z"`, time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)},
		{"unix seconds", `1754044200`, time.Unix(1754044200, 0)},
		{"unix millis", `1754044200000`, time.UnixMilli(1754044200000)},
		{"null", `null`, time.Time{}},
		{"empty string", `""`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ft FlexTime
			if err := json.Unmarshal([]byte(tt.in), &ft); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.in, err)
			}
			if !ft.Time.Equal(tt.want) {
				t.Errorf("got %v, want %v", ft.Time, tt.want)
			}
		})
	}
}

func TestFlexTimeUnmarshalInvalid(t *testing.T) {
	var ft FlexTime
	if err := json.Unmarshal([]byte(`"not a date"`), &ft); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

func TestFlexIntUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{`42`, 42},
		{`"42"`, 42},
		{`42.9`, 42},
		{`null`, 0},
		{`""`, 0},
	}
	for _, tt := range tests {
		var fi FlexInt
		if err := json.Unmarshal([]byte(tt.in), &fi); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if int64(fi) != tt.want {
			t.Errorf("unmarshal %s = %d, want %d", tt.in, fi, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0:00"},
		{5, "0:05"},
		{65, "1:05"},
		{600, "10:00"},
		{-3, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestTotalCallDuration(t *testing.T) {
	rec := &CallRecord{
		DurationSeconds: 90,
		Recordings: []RecordingSegment{
			{DurationSeconds: 30},
			{DurationSeconds: 25},
		},
	}
	if got := TotalCallDuration(rec); got != 55 {
		t.Errorf("segment sum = %d, want 55", got)
	}

	rec.Recordings = nil
	if got := TotalCallDuration(rec); got != 90 {
		t.Errorf("fallback duration = %d, want 90", got)
	}
}
