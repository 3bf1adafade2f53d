package timeexpr

import (
	"testing"
	"time"
)

func TestFormatDateISORoundTrip(t *testing.T) {
	orig := time.Date(2023, 1, 15, 10, 30, 45, 123_456_789, time.UTC)
	s := FormatDate(orig, "iso")
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	if !parsed.Equal(orig) {
		t.Errorf("round trip: got %v, want %v", parsed, orig)
	}
}

func TestFormatDateLayouts(t *testing.T) {
	d := time.Date(2023, 1, 15, 10, 30, 45, 0, time.UTC)

	tests := []struct {
		layout string
		want   string
	}{
		{"short", "2023-01-15"},
		{"long", "Sunday, January 15, 2023"},
		{"time", "10:30:45"},
		{"datetime", "2023-01-15 10:30:45"},
		{"iso", "2023-01-15T10:30:45Z"},
		{"bogus", "2023-01-15T10:30:45Z"}, // unknown layouts fall back to iso
	}

	for _, tt := range tests {
		if got := FormatDate(d, tt.layout); got != tt.want {
			t.Errorf("FormatDate(%q) = %q, want %q", tt.layout, got, tt.want)
		}
	}
}

func TestIsSameDay(t *testing.T) {
	a := time.Date(2023, 1, 15, 0, 1, 0, 0, time.UTC)
	b := time.Date(2023, 1, 15, 23, 59, 0, 0, time.UTC)
	c := time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC)

	if !IsSameDay(a, b) {
		t.Error("expected same day")
	}
	if IsSameDay(b, c) {
		t.Error("expected different days")
	}
}

func TestHumanReadableInterval(t *testing.T) {
	start := time.Date(2023, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		end  time.Time
		want string
	}{
		{start.Add(30 * time.Second), "now"},
		{start.Add(time.Minute), "1 minute"},
		{start.Add(45 * time.Minute), "45 minutes"},
		{start.Add(time.Hour), "1 hour"},
		{start.Add(2*time.Hour + 5*time.Minute), "2 hours and 5 minutes"},
		{start.Add(25 * time.Hour), "1 day"},
		{start.AddDate(0, 0, 3), "3 days"},
		{start.Add(-3 * time.Hour), "3 hours ago"},
		{start.AddDate(0, 0, -2), "2 days ago"},
	}

	for _, tt := range tests {
		if got := HumanReadableInterval(start, tt.end); got != tt.want {
			t.Errorf("HumanReadableInterval(.., %v) = %q, want %q", tt.end, got, tt.want)
		}
	}
}
