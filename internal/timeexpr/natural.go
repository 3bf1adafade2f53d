package timeexpr

import (
	"regexp"
	"strings"
	"time"
)

// weekdayNames maps lowercase weekday names to time.Weekday values.
var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var (
	relativeRe  = regexp.MustCompile(`^(?:in\s+)?(\d+)\s+([a-z]+?)s?(?:\s+from\s+now)?$`)
	endOfRe     = regexp.MustCompile(`^(?:by\s+)?(?:the\s+)?end\s+of\s+(?:the\s+)?(day|week|month|year)$`)
	nextWeekRe  = regexp.MustCompile(`^next\s+week\s+([a-z]+)$`)
	nextThingRe = regexp.MustCompile(`^next\s+([a-z]+)$`)
)

// isoLayouts are tried in order for the ISO fallback.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseNaturalLanguage resolves a natural-language time expression against a
// reference instant. Recognised forms include "now", "today", "tomorrow",
// "yesterday", "day after tomorrow", "next monday", "next week", "next week
// friday", "in 3 days", "2 hours from now", "by the end of month", and
// ISO-8601 timestamps. Day-granular phrases resolve to local midnight.
// Unrecognised input returns ok=false.
func ParseNaturalLanguage(expr string, ref time.Time) (time.Time, bool) {
	norm := strings.ToLower(strings.TrimSpace(expr))
	norm = strings.Join(strings.Fields(norm), " ")
	if norm == "" {
		return time.Time{}, false
	}

	day := startOfDay(ref)

	switch norm {
	case "now":
		return ref, true
	case "today":
		return day, true
	case "tomorrow":
		return day.AddDate(0, 0, 1), true
	case "yesterday":
		return day.AddDate(0, 0, -1), true
	case "day after tomorrow", "the day after tomorrow":
		return day.AddDate(0, 0, 2), true
	case "day before yesterday", "the day before yesterday":
		return day.AddDate(0, 0, -2), true
	}

	if m := endOfRe.FindStringSubmatch(norm); m != nil {
		switch m[1] {
		case "day":
			return EndOfDay(ref), true
		case "week":
			return EndOfWeek(ref), true
		case "month":
			return EndOfMonth(ref), true
		case "year":
			return EndOfYear(ref), true
		}
	}

	// "next week friday" before "next friday": the former means the
	// occurrence inside calendar week+1, the latter the next occurrence
	// strictly after ref.
	if m := nextWeekRe.FindStringSubmatch(norm); m != nil {
		if wd, ok := weekdayNames[m[1]]; ok {
			return weekdayOfNextWeek(day, wd), true
		}
	}
	if m := nextThingRe.FindStringSubmatch(norm); m != nil {
		if wd, ok := weekdayNames[m[1]]; ok {
			return nextWeekday(day, wd), true
		}
		switch m[1] {
		case "week":
			return day.AddDate(0, 0, 7), true
		case "month":
			return day.AddDate(0, 1, 0), true
		case "year":
			return day.AddDate(1, 0, 0), true
		}
	}

	if m := relativeRe.FindStringSubmatch(norm); m != nil {
		if t, err := CalculateInterval(ref, m[1]+" "+m[2]); err == nil {
			return t, true
		}
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(expr)); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// nextWeekday returns the next occurrence of wd strictly after day: when day
// already falls on wd, the result is one week out.
func nextWeekday(day time.Time, wd time.Weekday) time.Time {
	diff := (int(wd) - int(day.Weekday()) + 7) % 7
	if diff == 0 {
		diff = 7
	}
	return day.AddDate(0, 0, diff)
}

// weekdayOfNextWeek returns wd's occurrence in the ISO calendar week after
// the one containing day (weeks run Monday through Sunday).
func weekdayOfNextWeek(day time.Time, wd time.Weekday) time.Time {
	isoDay := (int(day.Weekday()) + 6) % 7 // Monday = 0 ... Sunday = 6
	monday := day.AddDate(0, 0, -isoDay)
	offset := (int(wd) + 6) % 7
	return monday.AddDate(0, 0, 7+offset)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
