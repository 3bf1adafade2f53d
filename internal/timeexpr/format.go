package timeexpr

import (
	"fmt"
	"time"
)

// IsSameDay reports whether a and b fall on the same calendar day.
func IsSameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// FormatDate renders t in one of the named layouts: "iso" (RFC 3339,
// round-trips exactly), "short", "long", "time", or "datetime". Unknown
// layout names fall back to "iso".
func FormatDate(t time.Time, layout string) string {
	switch layout {
	case "short":
		return t.Format("2006-01-02")
	case "long":
		return t.Format("Monday, January 2, 2006")
	case "time":
		return t.Format("15:04:05")
	case "datetime":
		return t.Format("2006-01-02 15:04:05")
	default:
		return t.Format(time.RFC3339Nano)
	}
}

// HumanReadableInterval describes the distance between two instants:
// "3 days", "2 hours and 5 minutes", "now". When end precedes start the
// description gets an " ago" suffix.
func HumanReadableInterval(start, end time.Time) string {
	d := end.Sub(start)
	past := d < 0
	if past {
		d = -d
	}

	var s string
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		s = plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		s = plural(hours, "hour")
		if mins > 0 {
			s += " and " + plural(mins, "minute")
		}
	default:
		s = plural(int(d.Hours()/24), "day")
	}

	if past {
		s += " ago"
	}
	return s
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
