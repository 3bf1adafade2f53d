package timeexpr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInterval reports an interval expression that does not match
// the "N unit" form.
var ErrInvalidInterval = errors.New("invalid interval expression")

var intervalRe = regexp.MustCompile(`^(\d+)\s*([a-z]+)$`)

// intervalUnits maps unit aliases to their canonical unit.
var intervalUnits = map[string]string{
	"s": "second", "sec": "second", "secs": "second", "second": "second", "seconds": "second",
	"m": "minute", "min": "minute", "mins": "minute", "minute": "minute", "minutes": "minute",
	"h": "hour", "hr": "hour", "hrs": "hour", "hour": "hour", "hours": "hour",
	"d": "day", "day": "day", "days": "day",
	"w": "week", "wk": "week", "wks": "week", "week": "week", "weeks": "week",
	"mo": "month", "month": "month", "months": "month",
	"y": "year", "yr": "year", "yrs": "year", "year": "year", "years": "year",
}

// CalculateInterval advances base by an "N unit" expression such as
// "30 seconds", "5m", or "1 month". Day and larger units use calendar
// arithmetic (time.AddDate), so "1 month" from January 15th lands on
// February 15th and month-end overflow normalises per Go's rules.
func CalculateInterval(base time.Time, expr string) (time.Time, error) {
	norm := strings.ToLower(strings.TrimSpace(expr))
	m := intervalRe.FindStringSubmatch(norm)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInterval, expr)
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInterval, expr)
	}

	unit, ok := intervalUnits[m[2]]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown unit in %q", ErrInvalidInterval, expr)
	}

	switch unit {
	case "second":
		return base.Add(time.Duration(n) * time.Second), nil
	case "minute":
		return base.Add(time.Duration(n) * time.Minute), nil
	case "hour":
		return base.Add(time.Duration(n) * time.Hour), nil
	case "day":
		return base.AddDate(0, 0, n), nil
	case "week":
		return base.AddDate(0, 0, 7*n), nil
	case "month":
		return base.AddDate(0, n, 0), nil
	default: // year
		return base.AddDate(n, 0, 0), nil
	}
}
