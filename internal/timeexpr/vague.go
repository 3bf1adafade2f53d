// Package timeexpr translates human temporal expressions into concrete times.
//
// All functions are pure and safe for concurrent use. Parsers report
// unrecognised input through their ok result instead of an error;
// CalculateInterval is the single exception because it is only called
// from trusted paths.
package timeexpr

import (
	"strings"
	"time"
)

// VagueResult is the outcome of translating a vague term: a concrete
// due time plus the urgency it implies.
type VagueResult struct {
	Date     time.Time
	Priority int
}

// vagueTerm maps a set of equivalent phrases to a due-time rule.
type vagueTerm struct {
	terms    []string
	priority int
	resolve  func(ref time.Time) time.Time
}

// vagueTerms is ordered by urgency. Order matters for substring
// containment: more specific phrases come before phrases they contain.
var vagueTerms = []vagueTerm{
	{
		terms:    []string{"urgent", "immediately", "immediate", "right away"},
		priority: 10,
		resolve:  func(ref time.Time) time.Time { return ref },
	},
	{
		terms:    []string{"asap", "very soon"},
		priority: 9,
		resolve:  func(ref time.Time) time.Time { return ref.Add(2 * time.Hour) },
	},
	{
		terms:    []string{"soon", "shortly"},
		priority: 8,
		resolve:  func(ref time.Time) time.Time { return ref.Add(4 * time.Hour) },
	},
	{
		terms:    []string{"by today", "end of day", "today"},
		priority: 7,
		resolve:  EndOfDay,
	},
	{
		terms:    []string{"by tomorrow"},
		priority: 6,
		resolve:  func(ref time.Time) time.Time { return EndOfDay(ref.AddDate(0, 0, 1)) },
	},
	{
		terms:    []string{"couple of days", "couple days"},
		priority: 5,
		resolve:  func(ref time.Time) time.Time { return ref.AddDate(0, 0, 2) },
	},
	{
		terms:    []string{"few days"},
		priority: 5,
		resolve:  func(ref time.Time) time.Time { return ref.AddDate(0, 0, 3) },
	},
	{
		terms:    []string{"this week", "end of week"},
		priority: 4,
		resolve:  EndOfWeek,
	},
	{
		terms:    []string{"this month", "end of month"},
		priority: 3,
		resolve:  EndOfMonth,
	},
	{
		terms:    []string{"low priority"},
		priority: 2,
		resolve:  func(ref time.Time) time.Time { return ref.AddDate(0, 0, 7) },
	},
	{
		terms:    []string{"whenever"},
		priority: 1,
		resolve:  func(ref time.Time) time.Time { return ref.AddDate(0, 0, 30) },
	},
}

// TranslateVagueTerm recognises a fixed dictionary of vague urgency phrases
// ("urgent", "soon", "end of week", ...) and maps them to a due time relative
// to ref plus a priority between 1 and 10. Matching is case-insensitive:
// exact match wins, then substring containment scanned in dictionary order.
func TranslateVagueTerm(expr string, ref time.Time) (VagueResult, bool) {
	norm := strings.ToLower(strings.TrimSpace(expr))
	if norm == "" {
		return VagueResult{}, false
	}

	for _, vt := range vagueTerms {
		for _, term := range vt.terms {
			if norm == term {
				return VagueResult{Date: vt.resolve(ref), Priority: vt.priority}, true
			}
		}
	}
	for _, vt := range vagueTerms {
		for _, term := range vt.terms {
			if strings.Contains(norm, term) {
				return VagueResult{Date: vt.resolve(ref), Priority: vt.priority}, true
			}
		}
	}
	return VagueResult{}, false
}

// EndOfDay returns t's day at 23:59:59.999.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999_000_000, t.Location())
}

// EndOfWeek returns the end of the upcoming Sunday (the same day when t is
// already a Sunday).
func EndOfWeek(t time.Time) time.Time {
	days := (7 - int(t.Weekday())) % 7
	return EndOfDay(t.AddDate(0, 0, days))
}

// EndOfMonth returns the last day of t's month at 23:59:59.999.
func EndOfMonth(t time.Time) time.Time {
	last := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location())
	return EndOfDay(last)
}

// EndOfYear returns December 31st of t's year at 23:59:59.999.
func EndOfYear(t time.Time) time.Time {
	return EndOfDay(time.Date(t.Year(), time.December, 31, 0, 0, 0, 0, t.Location()))
}
