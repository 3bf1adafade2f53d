package storage

import (
	"reflect"
	"strings"
)

// Filter is the query DSL shared by every backend: all Must conditions
// hold and no MustNot condition holds. A nil filter matches everything.
type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
}

// Condition is exactly one of: an id membership test, a match on a
// payload key, a numeric range, or a substring test. Keys address nested
// payload fields by dotted path.
type Condition struct {
	HasID []string        `json:"has_id,omitempty"`
	Key   string          `json:"key,omitempty"`
	Match *MatchCondition `json:"match,omitempty"`
	Range *RangeCondition `json:"range,omitempty"`
	Text  *TextCondition  `json:"text,omitempty"`
}

// MatchCondition matches a payload value exactly (Value) or against a
// set (Any). On array-valued payload fields a match holds when any
// element matches.
type MatchCondition struct {
	Value any   `json:"value,omitempty"`
	Any   []any `json:"any,omitempty"`
}

// RangeCondition is a closed numeric interval; either bound may be nil.
type RangeCondition struct {
	GTE *float64 `json:"gte,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

// TextCondition matches payload strings containing a substring,
// case-insensitively.
type TextCondition struct {
	Contains string `json:"contains"`
}

// HasIDs builds an id membership condition.
func HasIDs(ids ...string) Condition {
	return Condition{HasID: ids}
}

// MatchValue builds an exact-match condition on key.
func MatchValue(key string, value any) Condition {
	return Condition{Key: key, Match: &MatchCondition{Value: value}}
}

// MatchAny builds a set-membership condition on key.
func MatchAny(key string, values ...any) Condition {
	return Condition{Key: key, Match: &MatchCondition{Any: values}}
}

// NumRange builds a closed numeric range condition on key.
func NumRange(key string, gte, lte *float64) Condition {
	return Condition{Key: key, Range: &RangeCondition{GTE: gte, LTE: lte}}
}

// TextContains builds a substring condition on key.
func TextContains(key, substring string) Condition {
	return Condition{Key: key, Text: &TextCondition{Contains: substring}}
}

// Float returns a pointer to v, for range bounds.
func Float(v float64) *float64 {
	return &v
}

// Matches evaluates the filter against a point in process. The local
// bindings use this directly; the Qdrant binding translates the same
// structure to its wire format instead.
func (f *Filter) Matches(id string, payload map[string]any) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(id, payload) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.matches(id, payload) {
			return false
		}
	}
	return true
}

func (c Condition) matches(id string, payload map[string]any) bool {
	if len(c.HasID) > 0 {
		for _, candidate := range c.HasID {
			if candidate == id {
				return true
			}
		}
		return false
	}

	value, ok := lookupPath(payload, c.Key)
	if !ok {
		return false
	}

	switch {
	case c.Match != nil:
		if c.Match.Any != nil {
			for _, want := range c.Match.Any {
				if valueMatches(value, want) {
					return true
				}
			}
			return false
		}
		return valueMatches(value, c.Match.Value)
	case c.Range != nil:
		n, ok := toFloat(value)
		if !ok {
			return false
		}
		if c.Range.GTE != nil && n < *c.Range.GTE {
			return false
		}
		if c.Range.LTE != nil && n > *c.Range.LTE {
			return false
		}
		return true
	case c.Text != nil:
		s, ok := value.(string)
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(c.Text.Contains))
	}
	return false
}

// lookupPath resolves a dotted path against nested maps.
func lookupPath(payload map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// valueMatches compares a payload value to a wanted value, treating
// array fields as "any element matches" and numbers uniformly.
func valueMatches(value, want any) bool {
	if arr, ok := value.([]any); ok {
		for _, elem := range arr {
			if scalarEqual(elem, want) {
				return true
			}
		}
		return false
	}
	if arr, ok := value.([]string); ok {
		for _, elem := range arr {
			if scalarEqual(elem, want) {
				return true
			}
		}
		return false
	}
	return scalarEqual(value, want)
}

func scalarEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if a == nil || b == nil {
		return a == b
	}
	if reflect.TypeOf(a) == reflect.TypeOf(b) {
		return reflect.DeepEqual(a, b)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}
