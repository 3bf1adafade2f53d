package tasks

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Registry is the durable store contract for tasks. Implementations:
// MemoryRegistry (dev and tests), VectorRegistry (point-store backed),
// and CachedRegistry (a decorator adding the LRU caches).
type Registry interface {
	// Initialize prepares backing storage; calling it again is a no-op.
	Initialize(ctx context.Context) error
	// Store validates and persists a task, assigning id, timestamps,
	// defaults, and schedule normalisation. The stored copy is returned.
	Store(ctx context.Context, t *Task) (*Task, error)
	// GetByID returns the task or an error wrapping ErrTaskNotFound.
	GetByID(ctx context.Context, id string) (*Task, error)
	// Update persists changes to an existing task and bumps UpdatedAt.
	Update(ctx context.Context, t *Task) (*Task, error)
	// Delete removes a task, reporting false when the id was absent.
	Delete(ctx context.Context, id string) (bool, error)
	Find(ctx context.Context, f Filter) ([]*Task, error)
	Count(ctx context.Context, f Filter) (int, error)
	// ClearAll removes every task.
	ClearAll(ctx context.Context) error
	// InvalidateCaches drops cached entities and query results; a no-op
	// for uncached implementations.
	InvalidateCaches()
}

// TimeRange is a closed interval; a zero bound is unbounded on that side.
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

func (r *TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Filter selects tasks; all set criteria must hold.
type Filter struct {
	IDs           []string       `json:"ids,omitempty"`
	Name          string         `json:"name,omitempty"`
	NameContains  string         `json:"nameContains,omitempty"`
	Statuses      []Status       `json:"statuses,omitempty"`
	ScheduleTypes []ScheduleType `json:"scheduleTypes,omitempty"`
	MinPriority   *int           `json:"minPriority,omitempty"`
	MaxPriority   *int           `json:"maxPriority,omitempty"`

	// Tags must all be present; AnyTags needs at least one.
	Tags    []string `json:"tags,omitempty"`
	AnyTags []string `json:"anyTags,omitempty"`

	// IsDueNow and IsOverdue both select PENDING tasks whose scheduled
	// time has passed (inclusive).
	IsDueNow  bool `json:"isDueNow,omitempty"`
	IsOverdue bool `json:"isOverdue,omitempty"`

	// Metadata matches dotted paths against flattened nested metadata.
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedBetween      *TimeRange `json:"createdBetween,omitempty"`
	ScheduledBetween    *TimeRange `json:"scheduledBetween,omitempty"`
	LastExecutedBetween *TimeRange `json:"lastExecutedBetween,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// SortBy is one of priority, createdAt, scheduledTime,
	// lastExecutedAt, or a dotted metadata path. SortDirection is
	// "asc" (default) or "desc".
	SortBy        string `json:"sortBy,omitempty"`
	SortDirection string `json:"sortDirection,omitempty"`
}

// ByAgent returns a filter selecting tasks stamped with the agent id.
func ByAgent(agentID string) Filter {
	return Filter{Metadata: map[string]any{MetadataAgentKey + ".id": agentID}}
}

var offsetRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// scheduleLayouts are tried in order when normalising schedule strings.
var scheduleLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeScheduleString resolves a schedule string against now:
// "<N><s|m|h|d>" is an offset, anything else is parsed as a timestamp,
// and unparseable input falls back to now + 60s.
func NormalizeScheduleString(s string, now time.Time) time.Time {
	s = strings.TrimSpace(s)
	if m := offsetRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "s":
			return now.Add(time.Duration(n) * time.Second)
		case "m":
			return now.Add(time.Duration(n) * time.Minute)
		case "h":
			return now.Add(time.Duration(n) * time.Hour)
		default:
			return now.AddDate(0, 0, n)
		}
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return now.Add(60 * time.Second)
}

// normalizeForStore validates t and fills in everything Store assigns:
// id, status, schedule type, priority default, timestamps. The caller's
// struct is not modified.
func normalizeForStore(t *Task, now time.Time) (*Task, error) {
	cp := t.Clone()
	if cp.Priority == 0 {
		// A zero priority is indistinguishable from unset; it defaults,
		// matching the registry's documented behaviour.
		cp.Priority = DefaultPriority
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	if cp.ID == "" {
		cp.ID = GenerateID()
	}
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	if cp.ScheduleType == "" {
		cp.ScheduleType = ScheduleExplicit
	}
	if cp.ScheduledTime == nil && cp.When != "" {
		st := NormalizeScheduleString(cp.When, now)
		cp.ScheduledTime = &st
	}
	cp.When = ""
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	return cp, nil
}

// matches evaluates a filter against a task at an instant.
func (f Filter) matches(t *Task, now time.Time) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, t.ID) {
		return false
	}
	if f.Name != "" && t.Name != f.Name {
		return false
	}
	if f.NameContains != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.ScheduleTypes) > 0 {
		ok := false
		for _, st := range f.ScheduleTypes {
			if t.ScheduleType == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.MinPriority != nil && t.Priority < *f.MinPriority {
		return false
	}
	if f.MaxPriority != nil && t.Priority > *f.MaxPriority {
		return false
	}
	for _, tag := range f.Tags {
		if !containsString(t.Tags, tag) {
			return false
		}
	}
	if len(f.AnyTags) > 0 {
		ok := false
		for _, tag := range f.AnyTags {
			if containsString(t.Tags, tag) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.IsDueNow || f.IsOverdue {
		if t.Status != StatusPending || t.ScheduledTime == nil || t.ScheduledTime.After(now) {
			return false
		}
	}
	for path, want := range f.Metadata {
		got, ok := metadataLookup(t.Metadata, path)
		if !ok || !leafEqual(got, want) {
			return false
		}
	}
	if f.CreatedBetween != nil && !f.CreatedBetween.contains(t.CreatedAt) {
		return false
	}
	if f.ScheduledBetween != nil {
		if t.ScheduledTime == nil || !f.ScheduledBetween.contains(*t.ScheduledTime) {
			return false
		}
	}
	if f.LastExecutedBetween != nil {
		if t.LastExecutedAt == nil || !f.LastExecutedBetween.contains(*t.LastExecutedAt) {
			return false
		}
	}
	return true
}

// applyOrder sorts tasks in place by the filter's sort key, then
// applies offset and limit. The default order is creation time
// ascending, which is stable across ticks.
func (f Filter) applyOrder(list []*Task) []*Task {
	desc := strings.EqualFold(f.SortDirection, "desc")

	less := func(a, b *Task) bool { return a.CreatedAt.Before(b.CreatedAt) }
	switch f.SortBy {
	case "", "createdAt":
		// default
	case "priority":
		less = func(a, b *Task) bool { return a.Priority < b.Priority }
	case "scheduledTime":
		less = func(a, b *Task) bool { return timePtrBefore(a.ScheduledTime, b.ScheduledTime) }
	case "lastExecutedAt":
		less = func(a, b *Task) bool { return timePtrBefore(a.LastExecutedAt, b.LastExecutedAt) }
	default:
		path := f.SortBy
		less = func(a, b *Task) bool {
			av, _ := metadataLookup(a.Metadata, path)
			bv, _ := metadataLookup(b.Metadata, path)
			return compareLeaf(av, bv) < 0
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		if desc {
			return less(list[j], list[i])
		}
		return less(list[i], list[j])
	})

	start := f.Offset
	if start > len(list) {
		start = len(list)
	}
	end := len(list)
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}
	return list[start:end]
}

// metadataLookup resolves a dotted path against nested metadata maps.
func metadataLookup(m map[string]any, path string) (any, bool) {
	if m == nil || path == "" {
		return nil, false
	}
	var current any = m
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func leafEqual(got, want any) bool {
	if gn, ok := toNumber(got); ok {
		wn, ok := toNumber(want)
		return ok && gn == wn
	}
	if gs, ok := got.(string); ok {
		ws, ok := want.(string)
		return ok && gs == ws
	}
	if gb, ok := got.(bool); ok {
		wb, ok := want.(bool)
		return ok && gb == wb
	}
	return got == nil && want == nil
}

func compareLeaf(a, b any) int {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func timePtrBefore(a, b *time.Time) bool {
	// nil sorts last in ascending order
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
