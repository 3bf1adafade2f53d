// Package tasks provides the task model and the durable registry the
// scheduler runs against: validation, filtering, caching, handler
// re-binding, and the point-store persistence encoding.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// statusTransitions is the lifecycle DAG. COMPLETED → CANCELLED is
// deliberately absent: tombstoning a completed task requires the
// explicit override in CanTransition.
var statusTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusPending},
}

// CanTransition reports whether from → to is a legal status move.
// Interval re-arming uses RUNNING → PENDING; override additionally
// permits COMPLETED → CANCELLED for tombstoning.
func CanTransition(from, to Status, override bool) bool {
	if from == to {
		return true
	}
	if override && from == StatusCompleted && to == StatusCancelled {
		return true
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ScheduleType determines which strategy considers a task.
type ScheduleType string

const (
	ScheduleExplicit ScheduleType = "EXPLICIT"
	ScheduleInterval ScheduleType = "INTERVAL"
	SchedulePriority ScheduleType = "PRIORITY"
)

// Valid reports whether st is a known schedule type.
func (st ScheduleType) Valid() bool {
	switch st {
	case ScheduleExplicit, ScheduleInterval, SchedulePriority:
		return true
	}
	return false
}

// Priority bounds; DefaultPriority applies when a task is stored with
// priority zero.
const (
	MinPriority     = 0
	MaxPriority     = 10
	DefaultPriority = 5
)

// Interval describes a recurring schedule: a human expression such as
// "1 hour" or a 5-field cron line, plus how many times the task has run.
type Interval struct {
	Expression     string `json:"expression"`
	ExecutionCount int    `json:"executionCount"`
}

// Handler is the caller-supplied callback a task runs. The returned
// value is opaque to the scheduler; an execution is successful iff the
// error is nil.
type Handler func(ctx context.Context) (any, error)

// AgentID is the structured identifier agents stamp into task metadata.
// It stays structured at the API boundary and flattens to dotted paths
// only inside storage filters.
type AgentID struct {
	Namespace string `json:"namespace"`
	Type      string `json:"type"`
	ID        string `json:"id"`
}

// MetadataAgentKey is the metadata key carrying the AgentID mapping.
const MetadataAgentKey = "agentId"

// Task is the central entity: a scheduled unit of work with identity,
// status, and a handler.
type Task struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Status       Status       `json:"status"`
	ScheduleType ScheduleType `json:"scheduleType"`
	Priority     int          `json:"priority"`

	// ScheduledTime is the absolute due instant; for INTERVAL tasks it
	// holds the next fire time.
	ScheduledTime *time.Time `json:"scheduledTime,omitempty"`
	Interval      *Interval  `json:"interval,omitempty"`

	// When is a human schedule expression ("urgent", "tomorrow", "30m")
	// resolved into ScheduledTime at creation time. It is input only
	// and never persisted.
	When string `json:"when,omitempty"`

	// Handler is live and process-local, never persisted. HandlerID is
	// the stable key used to re-bind it after a restart.
	Handler   Handler `json:"-"`
	HandlerID string  `json:"handlerId,omitempty"`

	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty"`

	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// TombstoneOverride permits the otherwise-illegal COMPLETED →
	// CANCELLED move on Update. Per-call flag, never persisted.
	TombstoneOverride bool `json:"-"`
}

// GenerateID creates a new 26-character, lexicographically sortable
// task identifier.
func GenerateID() string {
	return ulid.Make().String()
}

// Clone returns a deep copy; the handler reference is shared since
// handlers are immutable callables.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.ScheduledTime != nil {
		st := *t.ScheduledTime
		cp.ScheduledTime = &st
	}
	if t.LastExecutedAt != nil {
		le := *t.LastExecutedAt
		cp.LastExecutedAt = &le
	}
	if t.Interval != nil {
		iv := *t.Interval
		cp.Interval = &iv
	}
	if t.Tags != nil {
		cp.Tags = append([]string(nil), t.Tags...)
	}
	if t.Metadata != nil {
		cp.Metadata = cloneMetadata(t.Metadata)
	}
	return &cp
}

// Validate checks the fields callers control. Metadata is round-tripped
// through JSON both to reject cyclic or unserialisable values and
// because that is the form it will take in the store.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, t.Status)
	}
	if t.ScheduleType != "" && !t.ScheduleType.Valid() {
		return fmt.Errorf("%w: unknown schedule type %q", ErrInvalidTask, t.ScheduleType)
	}
	if t.Priority < MinPriority || t.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d outside %d..%d", ErrInvalidTask, t.Priority, MinPriority, MaxPriority)
	}
	if t.Metadata != nil {
		if _, err := json.Marshal(t.Metadata); err != nil {
			return fmt.Errorf("%w: metadata is not serialisable: %v", ErrInvalidTask, err)
		}
	}
	return nil
}

// AgentRef extracts the structured agent identifier from metadata, when
// present in either typed or decoded-JSON form.
func (t *Task) AgentRef() (AgentID, bool) {
	raw, ok := t.Metadata[MetadataAgentKey]
	if !ok {
		return AgentID{}, false
	}
	switch v := raw.(type) {
	case AgentID:
		return v, true
	case map[string]any:
		id := AgentID{}
		id.Namespace, _ = v["namespace"].(string)
		id.Type, _ = v["type"].(string)
		id.ID, _ = v["id"].(string)
		if id.ID == "" {
			return AgentID{}, false
		}
		return id, true
	}
	return AgentID{}, false
}

// cloneMetadata deep-copies decoded-JSON metadata. Cyclic values are
// reproduced as cycles in the copy instead of being followed forever,
// so the JSON round-trip in Validate still sees and rejects them.
func cloneMetadata(m map[string]any) map[string]any {
	return cloneMetaMap(m, map[uintptr]any{})
}

func cloneMetaMap(m map[string]any, seen map[uintptr]any) map[string]any {
	ptr := reflect.ValueOf(m).Pointer()
	if prior, ok := seen[ptr]; ok {
		return prior.(map[string]any)
	}
	cp := make(map[string]any, len(m))
	seen[ptr] = cp
	for k, v := range m {
		cp[k] = cloneMetaValue(v, seen)
	}
	return cp
}

func cloneMetaValue(v any, seen map[uintptr]any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneMetaMap(tv, seen)
	case []any:
		return cloneMetaSlice(tv, seen)
	default:
		return v
	}
}

func cloneMetaSlice(s []any, seen map[uintptr]any) []any {
	if len(s) == 0 {
		return make([]any, 0)
	}
	ptr := reflect.ValueOf(s).Pointer()
	// Resliced aliases share a backing array; only reuse a copy made
	// for a slice of the same length.
	if prior, ok := seen[ptr]; ok {
		if dup, ok := prior.([]any); ok && len(dup) == len(s) {
			return dup
		}
	}
	dup := make([]any, len(s))
	seen[ptr] = dup
	for i, elem := range s {
		dup[i] = cloneMetaValue(elem, seen)
	}
	return dup
}
