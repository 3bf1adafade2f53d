package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// PointID derives the storage point id for a task id. Point stores only
// accept UUIDs, task ids are ULIDs; both are 128 bits wide, so a parsed
// ULID re-encodes directly. Anything else hashes into a name-based
// UUID. The mapping is deterministic, and the original id stays in the
// payload as the authoritative value.
func PointID(taskID string) string {
	if u, err := ulid.ParseStrict(taskID); err == nil {
		return uuid.UUID(u).String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(taskID)).String()
}

// taskToPayload flattens a task into a storage payload. Times are
// RFC 3339 strings; the live handler is replaced by a sentinel.
func taskToPayload(t *Task) map[string]any {
	p := map[string]any{
		"id":           t.ID,
		"name":         t.Name,
		"status":       string(t.Status),
		"scheduleType": string(t.ScheduleType),
		"priority":     t.Priority,
		"createdAt":    t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt":    t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.Description != "" {
		p["description"] = t.Description
	}
	if t.ScheduledTime != nil {
		p["scheduledTime"] = t.ScheduledTime.UTC().Format(time.RFC3339Nano)
	}
	if t.LastExecutedAt != nil {
		p["lastExecutedAt"] = t.LastExecutedAt.UTC().Format(time.RFC3339Nano)
	}
	if t.Interval != nil {
		p["interval"] = map[string]any{
			"expression":     t.Interval.Expression,
			"executionCount": t.Interval.ExecutionCount,
		}
	}
	if len(t.Tags) > 0 {
		tags := make([]any, len(t.Tags))
		for i, tag := range t.Tags {
			tags[i] = tag
		}
		p["tags"] = tags
	}
	if len(t.Metadata) > 0 {
		p["metadata"] = cloneMetadata(t.Metadata)
	}
	if t.HandlerID != "" {
		p["handlerId"] = t.HandlerID
		p["handler"] = map[string]any{"type": "serialized_function", "handlerId": t.HandlerID}
	} else {
		p["handler"] = HandlerPlaceholder
	}
	return p
}

// taskFromPayload rebuilds a task from a stored payload. Besides the
// regular shape it also accepts "memory task" payloads written by
// agent memory stores, recovering the status from metadata. Payloads
// with no usable id or status are rejected with ErrBadPayload.
func taskFromPayload(p map[string]any, now time.Time) (*Task, error) {
	id, _ := p["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("payload without id: %w", ErrBadPayload)
	}

	meta, _ := p["metadata"].(map[string]any)
	name, _ := p["name"].(string)
	status, _ := p["status"].(string)
	scheduleType, _ := p["scheduleType"].(string)

	regular := name != "" && status != "" && scheduleType != ""
	if !regular {
		typ, _ := p["type"].(string)
		taskType, hasTaskType := "", false
		if meta != nil {
			if s, ok := meta["taskType"].(string); ok {
				taskType, hasTaskType = s, true
			}
		}
		if typ != "task" && !hasTaskType {
			return nil, fmt.Errorf("payload %q has no task shape: %w", id, ErrBadPayload)
		}
		if status == "" && meta != nil {
			status, _ = meta["status"].(string)
		}
		if status == "" {
			return nil, fmt.Errorf("payload %q has no recoverable status: %w", id, ErrBadPayload)
		}
		if name == "" {
			if taskType != "" {
				name = taskType
			} else {
				name = id
			}
		}
		if scheduleType == "" {
			scheduleType = string(ScheduleExplicit)
		}
	}

	t := &Task{
		ID:           id,
		Name:         name,
		Status:       Status(status),
		ScheduleType: ScheduleType(scheduleType),
		Priority:     DefaultPriority,
		CreatedAt:    flexibleTime(p["createdAt"], now),
		UpdatedAt:    flexibleTime(p["updatedAt"], now),
	}
	if d, ok := p["description"].(string); ok {
		t.Description = d
	}
	if n, ok := toNumber(p["priority"]); ok {
		t.Priority = int(n)
	}
	if _, ok := p["scheduledTime"]; ok {
		st := flexibleTime(p["scheduledTime"], now)
		t.ScheduledTime = &st
	}
	if _, ok := p["lastExecutedAt"]; ok {
		le := flexibleTime(p["lastExecutedAt"], now)
		t.LastExecutedAt = &le
	}
	if iv, ok := p["interval"].(map[string]any); ok {
		expr, _ := iv["expression"].(string)
		count := 0
		if n, ok := toNumber(iv["executionCount"]); ok {
			count = int(n)
		}
		t.Interval = &Interval{Expression: expr, ExecutionCount: count}
	}
	if tags, ok := p["tags"].([]any); ok {
		for _, v := range tags {
			if s, ok := v.(string); ok {
				t.Tags = append(t.Tags, s)
			}
		}
	}
	if meta != nil {
		t.Metadata = cloneMetadata(meta)
	}
	switch h := p["handler"].(type) {
	case map[string]any:
		if hid, ok := h["handlerId"].(string); ok {
			t.HandlerID = hid
		}
	}
	if hid, ok := p["handlerId"].(string); ok && t.HandlerID == "" {
		t.HandlerID = hid
	}
	return t, nil
}

// flexibleTime parses a stored date that may be an RFC 3339 string or
// an epoch number. Epoch values above 1e12 are taken as milliseconds,
// below as seconds. Unreadable input falls back to now.
func flexibleTime(v any, now time.Time) time.Time {
	switch d := v.(type) {
	case string:
		for _, layout := range scheduleLayouts {
			if t, err := time.Parse(layout, d); err == nil {
				return t
			}
		}
	case float64:
		return epochTime(d)
	case int64:
		return epochTime(float64(d))
	case int:
		return epochTime(float64(d))
	}
	return now
}

func epochTime(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}
