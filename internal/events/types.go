// Package events provides the in-memory event bus the scheduler and
// gateway publish lifecycle notifications on.
package events

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Task lifecycle
	EventTaskCreated EventType = "task.created"
	EventTaskUpdated EventType = "task.updated"
	EventTaskDeleted EventType = "task.deleted"

	// Execution
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"

	// Scheduler lifecycle
	EventSchedulerStarted EventType = "scheduler.started"
	EventSchedulerStopped EventType = "scheduler.stopped"
	EventSchedulerTick    EventType = "scheduler.tick"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceScheduler EventSource = "scheduler"
	SourceExecutor  EventSource = "executor"
	SourceGateway   EventSource = "gateway"
	SourceCLI       EventSource = "cli"
)

// Event represents a single notification on the bus.
type Event struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// eventIDCounter is used to generate sequential event IDs.
var eventIDCounter uint64

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

// NewTaskEvent creates an event bound to a task.
func NewTaskEvent(eventType EventType, source EventSource, taskID string, payload map[string]any) Event {
	e := NewEvent(eventType, source, payload)
	e.TaskID = taskID
	return e
}

func generateEventID() string {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}
