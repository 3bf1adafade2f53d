package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/tempus/internal/events"
	"github.com/dohr-michael/tempus/internal/storage"
	"github.com/dohr-michael/tempus/internal/tasks"
	"github.com/dohr-michael/tempus/internal/timeexpr"
)

// State is the manager's lifecycle state.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateInitialized   State = "INITIALIZED"
	StateRunning       State = "RUNNING"
	StateStopped       State = "STOPPED"
	StateDisposed      State = "DISPOSED"
)

const (
	// DefaultSchedulingInterval is the polling tick period.
	DefaultSchedulingInterval = 5 * time.Second
	// DefaultShutdownGrace bounds how long Stop waits for in-flight
	// handlers.
	DefaultShutdownGrace = 30 * time.Second
)

// ErrDisposed reports an operation against a disposed manager.
var ErrDisposed = errors.New("scheduler manager disposed")

// ManagerConfig holds the manager's dependencies and tuning. Registry
// is the only required field.
type ManagerConfig struct {
	Registry tasks.Registry
	// Handlers re-binds persisted tasks to live callables; created
	// empty when nil.
	Handlers *tasks.HandlerRegistry
	Bus      *events.Bus
	// History receives one record per execution when set.
	History *storage.ExecutionLog
	// Strategies defaults to explicit-time, interval, and
	// priority-based.
	Strategies []Strategy

	// Disabled blocks Start while leaving explicit execution calls
	// usable.
	Disabled             bool
	EnableAutoScheduling bool
	SchedulingInterval   time.Duration
	MaxConcurrentTasks   int
	// HandlerTimeout bounds each handler run; zero means unbounded.
	HandlerTimeout    time.Duration
	DefaultPriority   int
	PriorityThreshold int
	ShutdownGrace     time.Duration
	Logger            *slog.Logger
}

// StatusCounts breaks the task population down by lifecycle state.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Metrics is an operator snapshot of the scheduler.
type Metrics struct {
	TotalTasks         int          `json:"totalTasks"`
	TaskStatusCounts   StatusCounts `json:"taskStatusCounts"`
	IsRunning          bool         `json:"isRunning"`
	LastTickAt         *time.Time   `json:"lastTickAt,omitempty"`
	LastTickDurationMS int64        `json:"lastTickDurationMs"`
}

// Manager is the scheduler's single public entry point: it owns the
// polling loop, delegates storage to the registry, due-selection to
// the strategies, and runs to the executor.
type Manager struct {
	registry  tasks.Registry
	handlers  *tasks.HandlerRegistry
	bus       *events.Bus
	scheduler *TaskScheduler
	executor  *Executor
	log       *slog.Logger

	disabled        bool
	autoStart       bool
	interval        time.Duration
	shutdownGrace   time.Duration
	defaultPriority int

	now func() time.Time

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	loopDone chan struct{}

	lastTickAt       time.Time
	lastTickDuration time.Duration

	// tickMu serialises scheduling passes: the polling loop skips a
	// tick it cannot immediately claim instead of queueing it.
	tickMu sync.Mutex
}

// NewManager wires a manager from its configuration. The manager
// starts UNINITIALIZED; call Initialize before use.
func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := cfg.SchedulingInterval
	if interval <= 0 {
		interval = DefaultSchedulingInterval
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	defaultPriority := cfg.DefaultPriority
	if defaultPriority <= 0 || defaultPriority > tasks.MaxPriority {
		defaultPriority = tasks.DefaultPriority
	}
	handlers := cfg.Handlers
	if handlers == nil {
		handlers = tasks.NewHandlerRegistry()
	}
	strategies := cfg.Strategies
	if len(strategies) == 0 {
		strategies = []Strategy{
			ExplicitTimeStrategy{},
			IntervalStrategy{},
			NewPriorityBasedStrategy(cfg.PriorityThreshold),
		}
	}
	executor := NewExecutor(ExecutorConfig{
		Registry:      cfg.Registry,
		Handlers:      handlers,
		Bus:           cfg.Bus,
		History:       cfg.History,
		MaxConcurrent: cfg.MaxConcurrentTasks,
		Timeout:       cfg.HandlerTimeout,
		Logger:        log,
	})
	return &Manager{
		registry:        cfg.Registry,
		handlers:        handlers,
		bus:             cfg.Bus,
		scheduler:       NewTaskScheduler(strategies...),
		executor:        executor,
		log:             log,
		disabled:        cfg.Disabled,
		autoStart:       cfg.EnableAutoScheduling,
		interval:        interval,
		shutdownGrace:   grace,
		defaultPriority: defaultPriority,
		now:             time.Now,
		state:           StateUninitialized,
	}
}

// Initialize prepares the registry and moves the manager to
// INITIALIZED. It is idempotent; with auto-scheduling enabled it also
// starts the polling loop. Initialization errors are fatal and
// propagate to the caller.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateDisposed:
		m.mu.Unlock()
		return ErrDisposed
	case StateUninitialized:
	default:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.registry.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}
	pending, err := m.registry.Count(ctx, tasks.Filter{Statuses: []tasks.Status{tasks.StatusPending}})
	if err != nil {
		return fmt.Errorf("count pending tasks: %w", err)
	}

	m.mu.Lock()
	m.state = StateInitialized
	m.mu.Unlock()
	m.log.Info("scheduler: initialized", "pending", pending, "interval", m.interval)

	if m.autoStart {
		m.Start()
	}
	return nil
}

// RegisterHandler binds a handler id to a live callable so tasks
// loaded from storage can run it.
func (m *Manager) RegisterHandler(id string, h tasks.Handler) {
	m.handlers.Register(id, h)
}

// Handlers exposes the process-local handler registry.
func (m *Manager) Handlers() *tasks.HandlerRegistry { return m.handlers }

// CreateTask resolves the task's schedule expressions and stores it.
// Vague terms and natural language are parsed here, at store time;
// the polling loop never parses.
func (m *Manager) CreateTask(ctx context.Context, t *tasks.Task) (*tasks.Task, error) {
	cp := t.Clone()
	m.resolveSchedule(cp)
	stored, err := m.registry.Store(ctx, cp)
	if err != nil {
		return nil, err
	}
	m.publish(events.NewTaskEvent(events.EventTaskCreated, events.SourceScheduler, stored.ID, map[string]any{
		"name": stored.Name,
		"type": string(stored.ScheduleType),
	}))
	m.log.Info("scheduler: task created", "task", stored.ID, "name", stored.Name, "type", stored.ScheduleType)
	return stored, nil
}

// CreateTaskForAgent stamps the structured agent identifier into the
// task's metadata before storing it.
func (m *Manager) CreateTaskForAgent(ctx context.Context, t *tasks.Task, agentID string) (*tasks.Task, error) {
	cp := t.Clone()
	if cp.Metadata == nil {
		cp.Metadata = map[string]any{}
	}
	cp.Metadata[tasks.MetadataAgentKey] = map[string]any{
		"namespace": "agent",
		"type":      "agent",
		"id":        agentID,
	}
	return m.CreateTask(ctx, cp)
}

// UpdateTask persists changes to an existing task.
func (m *Manager) UpdateTask(ctx context.Context, t *tasks.Task) (*tasks.Task, error) {
	updated, err := m.registry.Update(ctx, t)
	if err != nil {
		return nil, err
	}
	m.publish(events.NewTaskEvent(events.EventTaskUpdated, events.SourceScheduler, updated.ID, map[string]any{
		"status": string(updated.Status),
	}))
	return updated, nil
}

// DeleteTask removes a task, reporting false when it was absent.
func (m *Manager) DeleteTask(ctx context.Context, id string) (bool, error) {
	ok, err := m.registry.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		m.publish(events.NewTaskEvent(events.EventTaskDeleted, events.SourceScheduler, id, nil))
		m.log.Info("scheduler: task deleted", "task", id)
	}
	return ok, nil
}

// GetTask returns a task by id.
func (m *Manager) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	return m.registry.GetByID(ctx, id)
}

// FindTasks queries the registry.
func (m *Manager) FindTasks(ctx context.Context, f tasks.Filter) ([]*tasks.Task, error) {
	return m.registry.Find(ctx, f)
}

// FindTasksForAgent returns the tasks stamped with the agent id.
func (m *Manager) FindTasksForAgent(ctx context.Context, agentID string) ([]*tasks.Task, error) {
	return m.registry.Find(ctx, tasks.ByAgent(agentID))
}

// ExecuteDueTasks performs one scheduling pass: select due tasks, run
// them under the concurrency cap, return the results. It is safe to
// call while the polling loop is stopped; a concurrent pass blocks
// until the running one finishes.
func (m *Manager) ExecuteDueTasks(ctx context.Context) ([]ExecutionResult, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	return m.executePass(ctx, "")
}

// ExecuteDueTasksForAgent runs a pass restricted to tasks carrying
// the agent id.
func (m *Manager) ExecuteDueTasksForAgent(ctx context.Context, agentID string) ([]ExecutionResult, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	return m.executePass(ctx, agentID)
}

// ExecuteTaskNow runs one task immediately, bypassing the due check
// but still waiting for a slot under the concurrency cap.
func (m *Manager) ExecuteTaskNow(ctx context.Context, id string) (ExecutionResult, error) {
	t, err := m.registry.GetByID(ctx, id)
	if err != nil {
		return ExecutionResult{}, err
	}
	return m.executor.ExecuteTask(ctx, t), nil
}

// Start begins the polling loop. Starting a running manager is a
// no-op reporting true; a manager that was never initialized, is
// disposed, or is disabled by configuration reports false.
func (m *Manager) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateRunning:
		return true
	case StateUninitialized:
		m.log.Warn("scheduler: start refused, not initialized")
		return false
	case StateDisposed:
		return false
	}
	if m.disabled {
		m.log.Warn("scheduler: start refused, disabled by configuration")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.loopDone = make(chan struct{})
	go m.loop(ctx, m.loopDone)
	m.state = StateRunning

	m.publish(events.NewEvent(events.EventSchedulerStarted, events.SourceScheduler, map[string]any{
		"intervalMs": m.interval.Milliseconds(),
	}))
	m.log.Info("scheduler: started", "interval", m.interval)
	return true
}

// Stop halts the polling loop, cancelling in-flight handlers and
// waiting up to the shutdown grace for them to finish. Handlers still
// running at the deadline are abandoned. Stopping a stopped manager
// is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.loopDone
	m.cancel, m.loopDone = nil, nil
	m.state = StateStopped
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(m.shutdownGrace):
		m.log.Warn("scheduler: shutdown grace elapsed, abandoning in-flight handlers", "grace", m.shutdownGrace)
	}

	m.publish(events.NewEvent(events.EventSchedulerStopped, events.SourceScheduler, nil))
	m.log.Info("scheduler: stopped")
}

// IsRunning reports whether the polling loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateRunning
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset stops the loop, clears every task and cache, and returns the
// manager to INITIALIZED. It is valid from any state.
func (m *Manager) Reset(ctx context.Context) error {
	m.Stop()
	if err := m.registry.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear registry: %w", err)
	}
	m.registry.InvalidateCaches()

	m.mu.Lock()
	m.state = StateInitialized
	m.lastTickAt = time.Time{}
	m.lastTickDuration = 0
	m.mu.Unlock()
	m.log.Info("scheduler: reset")
	return nil
}

// Dispose stops the loop and retires the manager permanently.
func (m *Manager) Dispose() {
	m.Stop()
	m.mu.Lock()
	m.state = StateDisposed
	m.mu.Unlock()
	m.log.Info("scheduler: disposed")
}

// Metrics returns a snapshot of the task population and loop state.
func (m *Manager) Metrics(ctx context.Context) (Metrics, error) {
	all, err := m.registry.Find(ctx, tasks.Filter{})
	if err != nil {
		return Metrics{}, fmt.Errorf("collect metrics: %w", err)
	}
	out := Metrics{TotalTasks: len(all)}
	for _, t := range all {
		switch t.Status {
		case tasks.StatusPending:
			out.TaskStatusCounts.Pending++
		case tasks.StatusRunning:
			out.TaskStatusCounts.Running++
		case tasks.StatusCompleted:
			out.TaskStatusCounts.Completed++
		case tasks.StatusFailed:
			out.TaskStatusCounts.Failed++
		case tasks.StatusCancelled:
			out.TaskStatusCounts.Cancelled++
		}
	}

	m.mu.Lock()
	out.IsRunning = m.state == StateRunning
	if !m.lastTickAt.IsZero() {
		at := m.lastTickAt
		out.LastTickAt = &at
	}
	out.LastTickDurationMS = m.lastTickDuration.Milliseconds()
	m.mu.Unlock()
	return out, nil
}

// loop is the single polling goroutine. Ticks run serially; a tick
// that outlives the period leaves a stale fire buffered in the
// ticker, which is drained so missed ticks are skipped, not queued.
func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// tick claims a scheduling pass if none is in flight; an explicit
// pass already running means this tick is skipped.
func (m *Manager) tick(ctx context.Context) {
	if !m.tickMu.TryLock() {
		m.log.Debug("scheduler: pass already in flight, skipping tick")
		return
	}
	defer m.tickMu.Unlock()

	started := m.now()
	results, err := m.executePass(ctx, "")
	duration := m.now().Sub(started)

	m.mu.Lock()
	m.lastTickAt = started
	m.lastTickDuration = duration
	m.mu.Unlock()

	if err != nil {
		m.log.Error("scheduler: tick failed", "error", err)
		return
	}
	if len(results) == 0 {
		return
	}

	succeeded := 0
	for _, r := range results {
		if r.Successful {
			succeeded++
		}
	}
	m.publish(events.NewEvent(events.EventSchedulerTick, events.SourceScheduler, map[string]any{
		"executed":   len(results),
		"succeeded":  succeeded,
		"failed":     len(results) - succeeded,
		"durationMs": duration.Milliseconds(),
	}))
	m.log.Info("scheduler: tick executed tasks",
		"executed", len(results), "succeeded", succeeded, "failed", len(results)-succeeded, "duration", duration)
}

// executePass selects due tasks, optionally narrows them to one
// agent, and hands them to the executor. Callers hold tickMu.
func (m *Manager) executePass(ctx context.Context, agentID string) ([]ExecutionResult, error) {
	due, err := m.scheduler.DueTasks(ctx, m.registry)
	if err != nil {
		return nil, err
	}
	if agentID != "" {
		scoped := due[:0:0]
		for _, t := range due {
			if ref, ok := t.AgentRef(); ok && ref.ID == agentID {
				scoped = append(scoped, t)
			}
		}
		due = scoped
	}
	if len(due) == 0 {
		return nil, nil
	}
	return m.executor.ExecuteTasks(ctx, due), nil
}

// resolveSchedule normalises the task's temporal input in place:
// vague terms and natural language become a concrete ScheduledTime,
// interval phrases become durations or cron lines, and interval tasks
// get their first fire time.
func (m *Manager) resolveSchedule(t *tasks.Task) {
	now := m.now()

	if t.ScheduleType == "" && t.Interval != nil {
		t.ScheduleType = tasks.ScheduleInterval
	}

	if t.ScheduledTime == nil && t.When != "" {
		if vr, ok := timeexpr.TranslateVagueTerm(t.When, now); ok {
			t.ScheduledTime = &vr.Date
			if t.Priority == 0 {
				t.Priority = vr.Priority
			}
			t.When = ""
		} else if nt, ok := timeexpr.ParseNaturalLanguage(t.When, now); ok {
			t.ScheduledTime = &nt
			t.When = ""
		}
		// Anything else is left for the registry's offset and ISO
		// normalisation.
	}

	if t.Priority == 0 {
		t.Priority = m.defaultPriority
	}

	if t.ScheduleType == tasks.ScheduleInterval && t.Interval != nil {
		expr := t.Interval.Expression
		if _, ok := nextIntervalTime(expr, now); !ok {
			// Phrases like "every morning" normalise to cron once, at
			// store time.
			expr = timeexpr.GenerateCronExpression(expr)
			t.Interval.Expression = expr
		}
		if t.ScheduledTime == nil {
			if next, ok := nextIntervalTime(expr, now); ok {
				t.ScheduledTime = &next
			}
		}
	}
}

func (m *Manager) publish(event events.Event) {
	if m.bus != nil {
		m.bus.Publish(event)
	}
}
