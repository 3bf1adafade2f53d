package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dohr-michael/tempus/internal/events"
	"github.com/dohr-michael/tempus/internal/storage"
	"github.com/dohr-michael/tempus/internal/tasks"
	"github.com/dohr-michael/tempus/internal/timeexpr"
)

// DefaultMaxConcurrent is the executor's concurrency cap.
const DefaultMaxConcurrent = 5

// ExecutionResult reports the outcome of one task run.
type ExecutionResult struct {
	TaskID     string `json:"taskId"`
	Successful bool   `json:"successful"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// ExecutorConfig holds executor dependencies and tuning.
type ExecutorConfig struct {
	Registry tasks.Registry
	Handlers *tasks.HandlerRegistry
	Bus      *events.Bus
	// History receives one record per run when set.
	History *storage.ExecutionLog
	// MaxConcurrent caps parallel handlers; zero means the default.
	MaxConcurrent int
	// Timeout bounds each handler; zero means unbounded.
	Timeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Executor runs batches of tasks with bounded parallelism and owns the
// status transitions around each run.
type Executor struct {
	registry tasks.Registry
	handlers *tasks.HandlerRegistry
	bus      *events.Bus
	history  *storage.ExecutionLog
	sem      *semaphore.Weighted
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	capacity := cfg.MaxConcurrent
	if capacity <= 0 {
		capacity = DefaultMaxConcurrent
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		registry: cfg.Registry,
		handlers: cfg.Handlers,
		bus:      cfg.Bus,
		history:  cfg.History,
		sem:      semaphore.NewWeighted(int64(capacity)),
		timeout:  cfg.Timeout,
		log:      log,
		now:      time.Now,
	}
}

// ExecuteTasks runs the batch, starting tasks in the given order and
// never exceeding the concurrency cap. When the cap is saturated the
// rest of the batch is not started; those tasks stay pending and are
// selected again on a later pass. Results come back in start order
// once every started task has finished.
func (e *Executor) ExecuteTasks(ctx context.Context, batch []*tasks.Task) []ExecutionResult {
	results := make([]ExecutionResult, len(batch))
	started := make([]bool, len(batch))
	var wg sync.WaitGroup
	for i, t := range batch {
		if ctx.Err() != nil {
			break
		}
		if !e.sem.TryAcquire(1) {
			e.log.Debug("executor: concurrency cap reached, deferring remaining tasks",
				"deferred", len(batch)-i)
			break
		}
		started[i] = true
		wg.Add(1)
		go func(i int, t *tasks.Task) {
			defer wg.Done()
			defer e.sem.Release(1)
			results[i] = e.executeOne(ctx, t)
		}(i, t)
	}
	wg.Wait()

	out := make([]ExecutionResult, 0, len(batch))
	for i := range batch {
		if started[i] {
			out = append(out, results[i])
		}
	}
	return out
}

// ExecuteTask runs a single task, waiting for a slot under the
// concurrency cap instead of deferring.
func (e *Executor) ExecuteTask(ctx context.Context, t *tasks.Task) ExecutionResult {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return ExecutionResult{TaskID: t.ID, Successful: false, Error: err.Error()}
	}
	defer e.sem.Release(1)
	return e.executeOne(ctx, t)
}

func (e *Executor) executeOne(ctx context.Context, t *tasks.Task) ExecutionResult {
	started := e.now()

	if !tasks.CanTransition(t.Status, tasks.StatusRunning, false) {
		return ExecutionResult{
			TaskID:     t.ID,
			Successful: false,
			Error:      fmt.Sprintf("task %s cannot start from status %s", t.ID, t.Status),
		}
	}

	run := t.Clone()
	run.Status = tasks.StatusRunning
	persisted, err := e.registry.Update(ctx, run)
	if err != nil {
		return ExecutionResult{
			TaskID:     t.ID,
			Successful: false,
			Error:      fmt.Sprintf("mark running: %v", err),
		}
	}
	run = persisted
	run.Handler = t.Handler

	e.publish(events.NewTaskEvent(events.EventExecutionStarted, events.SourceExecutor, t.ID, map[string]any{
		"name": t.Name,
	}))

	_, runErr := e.invoke(ctx, run)
	finished := e.now()
	duration := finished.Sub(started)

	if runErr != nil {
		// LastExecutedAt marks the last successful run and stays
		// untouched on failure.
		run.Status = tasks.StatusFailed
		if run.Metadata == nil {
			run.Metadata = map[string]any{}
		}
		run.Metadata["lastError"] = runErr.Error()
	} else {
		run.LastExecutedAt = &finished
		if run.ScheduleType == tasks.ScheduleInterval && run.Interval != nil {
			// Successful interval runs re-arm instead of completing; the
			// next fire time and execution count land in the same write.
			next, ok := nextIntervalTime(run.Interval.Expression, finished)
			if ok {
				run.Status = tasks.StatusPending
				run.ScheduledTime = &next
				run.Interval.ExecutionCount++
			} else {
				e.log.Warn("executor: interval task has unusable expression, completing",
					"task", run.ID, "expression", run.Interval.Expression)
				run.Status = tasks.StatusCompleted
			}
		} else {
			run.Status = tasks.StatusCompleted
		}
	}

	e.writeBack(ctx, run)
	e.record(t, runErr, finished, duration)

	result := ExecutionResult{
		TaskID:     t.ID,
		Successful: runErr == nil,
		DurationMS: duration.Milliseconds(),
	}
	if runErr != nil {
		result.Error = runErr.Error()
		e.publish(events.NewTaskEvent(events.EventExecutionFailed, events.SourceExecutor, t.ID, map[string]any{
			"name":       t.Name,
			"error":      runErr.Error(),
			"durationMs": duration.Milliseconds(),
		}))
		e.log.Warn("executor: task failed", "task", t.ID, "name", t.Name, "error", runErr, "duration", duration)
	} else {
		e.publish(events.NewTaskEvent(events.EventExecutionCompleted, events.SourceExecutor, t.ID, map[string]any{
			"name":       t.Name,
			"durationMs": duration.Milliseconds(),
		}))
		e.log.Info("executor: task completed", "task", t.ID, "name", t.Name, "duration", duration)
	}
	return result
}

// invoke runs the task's handler with cancellation and the configured
// timeout, converting panics into errors. A handler that outlives its
// context is abandoned; its goroutine exits on its own schedule.
func (e *Executor) invoke(ctx context.Context, t *tasks.Task) (any, error) {
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	handler := t.Handler
	if handler == nil && t.HandlerID != "" && e.handlers != nil {
		if h, ok := e.handlers.Resolve(t.HandlerID); ok {
			handler = h
		}
	}
	if handler == nil {
		handler = tasks.NoopHandler(e.log, t.ID)
	}

	type outcome struct {
		out any
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("%w: handler panicked: %v", tasks.ErrHandler, r)}
			}
		}()
		out, err := handler(runCtx)
		if err != nil {
			err = fmt.Errorf("%w: %v", tasks.ErrHandler, err)
		}
		ch <- outcome{out: out, err: err}
	}()

	select {
	case o := <-ch:
		return o.out, o.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, tasks.ErrHandlerTimeout
		}
		return nil, runCtx.Err()
	}
}

// writeBack persists the post-run state, retrying once. When both
// attempts fail the transition is lost in storage; the task object is
// marked failed so callers at least see a consistent view. The write
// uses a context detached from cancellation so a handler finishing
// during shutdown still gets its transition persisted.
func (e *Executor) writeBack(ctx context.Context, run *tasks.Task) {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.registry.Update(ctx, run); err != nil {
		e.log.Warn("executor: write-back failed, retrying", "task", run.ID, "error", err)
		if _, err2 := e.registry.Update(ctx, run); err2 != nil {
			e.log.Error("executor: write-back failed permanently", "task", run.ID, "error", err2)
			run.Status = tasks.StatusFailed
		}
	}
}

func (e *Executor) record(t *tasks.Task, runErr error, at time.Time, duration time.Duration) {
	if e.history == nil {
		return
	}
	rec := storage.ExecutionRecord{
		TaskID:     t.ID,
		TaskName:   t.Name,
		Successful: runErr == nil,
		DurationMS: duration.Milliseconds(),
		At:         at,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := e.history.Append(rec); err != nil {
		e.log.Warn("executor: history append failed", "task", t.ID, "error", err)
	}
}

func (e *Executor) publish(event events.Event) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

// nextIntervalTime resolves an interval expression against a base
// time, accepting both plain durations ("5 minutes") and cron specs.
func nextIntervalTime(expr string, base time.Time) (time.Time, bool) {
	if next, err := timeexpr.CalculateInterval(base, expr); err == nil {
		return next, true
	}
	if next, ok := timeexpr.NextExecutionFromCron(expr, base); ok {
		return next, true
	}
	return time.Time{}, false
}
