package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dohr-michael/tempus/internal/tasks"
)

// flakyRegistry wraps a registry and fails a configurable window of
// Update calls.
type flakyRegistry struct {
	tasks.Registry
	updateCalls int
	failFrom    int // first Update call to fail, 1-based; 0 disables
	failCount   int
}

func (f *flakyRegistry) Update(ctx context.Context, task *tasks.Task) (*tasks.Task, error) {
	f.updateCalls++
	if f.failFrom > 0 && f.updateCalls >= f.failFrom && f.updateCalls < f.failFrom+f.failCount {
		return nil, fmt.Errorf("%w: injected update failure", tasks.ErrStorage)
	}
	return f.Registry.Update(ctx, task)
}

func storeDueTask(t *testing.T, reg tasks.Registry, name string, handler tasks.Handler) *tasks.Task {
	t.Helper()
	due := time.Now().Add(-time.Second)
	stored, err := reg.Store(context.Background(), &tasks.Task{
		Name:          name,
		ScheduleType:  tasks.ScheduleExplicit,
		ScheduledTime: &due,
		Handler:       handler,
	})
	if err != nil {
		t.Fatalf("store %s: %v", name, err)
	}
	return stored
}

func TestExecutorRunsTaskToCompletion(t *testing.T) {
	reg := tasks.NewMemoryRegistry()
	var calls atomic.Int32
	task := storeDueTask(t, reg, "greet", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "ok", nil
	})
	exec := NewExecutor(ExecutorConfig{Registry: reg})

	results := exec.ExecuteTasks(context.Background(), []*tasks.Task{task})
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if !r.Successful || r.Error != "" {
		t.Fatalf("result = %+v, want success", r)
	}
	if r.TaskID != task.ID {
		t.Errorf("result task id = %s, want %s", r.TaskID, task.ID)
	}
	if r.DurationMS < 0 {
		t.Errorf("duration = %d, want >= 0", r.DurationMS)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}

	after, err := reg.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.Status != tasks.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", after.Status)
	}
	if after.LastExecutedAt == nil {
		t.Error("LastExecutedAt not set")
	}
}

func TestExecutorMarksFailure(t *testing.T) {
	reg := tasks.NewMemoryRegistry()
	task := storeDueTask(t, reg, "boom", func(ctx context.Context) (any, error) {
		return nil, errors.New("disk on fire")
	})
	exec := NewExecutor(ExecutorConfig{Registry: reg})

	results := exec.ExecuteTasks(context.Background(), []*tasks.Task{task})
	if len(results) != 1 || results[0].Successful {
		t.Fatalf("results = %+v, want one failure", results)
	}
	if !strings.Contains(results[0].Error, "disk on fire") {
		t.Errorf("error = %q, want handler message", results[0].Error)
	}

	after, _ := reg.GetByID(context.Background(), task.ID)
	if after.Status != tasks.StatusFailed {
		t.Errorf("status = %s, want FAILED", after.Status)
	}
	msg, _ := after.Metadata["lastError"].(string)
	if !strings.Contains(msg, "disk on fire") {
		t.Errorf("metadata lastError = %q", msg)
	}
}

func TestExecutorFailureLeavesLastExecutedAtUnset(t *testing.T) {
	reg := tasks.NewMemoryRegistry()
	task := storeDueTask(t, reg, "flop", func(ctx context.Context) (any, error) {
		return nil, errors.New("no luck")
	})
	exec := NewExecutor(ExecutorConfig{Registry: reg})

	results := exec.ExecuteTasks(context.Background(), []*tasks.Task{task})
	if len(results) != 1 || results[0].Successful {
		t.Fatalf("results = %+v, want one failure", results)
	}

	after, err := reg.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if after.Status != tasks.StatusFailed {
		t.Errorf("status = %s, want FAILED", after.Status)
	}
	if after.LastExecutedAt != nil {
		t.Errorf("LastExecutedAt = %v, want unset after a failed run", after.LastExecutedAt)
	}
}

func TestExecutorIntervalRearm(t *testing.T) {
	reg := tasks.NewMemoryRegistry()
	due := time.Now().Add(-time.Second)
	stored, err := reg.Store(context.Background(), &tasks.Task{
		Name:          "tick",
		ScheduleType:  tasks.ScheduleInterval,
		ScheduledTime: &due,
		Interval:      &tasks.Interval{Expression: "1 hour"},
		Handler:       func(ctx context.Context) (any, error) { return nil, nil },
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	exec := NewExecutor(ExecutorConfig{Registry: reg})

	results := exec.ExecuteTasks(context.Background(), []*tasks.Task{stored})
	if len(results) != 1 || !results[0].Successful {
		t.Fatalf("results = %+v", results)
	}

	after, _ := reg.GetByID(context.Background(), stored.ID)
	if after.Status != tasks.StatusPending {
		t.Fatalf("status = %s, want PENDING after re-arm", after.Status)
	}
	if after.Interval.ExecutionCount != 1 {
		t.Errorf("execution count = %d, want 1", after.Interval.ExecutionCount)
	}
	if after.ScheduledTime == nil {
		t.Fatal("next fire time not set")
	}
	next := time.Until(*after.ScheduledTime)
	if next < 59*time.Minute || next > 61*time.Minute {
		t.Errorf("next fire in %v, want about 1h", next)
	}
	if after.LastExecutedAt == nil {
		t.Error("LastExecutedAt not set")
	}
}

func TestExecutorHandlerTimeout(t *testing.T) {
	reg := tasks.NewMemoryRegistry()
	task := storeDueTask(t, reg, "slow", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	exec := NewExecutor(ExecutorConfig{Registry: reg, Timeout: 30 * time.Millisecond})

	results := exec.ExecuteTasks(context.Background(), []*tasks.Task{task})
	if len(results) != 1 || results[0].Successful {
		t.Fatalf("results = %+v, want timeout failure", results)
	}
	if results[0].Error != tasks.ErrHandlerTimeout.Error() {
		t.Errorf("error = %q, want %q", results[0].Error, tasks.ErrHandlerTimeout.Error())
	}

	after, _ := reg.GetByID(context.Background(), task.ID)
	if after.Status != tasks.StatusFailed {
		t.Errorf("status = %s, want FAILED", after.Status)
	}
}

func TestExecutorRecoversPanic(t *testing.T) {
	reg := tasks.NewMemoryRegistry()
	task := storeDueTask(t, reg, "panicky", func(ctx context.Context) (any, error) {
		panic("cable unplugged")
	})
	exec := NewExecutor(ExecutorConfig{Registry: reg})

	results := exec.ExecuteTasks(context.Background(), []*tasks.Task{task})
	if len(results) != 1 || results[0].Successful {
		t.Fatalf("results = %+v, want failure", results)
	}
	if !strings.Contains(results[0].Error, "panicked") || !strings.Contains(results[0].Error, "cable unplugged") {
		t.Errorf("error = %q", results[0].Error)
	}
	after, _ := reg.GetByID(context.Background(), task.ID)
	if after.Status != tasks.StatusFailed {
		t.Errorf("status = %s, want FAILED", after.Status)
	}
}

func TestExecutorDefersTasksBeyondCap(t *testing.T) {
	reg := tasks.NewMemoryRegistry()
	gate := make(chan struct{})
	startedCh := make(chan struct{}, 4)
	handler := func(ctx context.Context) (any, error) {
		startedCh <- struct{}{}
		<-gate
		return nil, nil
	}
	batch := make([]*tasks.Task, 4)
	for i := range batch {
		batch[i] = storeDueTask(t, reg, fmt.Sprintf("job-%d", i), handler)
	}
	exec := NewExecutor(ExecutorConfig{Registry: reg, MaxConcurrent: 2})

	resultsCh := make(chan []ExecutionResult, 1)
	go func() { resultsCh <- exec.ExecuteTasks(context.Background(), batch) }()

	for i := 0; i < 2; i++ {
		select {
		case <-startedCh:
		case <-time.After(2 * time.Second):
			t.Fatal("handlers did not start")
		}
	}
	select {
	case <-startedCh:
		t.Fatal("third handler started beyond the cap")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate)
	results := <-resultsCh
	if len(results) != 2 {
		t.Fatalf("first pass results = %d, want 2 (rest deferred)", len(results))
	}
	if results[0].TaskID != batch[0].ID || results[1].TaskID != batch[1].ID {
		t.Errorf("started out of order: %+v", results)
	}

	// The deferred tasks stayed pending and run on the next pass.
	pending, err := reg.Find(context.Background(), tasks.Filter{Statuses: []tasks.Status{tasks.StatusPending}})
	if err != nil {
		t.Fatalf("find pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending after first pass = %d, want 2", len(pending))
	}

	results = exec.ExecuteTasks(context.Background(), []*tasks.Task{batch[2], batch[3]})
	<-startedCh
	<-startedCh
	if len(results) != 2 {
		t.Fatalf("second pass results = %d, want 2", len(results))
	}
}

func TestExecutorWriteBackRetriesOnce(t *testing.T) {
	flaky := &flakyRegistry{Registry: tasks.NewMemoryRegistry(), failFrom: 2, failCount: 1}
	task := storeDueTask(t, flaky, "retry", func(ctx context.Context) (any, error) { return nil, nil })
	exec := NewExecutor(ExecutorConfig{Registry: flaky})

	results := exec.ExecuteTasks(context.Background(), []*tasks.Task{task})
	if len(results) != 1 || !results[0].Successful {
		t.Fatalf("results = %+v, want success despite one write-back failure", results)
	}
	// mark-running, failed write-back, retried write-back
	if flaky.updateCalls != 3 {
		t.Errorf("update calls = %d, want 3", flaky.updateCalls)
	}
	after, _ := flaky.GetByID(context.Background(), task.ID)
	if after.Status != tasks.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", after.Status)
	}
}

func TestExecutorMarkRunningFailure(t *testing.T) {
	flaky := &flakyRegistry{Registry: tasks.NewMemoryRegistry(), failFrom: 1, failCount: 1}
	invoked := false
	task := storeDueTask(t, flaky, "stuck", func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	exec := NewExecutor(ExecutorConfig{Registry: flaky})

	results := exec.ExecuteTasks(context.Background(), []*tasks.Task{task})
	if len(results) != 1 || results[0].Successful {
		t.Fatalf("results = %+v, want failure", results)
	}
	if !strings.Contains(results[0].Error, "mark running") {
		t.Errorf("error = %q", results[0].Error)
	}
	if invoked {
		t.Error("handler ran despite failed running transition")
	}
	after, _ := flaky.GetByID(context.Background(), task.ID)
	if after.Status != tasks.StatusPending {
		t.Errorf("status = %s, want PENDING", after.Status)
	}
}

func TestExecutorRefusesNonPendingTask(t *testing.T) {
	reg := tasks.NewMemoryRegistry()
	task := storeDueTask(t, reg, "done", func(ctx context.Context) (any, error) { return nil, nil })
	task.Status = tasks.StatusRunning
	if _, err := reg.Update(context.Background(), task); err != nil {
		t.Fatalf("update: %v", err)
	}
	task.Status = tasks.StatusCompleted
	if _, err := reg.Update(context.Background(), task); err != nil {
		t.Fatalf("update: %v", err)
	}
	exec := NewExecutor(ExecutorConfig{Registry: reg})

	results := exec.ExecuteTasks(context.Background(), []*tasks.Task{task})
	if len(results) != 1 || results[0].Successful {
		t.Fatalf("results = %+v, want refusal", results)
	}
	if !strings.Contains(results[0].Error, "cannot start") {
		t.Errorf("error = %q", results[0].Error)
	}
}

func TestExecutorResolvesHandlerByID(t *testing.T) {
	reg := tasks.NewMemoryRegistry()
	handlers := tasks.NewHandlerRegistry()
	var ran atomic.Int32
	handlers.Register("report.daily", func(ctx context.Context) (any, error) {
		ran.Add(1)
		return nil, nil
	})

	due := time.Now().Add(-time.Second)
	bound, err := reg.Store(context.Background(), &tasks.Task{
		Name: "bound", ScheduledTime: &due, HandlerID: "report.daily",
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	unbound, err := reg.Store(context.Background(), &tasks.Task{
		Name: "unbound", ScheduledTime: &due, HandlerID: "never.registered",
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	exec := NewExecutor(ExecutorConfig{Registry: reg, Handlers: handlers})

	results := exec.ExecuteTasks(context.Background(), []*tasks.Task{bound, unbound})
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if !r.Successful {
			t.Errorf("result %s failed: %s", r.TaskID, r.Error)
		}
	}
	if ran.Load() != 1 {
		t.Errorf("registered handler ran %d times, want 1", ran.Load())
	}
	// The unbound task falls back to the no-op handler and still
	// completes its lifecycle.
	after, _ := reg.GetByID(context.Background(), unbound.ID)
	if after.Status != tasks.StatusCompleted {
		t.Errorf("unbound status = %s, want COMPLETED", after.Status)
	}
}
