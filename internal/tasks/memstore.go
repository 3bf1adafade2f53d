package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRegistry keeps tasks in process memory. It hands out deep
// copies so callers can never mutate stored state in place.
type MemoryRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tasks: map[string]*Task{},
		now:   time.Now,
	}
}

func (r *MemoryRegistry) Initialize(ctx context.Context) error { return nil }

func (r *MemoryRegistry) Store(ctx context.Context, t *Task) (*Task, error) {
	cp, err := normalizeForStore(t, r.now())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.tasks[cp.ID] = cp
	r.mu.Unlock()
	return cp.Clone(), nil
}

func (r *MemoryRegistry) GetByID(ctx context.Context, id string) (*Task, error) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	return t.Clone(), nil
}

func (r *MemoryRegistry) Update(ctx context.Context, t *Task) (*Task, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("update without id: %w", ErrInvalidTask)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.tasks[t.ID]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", t.ID, ErrTaskNotFound)
	}
	cp := t.Clone()
	if cp.Status == "" {
		cp.Status = existing.Status
	}
	if !CanTransition(existing.Status, cp.Status, t.TombstoneOverride) {
		return nil, fmt.Errorf("%w: status cannot move %s -> %s", ErrInvalidTask, existing.Status, cp.Status)
	}
	cp.TombstoneOverride = false
	cp.UpdatedAt = r.now()
	r.tasks[cp.ID] = cp
	return cp.Clone(), nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return false, nil
	}
	delete(r.tasks, id)
	return true, nil
}

func (r *MemoryRegistry) Find(ctx context.Context, f Filter) ([]*Task, error) {
	now := r.now()
	r.mu.RLock()
	matched := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if f.matches(t, now) {
			matched = append(matched, t.Clone())
		}
	}
	r.mu.RUnlock()
	return f.applyOrder(matched), nil
}

func (r *MemoryRegistry) Count(ctx context.Context, f Filter) (int, error) {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.tasks {
		if f.matches(t, now) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRegistry) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	r.tasks = map[string]*Task{}
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) InvalidateCaches() {}
