package tasks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// HandlerPlaceholder is the sentinel persisted in place of a live
// handler; callables cannot survive a process restart.
const HandlerPlaceholder = "function_handler_placeholder"

// HandlerRegistry maps stable handler ids to live callables. Callers
// populate it at startup; the manager consults it to re-bind handlers
// to tasks loaded from the store.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds a handler id to a callable, replacing any previous
// binding.
func (r *HandlerRegistry) Register(id string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = h
}

// Resolve looks up the handler bound to id.
func (r *HandlerRegistry) Resolve(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Names returns the registered handler ids, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// NoopHandler is substituted for tasks whose handler could not be
// re-bound; it logs a warning and succeeds so the task's lifecycle
// still advances.
func NoopHandler(log *slog.Logger, taskID string) Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context) (any, error) {
		log.Warn("executing no-op handler for task without a bound handler", "task", taskID)
		return nil, nil
	}
}
