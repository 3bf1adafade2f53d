package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultEntityCacheSize = 500
	DefaultEntityCacheTTL  = 60 * time.Second
	DefaultQueryCacheSize  = 50
	DefaultQueryCacheTTL   = 30 * time.Second
)

// CachedRegistry wraps a Registry with an entity cache and a query
// cache. Only hot queries are cached: the bare pending-status filter
// and anything selecting due or overdue tasks. Every mutation clears
// both caches.
type CachedRegistry struct {
	inner    Registry
	entities *expirable.LRU[string, *Task]
	queries  *expirable.LRU[string, []*Task]
}

func NewCachedRegistry(inner Registry) *CachedRegistry {
	return NewCachedRegistryWith(inner, DefaultEntityCacheSize, DefaultEntityCacheTTL, DefaultQueryCacheSize, DefaultQueryCacheTTL)
}

func NewCachedRegistryWith(inner Registry, entitySize int, entityTTL time.Duration, querySize int, queryTTL time.Duration) *CachedRegistry {
	if entitySize <= 0 {
		entitySize = DefaultEntityCacheSize
	}
	if querySize <= 0 {
		querySize = DefaultQueryCacheSize
	}
	if entityTTL <= 0 {
		entityTTL = DefaultEntityCacheTTL
	}
	if queryTTL <= 0 {
		queryTTL = DefaultQueryCacheTTL
	}
	return &CachedRegistry{
		inner:    inner,
		entities: expirable.NewLRU[string, *Task](entitySize, nil, entityTTL),
		queries:  expirable.NewLRU[string, []*Task](querySize, nil, queryTTL),
	}
}

func (r *CachedRegistry) Initialize(ctx context.Context) error {
	return r.inner.Initialize(ctx)
}

func (r *CachedRegistry) Store(ctx context.Context, t *Task) (*Task, error) {
	stored, err := r.inner.Store(ctx, t)
	if err != nil {
		return nil, err
	}
	r.InvalidateCaches()
	r.entities.Add(stored.ID, stored.Clone())
	return stored, nil
}

func (r *CachedRegistry) GetByID(ctx context.Context, id string) (*Task, error) {
	if t, ok := r.entities.Get(id); ok {
		return t.Clone(), nil
	}
	t, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.entities.Add(id, t.Clone())
	return t, nil
}

func (r *CachedRegistry) Update(ctx context.Context, t *Task) (*Task, error) {
	updated, err := r.inner.Update(ctx, t)
	if err != nil {
		return nil, err
	}
	r.InvalidateCaches()
	r.entities.Add(updated.ID, updated.Clone())
	return updated, nil
}

func (r *CachedRegistry) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := r.inner.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		r.InvalidateCaches()
	}
	return ok, nil
}

func (r *CachedRegistry) Find(ctx context.Context, f Filter) ([]*Task, error) {
	key, cacheable := queryKey(f)
	if cacheable {
		if cached, ok := r.queries.Get(key); ok {
			return cloneTasks(cached), nil
		}
	}
	found, err := r.inner.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	if cacheable {
		r.queries.Add(key, cloneTasks(found))
	}
	return found, nil
}

func (r *CachedRegistry) Count(ctx context.Context, f Filter) (int, error) {
	return r.inner.Count(ctx, f)
}

func (r *CachedRegistry) ClearAll(ctx context.Context) error {
	if err := r.inner.ClearAll(ctx); err != nil {
		return err
	}
	r.InvalidateCaches()
	return nil
}

func (r *CachedRegistry) InvalidateCaches() {
	r.entities.Purge()
	r.queries.Purge()
	r.inner.InvalidateCaches()
}

// queryKey reports whether the filter is hot enough to cache and, if
// so, its canonical cache key.
func queryKey(f Filter) (string, bool) {
	if !hotQuery(f) {
		return "", false
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func hotQuery(f Filter) bool {
	if f.IsDueNow || f.IsOverdue {
		return true
	}
	bare := Filter{Statuses: f.Statuses}
	if len(f.Statuses) != 1 || f.Statuses[0] != StatusPending {
		return false
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return false
	}
	want, err := json.Marshal(bare)
	if err != nil {
		return false
	}
	return string(raw) == string(want)
}

func cloneTasks(list []*Task) []*Task {
	out := make([]*Task, len(list))
	for i, t := range list {
		out[i] = t.Clone()
	}
	return out
}
