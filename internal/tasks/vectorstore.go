package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/tempus/internal/storage"
)

// VectorSize is the dimension of the dummy vectors stored alongside
// task payloads. Semantic search is not used; the point store is a
// payload database here.
const VectorSize = 1536

const defaultCollection = "tasks"

var zeroVector = make([]float32, VectorSize)

// VectorRegistry persists tasks as payloads in a point store. Task ids
// (ULIDs) are re-encoded as UUID point ids; the payload keeps the
// original id and wins on read.
type VectorRegistry struct {
	backend    storage.Backend
	collection string
	log        *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	ready bool
}

func NewVectorRegistry(backend storage.Backend, collection string, log *slog.Logger) *VectorRegistry {
	if collection == "" {
		collection = defaultCollection
	}
	if log == nil {
		log = slog.Default()
	}
	return &VectorRegistry{
		backend:    backend,
		collection: collection,
		log:        log,
		now:        time.Now,
	}
}

func (r *VectorRegistry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}
	if err := r.backend.EnsureCollection(ctx, r.collection, VectorSize, storage.DistanceDot); err != nil {
		return fmt.Errorf("ensure collection %q: %w", r.collection, err)
	}
	r.ready = true
	return nil
}

func (r *VectorRegistry) Store(ctx context.Context, t *Task) (*Task, error) {
	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}
	cp, err := normalizeForStore(t, r.now())
	if err != nil {
		return nil, err
	}
	if err := r.upsert(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (r *VectorRegistry) GetByID(ctx context.Context, id string) (*Task, error) {
	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}
	points, err := r.backend.Retrieve(ctx, r.collection, []string{PointID(id)})
	if err != nil {
		return nil, fmt.Errorf("retrieve task %q: %w", id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	t, err := taskFromPayload(points[0].Payload, r.now())
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *VectorRegistry) Update(ctx context.Context, t *Task) (*Task, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("update without id: %w", ErrInvalidTask)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	existing, err := r.GetByID(ctx, t.ID)
	if err != nil {
		return nil, err
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
	if err := r.upsert(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (r *VectorRegistry) Delete(ctx context.Context, id string) (bool, error) {
	if err := r.Initialize(ctx); err != nil {
		return false, err
	}
	points, err := r.backend.Retrieve(ctx, r.collection, []string{PointID(id)})
	if err != nil {
		return false, fmt.Errorf("retrieve task %q: %w", id, err)
	}
	if len(points) == 0 {
		return false, nil
	}
	if err := r.backend.Delete(ctx, r.collection, storage.DeleteSelector{IDs: []string{PointID(id)}}); err != nil {
		return false, fmt.Errorf("delete task %q: %w", id, err)
	}
	return true, nil
}

func (r *VectorRegistry) Find(ctx context.Context, f Filter) ([]*Task, error) {
	matched, err := r.scan(ctx, f)
	if err != nil {
		return nil, err
	}
	return f.applyOrder(matched), nil
}

func (r *VectorRegistry) Count(ctx context.Context, f Filter) (int, error) {
	matched, err := r.scan(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (r *VectorRegistry) ClearAll(ctx context.Context) error {
	if err := r.Initialize(ctx); err != nil {
		return err
	}
	ids, err := r.pointIDs(ctx, nil)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := r.backend.Delete(ctx, r.collection, storage.DeleteSelector{IDs: ids}); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	return nil
}

func (r *VectorRegistry) InvalidateCaches() {}

func (r *VectorRegistry) upsert(ctx context.Context, t *Task) error {
	point := storage.Point{
		ID:      PointID(t.ID),
		Vector:  zeroVector,
		Payload: taskToPayload(t),
	}
	if err := r.backend.Upsert(ctx, r.collection, []storage.Point{point}); err != nil {
		return fmt.Errorf("persist task %q: %w", t.ID, err)
	}
	return nil
}

// scan fetches candidates with as much of the filter pushed down as
// the store DSL can express, then re-applies the full filter
// in-process. Unreadable payloads are skipped with a warning.
func (r *VectorRegistry) scan(ctx context.Context, f Filter) ([]*Task, error) {
	if err := r.Initialize(ctx); err != nil {
		return nil, err
	}
	now := r.now()
	sf := pushdownFilter(f)
	var matched []*Task
	req := storage.ScrollRequest{Filter: sf, WithPayload: true, Limit: 256}
	for {
		res, err := r.backend.Scroll(ctx, r.collection, req)
		if err != nil {
			return nil, fmt.Errorf("scroll tasks: %w", err)
		}
		for _, p := range res.Points {
			t, err := taskFromPayload(p.Payload, now)
			if err != nil {
				r.log.Warn("skipping unreadable task payload", slog.String("point", p.ID), slog.String("error", err.Error()))
				continue
			}
			if f.matches(t, now) {
				matched = append(matched, t)
			}
		}
		if res.NextOffset == nil {
			break
		}
		req.Offset = res.NextOffset
	}
	return matched, nil
}

func (r *VectorRegistry) pointIDs(ctx context.Context, sf *storage.Filter) ([]string, error) {
	var ids []string
	req := storage.ScrollRequest{Filter: sf, Limit: 256}
	for {
		res, err := r.backend.Scroll(ctx, r.collection, req)
		if err != nil {
			return nil, fmt.Errorf("scroll tasks: %w", err)
		}
		for _, p := range res.Points {
			ids = append(ids, p.ID)
		}
		if res.NextOffset == nil {
			return ids, nil
		}
		req.Offset = res.NextOffset
	}
}

// pushdownFilter translates the parts of a task filter the store DSL
// can express. Date ranges and due-time checks stay in-process.
func pushdownFilter(f Filter) *storage.Filter {
	var sf storage.Filter
	if len(f.IDs) > 0 {
		ids := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = PointID(id)
		}
		sf.Must = append(sf.Must, storage.HasIDs(ids...))
	}
	if f.Name != "" {
		sf.Must = append(sf.Must, storage.MatchValue("name", f.Name))
	}
	if f.NameContains != "" {
		sf.Must = append(sf.Must, storage.TextContains("name", f.NameContains))
	}
	if len(f.Statuses) > 0 {
		vals := make([]any, len(f.Statuses))
		for i, s := range f.Statuses {
			vals[i] = string(s)
		}
		sf.Must = append(sf.Must, storage.MatchAny("status", vals...))
	}
	if len(f.ScheduleTypes) > 0 {
		vals := make([]any, len(f.ScheduleTypes))
		for i, s := range f.ScheduleTypes {
			vals[i] = string(s)
		}
		sf.Must = append(sf.Must, storage.MatchAny("scheduleType", vals...))
	}
	if f.MinPriority != nil || f.MaxPriority != nil {
		var gte, lte *float64
		if f.MinPriority != nil {
			gte = storage.Float(float64(*f.MinPriority))
		}
		if f.MaxPriority != nil {
			lte = storage.Float(float64(*f.MaxPriority))
		}
		sf.Must = append(sf.Must, storage.NumRange("priority", gte, lte))
	}
	for _, tag := range f.Tags {
		sf.Must = append(sf.Must, storage.MatchValue("tags", tag))
	}
	if len(f.AnyTags) > 0 {
		vals := make([]any, len(f.AnyTags))
		for i, tag := range f.AnyTags {
			vals[i] = tag
		}
		sf.Must = append(sf.Must, storage.MatchAny("tags", vals...))
	}
	if f.IsDueNow || f.IsOverdue {
		sf.Must = append(sf.Must, storage.MatchValue("status", string(StatusPending)))
	}
	for path, want := range f.Metadata {
		sf.Must = append(sf.Must, storage.MatchValue("metadata."+path, want))
	}
	if len(sf.Must) == 0 {
		return nil
	}
	return &sf
}
