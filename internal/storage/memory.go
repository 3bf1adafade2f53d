package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend keeps collections in process memory. It implements the
// full Backend contract and is the binding used by tests and local
// development.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	info   CollectionInfo
	points map[string]Point
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]*memCollection)}
}

func (b *MemoryBackend) EnsureCollection(_ context.Context, name string, vectorSize int, distance string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.collections[name]; ok {
		return nil
	}
	b.collections[name] = &memCollection{
		info:   CollectionInfo{Name: name, VectorSize: vectorSize, Distance: distance},
		points: make(map[string]Point),
	}
	return nil
}

func (b *MemoryBackend) CollectionExists(_ context.Context, name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.collections[name]
	return ok, nil
}

func (b *MemoryBackend) Collections(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.collections))
	for name := range b.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *MemoryBackend) Upsert(_ context.Context, collection string, points []Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	col, ok := b.collections[collection]
	if !ok {
		return fmt.Errorf("upsert %q: %w", collection, ErrCollectionNotFound)
	}
	for _, p := range points {
		col.points[p.ID] = clonePoint(p)
	}
	return nil
}

func (b *MemoryBackend) SetPayload(_ context.Context, collection string, ids []string, payload map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	col, ok := b.collections[collection]
	if !ok {
		return fmt.Errorf("set payload %q: %w", collection, ErrCollectionNotFound)
	}
	for _, id := range ids {
		p, ok := col.points[id]
		if !ok {
			continue
		}
		if p.Payload == nil {
			p.Payload = make(map[string]any, len(payload))
		}
		for k, v := range payload {
			p.Payload[k] = v
		}
		col.points[id] = p
	}
	return nil
}

func (b *MemoryBackend) Retrieve(_ context.Context, collection string, ids []string) ([]Point, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	col, ok := b.collections[collection]
	if !ok {
		return nil, fmt.Errorf("retrieve %q: %w", collection, ErrCollectionNotFound)
	}
	points := make([]Point, 0, len(ids))
	for _, id := range ids {
		if p, ok := col.points[id]; ok {
			points = append(points, clonePoint(p))
		}
	}
	return points, nil
}

func (b *MemoryBackend) Scroll(_ context.Context, collection string, req ScrollRequest) (ScrollResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	col, ok := b.collections[collection]
	if !ok {
		return ScrollResult{}, fmt.Errorf("scroll %q: %w", collection, ErrCollectionNotFound)
	}

	matched := b.matchSorted(col, req.Filter)

	start := 0
	if n, ok := req.Offset.(int); ok && n > 0 {
		start = n
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if req.Limit > 0 && start+req.Limit < end {
		end = start + req.Limit
	}

	res := ScrollResult{Points: make([]Point, 0, end-start)}
	for _, p := range matched[start:end] {
		cp := clonePoint(p)
		if !req.WithPayload {
			cp.Payload = nil
		}
		res.Points = append(res.Points, cp)
	}
	if end < len(matched) {
		res.NextOffset = end
	}
	return res, nil
}

func (b *MemoryBackend) Count(_ context.Context, collection string, filter *Filter) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	col, ok := b.collections[collection]
	if !ok {
		return 0, fmt.Errorf("count %q: %w", collection, ErrCollectionNotFound)
	}
	n := 0
	for id, p := range col.points {
		if filter.Matches(id, p.Payload) {
			n++
		}
	}
	return n, nil
}

func (b *MemoryBackend) Delete(_ context.Context, collection string, sel DeleteSelector) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	col, ok := b.collections[collection]
	if !ok {
		return fmt.Errorf("delete %q: %w", collection, ErrCollectionNotFound)
	}
	if len(sel.IDs) > 0 {
		for _, id := range sel.IDs {
			delete(col.points, id)
		}
		return nil
	}
	if sel.Filter == nil {
		return nil
	}
	for id, p := range col.points {
		if sel.Filter.Matches(id, p.Payload) {
			delete(col.points, id)
		}
	}
	return nil
}

// matchSorted returns the filtered points ordered by id, which keeps
// scroll pagination stable.
func (b *MemoryBackend) matchSorted(col *memCollection, filter *Filter) []Point {
	matched := make([]Point, 0, len(col.points))
	for id, p := range col.points {
		if filter.Matches(id, p.Payload) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched
}

func clonePoint(p Point) Point {
	cp := Point{ID: p.ID}
	if p.Vector != nil {
		cp.Vector = make([]float32, len(p.Vector))
		copy(cp.Vector, p.Vector)
	}
	if p.Payload != nil {
		cp.Payload = cloneMap(p.Payload)
	}
	return cp
}

func cloneMap(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			cp[k] = cloneMap(nested)
			continue
		}
		if arr, ok := v.([]any); ok {
			dup := make([]any, len(arr))
			for i, elem := range arr {
				if nested, ok := elem.(map[string]any); ok {
					dup[i] = cloneMap(nested)
				} else {
					dup[i] = elem
				}
			}
			cp[k] = dup
			continue
		}
		cp[k] = v
	}
	return cp
}
