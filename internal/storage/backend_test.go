package storage

import (
	"context"
	"testing"
)

// runBackendTests exercises the Backend contract against any binding.
func runBackendTests(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	const col = "tasks_test"

	if err := b.EnsureCollection(ctx, col, 4, DistanceDot); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	// Second call is a no-op.
	if err := b.EnsureCollection(ctx, col, 4, DistanceDot); err != nil {
		t.Fatalf("EnsureCollection (repeat): %v", err)
	}

	exists, err := b.CollectionExists(ctx, col)
	if err != nil || !exists {
		t.Fatalf("CollectionExists = %v, %v; want true", exists, err)
	}
	if exists, _ := b.CollectionExists(ctx, "nope"); exists {
		t.Fatal("CollectionExists(nope) = true")
	}

	names, err := b.Collections(ctx)
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	found := false
	for _, n := range names {
		if n == col {
			found = true
		}
	}
	if !found {
		t.Fatalf("Collections = %v, missing %q", names, col)
	}

	points := []Point{
		{ID: "a1", Vector: []float32{0, 0, 0, 0}, Payload: map[string]any{"status": "PENDING", "priority": float64(3)}},
		{ID: "b2", Vector: []float32{0, 0, 0, 0}, Payload: map[string]any{"status": "PENDING", "priority": float64(8)}},
		{ID: "c3", Vector: []float32{0, 0, 0, 0}, Payload: map[string]any{"status": "COMPLETED", "priority": float64(5)}},
	}
	if err := b.Upsert(ctx, col, points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := b.Retrieve(ctx, col, []string{"a1", "missing", "c3"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Retrieve returned %d points, want 2", len(got))
	}

	// Filtered count.
	n, err := b.Count(ctx, col, &Filter{Must: []Condition{MatchValue("status", "PENDING")}})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	// Scroll with filter and pagination, ordered by id.
	res, err := b.Scroll(ctx, col, ScrollRequest{
		Filter:      &Filter{Must: []Condition{MatchValue("status", "PENDING")}},
		WithPayload: true,
		Limit:       1,
	})
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(res.Points) != 1 || res.Points[0].ID != "a1" {
		t.Fatalf("Scroll page 1 = %+v, want single point a1", res.Points)
	}
	if res.NextOffset == nil {
		t.Fatal("Scroll page 1: expected a next offset")
	}

	res, err = b.Scroll(ctx, col, ScrollRequest{
		Filter:      &Filter{Must: []Condition{MatchValue("status", "PENDING")}},
		WithPayload: true,
		Limit:       1,
		Offset:      res.NextOffset,
	})
	if err != nil {
		t.Fatalf("Scroll page 2: %v", err)
	}
	if len(res.Points) != 1 || res.Points[0].ID != "b2" {
		t.Fatalf("Scroll page 2 = %+v, want single point b2", res.Points)
	}
	if res.NextOffset != nil {
		t.Fatalf("Scroll page 2: next offset = %v, want nil", res.NextOffset)
	}

	// Merge payload keys.
	if err := b.SetPayload(ctx, col, []string{"a1"}, map[string]any{"status": "RUNNING", "note": "x"}); err != nil {
		t.Fatalf("SetPayload: %v", err)
	}
	got, err = b.Retrieve(ctx, col, []string{"a1"})
	if err != nil || len(got) != 1 {
		t.Fatalf("Retrieve after SetPayload: %v (%d points)", err, len(got))
	}
	if got[0].Payload["status"] != "RUNNING" || got[0].Payload["note"] != "x" {
		t.Fatalf("payload after SetPayload = %v", got[0].Payload)
	}
	if _, ok := got[0].Payload["priority"]; !ok {
		t.Fatal("SetPayload dropped untouched keys")
	}

	// Delete by id, then by filter.
	if err := b.Delete(ctx, col, DeleteSelector{IDs: []string{"a1"}}); err != nil {
		t.Fatalf("Delete by id: %v", err)
	}
	if n, _ := b.Count(ctx, col, nil); n != 2 {
		t.Fatalf("Count after id delete = %d, want 2", n)
	}
	if err := b.Delete(ctx, col, DeleteSelector{Filter: &Filter{Must: []Condition{MatchValue("status", "COMPLETED")}}}); err != nil {
		t.Fatalf("Delete by filter: %v", err)
	}
	if n, _ := b.Count(ctx, col, nil); n != 1 {
		t.Fatalf("Count after filter delete = %d, want 1", n)
	}
}
