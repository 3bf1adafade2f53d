// Package storage defines the point-store contract the task registry
// persists through, plus three bindings: an in-memory store, a SQLite
// store, and a Qdrant REST client. Points carry a UUID id, a vector,
// and a free-form JSON payload; queries use a small must/must_not
// filter DSL evaluated identically by every binding.
package storage

import (
	"context"
	"errors"
)

// Distance names for collection creation.
const (
	DistanceDot    = "Dot"
	DistanceCosine = "Cosine"
)

// ErrCollectionNotFound reports an operation against a collection that
// was never created.
var ErrCollectionNotFound = errors.New("collection not found")

// Point is a stored record: UUID id, embedding vector, JSON payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// CollectionInfo describes a collection's fixed parameters.
type CollectionInfo struct {
	Name       string `json:"name"`
	VectorSize int    `json:"vector_size"`
	Distance   string `json:"distance"`
}

// ScrollRequest pages through the points of a collection. Offset is
// binding-specific: an integer index for the local bindings, a point id
// for Qdrant. Pass the NextOffset of the previous result to continue.
type ScrollRequest struct {
	Filter      *Filter
	WithPayload bool
	Limit       int
	Offset      any
}

// ScrollResult is one page of points. NextOffset is nil when the scroll
// is exhausted.
type ScrollResult struct {
	Points     []Point
	NextOffset any
}

// DeleteSelector targets points either by explicit ids or by filter.
type DeleteSelector struct {
	IDs    []string
	Filter *Filter
}

// Backend is the storage contract. All implementations are safe for
// concurrent use.
type Backend interface {
	// EnsureCollection creates the collection when missing; calling it
	// again with the same parameters is a no-op.
	EnsureCollection(ctx context.Context, name string, vectorSize int, distance string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	Collections(ctx context.Context) ([]string, error)

	Upsert(ctx context.Context, collection string, points []Point) error
	// SetPayload merges the given payload keys into each targeted point.
	SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error
	Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error)
	Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollResult, error)
	Count(ctx context.Context, collection string, filter *Filter) (int, error)
	Delete(ctx context.Context, collection string, sel DeleteSelector) error
}
