// Package backend defines the narrow, backend-agnostic persistence contract
// (component A) and its two required implementations: an embedded,
// in-process store with client-side fallback vector search, and a
// PostgreSQL+pgvector store with native ANN search.
package backend

import (
	"context"
	"time"
)

// Record is an opaque payload the backend persists; the entity store (B)
// is responsible for encoding/decoding its typed models to/from this shape.
type Record = map[string]any

// Filter is a small predicate language: equality, set membership, and
// boolean-and. Each entry is either a scalar (equality) or a slice (set
// membership — field must be one of the values).
type Filter map[string]any

// ListOptions carries projection/sort/limit/offset for List.
type ListOptions struct {
	Sort   string // field name; "-field" for descending
	Limit  int
	Offset int
	Cursor string // opaque restart token, used instead of Offset when set
}

// ScoredKey is one hit from VectorSearch.
type ScoredKey struct {
	Key   string
	Score float64
}

// FieldSpec declares one indexed field for EnsureSchema.
type FieldSpec struct {
	Name   string
	Unique bool
}

// CollectionSpec describes the indexes a collection requires, including the
// optional vector index (dimension + metric).
type CollectionSpec struct {
	Name       string
	Fields     []FieldSpec
	VectorDim  int // 0 means "no vector index for this collection"
	VectorName string
}

// Iterator is a restartable, lazy sequence of records returned by List.
// Callers must call Close when done, even after an error from Next.
type Iterator interface {
	Next(ctx context.Context) (key string, record Record, ok bool, err error)
	Close() error
}

// Driver is the backend-agnostic persistence contract (component A).
// Single-key operations are atomic; multi-key consistency is not promised.
// Implementations must tolerate partial failure and surface
// contracts.BackendUnavailable rather than panicking or hanging.
type Driver interface {
	Get(ctx context.Context, collection, key string) (Record, error)
	Put(ctx context.Context, collection, key string, record Record) error
	Delete(ctx context.Context, collection, key string) (existed bool, err error)
	List(ctx context.Context, collection string, filter Filter, opts ListOptions) (Iterator, error)
	VectorSearch(ctx context.Context, collection string, query []float64, k int, filter Filter) ([]ScoredKey, error)
	EnsureSchema(ctx context.Context, spec CollectionSpec) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// matchFilter evaluates the small predicate language against a decoded
// record. The embedded driver filters this way; the postgres driver compiles
// its filters to SQL instead and does not call it.
func matchFilter(record Record, filter Filter) bool {
	for field, want := range filter {
		got, present := record[field]
		switch w := want.(type) {
		case []string:
			if !present || !containsAny(got, w) {
				return false
			}
		case []any:
			if !present || !containsAnyIface(got, w) {
				return false
			}
		default:
			if !present || got != want {
				return false
			}
		}
	}
	return true
}

func containsAny(got any, want []string) bool {
	s, ok := got.(string)
	if !ok {
		return false
	}
	for _, w := range want {
		if s == w {
			return true
		}
	}
	return false
}

func containsAnyIface(got any, want []any) bool {
	for _, w := range want {
		if got == w {
			return true
		}
	}
	return false
}

// deadline applies a sensible default timeout to operations invoked without
// one, matching §5's "every outbound call is bounded by a deadline" rule.
func deadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
