// Package vectorstore persists story and illustration records as
// (id, vector, payload) points and answers similarity queries over them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/storyloom/internal/fault"
)

// Distance is the similarity metric of a collection.
type Distance string

const Cosine Distance = "cosine"

// Collection describes a named set of points of fixed dimension.
type Collection struct {
	Name      string
	Dimension int
	Distance  Distance
}

// Point is a single stored record.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// Match is a point returned by a similarity query.
type Match struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Backend is the storage engine behind the Adapter. Implementations must
// never drop or recreate an existing collection.
type Backend interface {
	// Describe reports how an existing collection was created, or
	// ErrCollectionNotFound. A zero Dimension means the backend does not
	// know it.
	Describe(ctx context.Context, name string) (Collection, error)
	CreateCollection(ctx context.Context, c Collection) error
	Upsert(ctx context.Context, collection string, p Point) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error)
	Close() error
}

// Adapter owns the collection lifecycle policy and classifies backend
// failures as store errors.
type Adapter struct {
	backend Backend

	mu   sync.RWMutex
	dims map[string]int
}

func NewAdapter(b Backend) *Adapter {
	return &Adapter{
		backend: b,
		dims:    make(map[string]int),
	}
}

// EnsureCollection creates c if it does not exist yet. Existing collections
// and their points are left untouched; one created with another dimension
// or distance is a store error.
func (a *Adapter) EnsureCollection(ctx context.Context, c Collection) error {
	if c.Name == "" {
		return fault.Validation("ensure collection", "collection name is required")
	}
	if c.Dimension <= 0 {
		return fault.Validation("ensure collection", "dimension must be positive, got %d", c.Dimension)
	}
	if c.Distance == "" {
		c.Distance = Cosine
	}
	if c.Distance != Cosine {
		return fault.Validation("ensure collection", "unsupported distance %q", c.Distance)
	}

	existing, err := a.backend.Describe(ctx, c.Name)
	switch {
	case errors.Is(err, ErrCollectionNotFound):
		if err := a.backend.CreateCollection(ctx, c); err != nil {
			return fault.Store("ensure collection", fmt.Errorf("create %s: %w", c.Name, err))
		}
	case err != nil:
		return fault.Store("ensure collection", fmt.Errorf("check %s: %w", c.Name, err))
	default:
		if err := checkCompatible(existing, c); err != nil {
			return fault.Store("ensure collection", err)
		}
	}

	a.mu.Lock()
	a.dims[c.Name] = c.Dimension
	a.mu.Unlock()
	return nil
}

// Upsert inserts or replaces one point by id.
func (a *Adapter) Upsert(ctx context.Context, collection string, p Point) error {
	if p.ID == "" {
		return fault.Validation("upsert", "point id is required")
	}
	if len(p.Vector) == 0 {
		return fault.Validation("upsert", "point %s has no vector", p.ID)
	}
	if err := a.checkDimension(collection, len(p.Vector)); err != nil {
		return fault.Store("upsert", err)
	}
	if err := a.backend.Upsert(ctx, collection, p); err != nil {
		return fault.Store("upsert", fmt.Errorf("point %s: %w", p.ID, err))
	}
	return nil
}

// QueryBySimilarity returns up to topK points ordered by descending score.
func (a *Adapter) QueryBySimilarity(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, fault.Validation("query", "topK must be positive, got %d", topK)
	}
	if err := a.checkDimension(collection, len(vector)); err != nil {
		return nil, fault.Store("query", err)
	}
	matches, err := a.backend.Search(ctx, collection, vector, topK)
	if err != nil {
		return nil, fault.Store("query", err)
	}
	return matches, nil
}

// checkCompatible compares an existing collection with the one requested.
// Unknown values on the existing side are accepted.
func checkCompatible(existing, want Collection) error {
	if existing.Dimension != 0 && existing.Dimension != want.Dimension {
		return fmt.Errorf("%w: %s has %d dimensions, embeddings have %d; use another collection name",
			ErrCollectionMismatch, want.Name, existing.Dimension, want.Dimension)
	}
	if existing.Distance != "" && existing.Distance != want.Distance {
		return fmt.Errorf("%w: %s uses %s distance, want %s",
			ErrCollectionMismatch, want.Name, existing.Distance, want.Distance)
	}
	return nil
}

func (a *Adapter) checkDimension(collection string, n int) error {
	a.mu.RLock()
	want, ok := a.dims[collection]
	a.mu.RUnlock()
	if ok && want != n {
		return fmt.Errorf("collection %s expects %d dimensions, got %d", collection, want, n)
	}
	return nil
}

func (a *Adapter) Close() error {
	return a.backend.Close()
}

var (
	// ErrCollectionNotFound is returned by backends asked to use a
	// collection that was never created.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrCollectionMismatch is returned when an existing collection does not
	// match the requested dimension or distance.
	ErrCollectionMismatch = errors.New("collection mismatch")
)
