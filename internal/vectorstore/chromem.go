package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemBackend stores points in an embedded chromem-go database, either in
// memory or persisted under a directory.
type ChromemBackend struct {
	db *chromem.DB
}

// errNoEmbeddingFunc guards against chromem embedding content on its own;
// vectors always come from the embedding client.
var errNoEmbeddingFunc = errors.New("vectors must be supplied by the caller")

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// NewChromemBackend opens a persistent database at dir, or an in-memory one
// when dir is empty.
func NewChromemBackend(dir string) (*ChromemBackend, error) {
	if dir == "" {
		return &ChromemBackend{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("create persistent DB: %w", err)
	}
	return &ChromemBackend{db: db}, nil
}

// registryName is the collection holding one document per created
// collection. chromem keeps collection metadata private, so dimension and
// distance are recorded there instead.
const registryName = "storyloom_collections"

func (b *ChromemBackend) Describe(ctx context.Context, name string) (Collection, error) {
	if b.db.GetCollection(name, noEmbedding) == nil {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	c := Collection{Name: name}
	registry := b.db.GetCollection(registryName, noEmbedding)
	if registry == nil {
		return c, nil
	}
	doc, err := registry.GetByID(ctx, name)
	if err != nil {
		// Created without a registry entry; the shape is unknown.
		return c, nil
	}
	if c.Dimension, err = strconv.Atoi(doc.Metadata["dimension"]); err != nil {
		return Collection{}, fmt.Errorf("registry entry for %s: %w", name, err)
	}
	c.Distance = Distance(doc.Metadata["distance"])
	return c, nil
}

func (b *ChromemBackend) CreateCollection(ctx context.Context, c Collection) error {
	if c.Name == registryName {
		return fmt.Errorf("collection name %s is reserved", registryName)
	}
	metadata := map[string]string{
		"dimension": strconv.Itoa(c.Dimension),
		"distance":  string(c.Distance),
	}
	registry, err := b.db.GetOrCreateCollection(registryName, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("open collection registry: %w", err)
	}
	err = registry.AddDocument(ctx, chromem.Document{
		ID:        c.Name,
		Content:   c.Name,
		Embedding: []float32{1},
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("register collection: %w", err)
	}
	if _, err := b.db.CreateCollection(c.Name, metadata, noEmbedding); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (b *ChromemBackend) collection(name string) (*chromem.Collection, error) {
	col := b.db.GetCollection(name, noEmbedding)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return col, nil
}

func (b *ChromemBackend) Upsert(ctx context.Context, collection string, p Point) error {
	col, err := b.collection(collection)
	if err != nil {
		return err
	}

	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	meta := make(map[string]string, len(p.Payload))
	for k, v := range p.Payload {
		meta[k] = v
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        p.ID,
		Content:   documentContent(p.Payload),
		Embedding: vec,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("add document %s: %w", p.ID, err)
	}
	return nil
}

// documentContent picks the human-readable text of a record for chromem's
// content field.
func documentContent(payload map[string]string) string {
	for _, key := range []string{"title", "prompt", "summary"} {
		if v := payload[key]; v != "" {
			return v
		}
	}
	return payload["type"]
}

func (b *ChromemBackend) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	col, err := b.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the document count.
	n := min(topK, col.Count())
	if n == 0 {
		return nil, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)

	results, err := col.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: r.Metadata,
		})
	}
	return matches, nil
}

// Close is a no-op: chromem persists on every write.
func (b *ChromemBackend) Close() error {
	return nil
}
