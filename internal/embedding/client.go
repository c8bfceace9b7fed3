// Package embedding converts record text into fixed-length vectors for the
// vector store.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/felixgeelhaar/storyloom/internal/fault"
)

// DefaultDimension matches text-embedding-3-small.
const DefaultDimension = 1536

const defaultCacheSize = 256

// Embedder is the capability the client wraps.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client enforces the configured dimension and memoizes recent vectors.
type Client struct {
	embedder  Embedder
	dimension int
	timeout   time.Duration
	cache     *lru.Cache[string, []float32]
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each embedding call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCacheSize sets how many vectors are memoized. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.cache = nil
			return
		}
		c.cache, _ = lru.New[string, []float32](n)
	}
}

func New(e Embedder, dimension int, opts ...Option) (*Client, error) {
	if e == nil {
		return nil, errors.New("embedder is required")
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	cache, err := lru.New[string, []float32](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	c := &Client{
		embedder:  e,
		dimension: dimension,
		timeout:   60 * time.Second,
		cache:     cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dimension returns the vector length every result has.
func (c *Client) Dimension() int {
	return c.dimension
}

// Embed returns the vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fault.Embedding("embed", errors.New("empty text"))
	}
	if c.cache != nil {
		if vec, ok := c.cache.Get(text); ok {
			return clone(vec), nil
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fault.Embedding("embed", err)
	}
	if len(vec) != c.dimension {
		return nil, fault.Embedding("embed", fmt.Errorf("expected %d dimensions, got %d", c.dimension, len(vec)))
	}

	if c.cache != nil {
		c.cache.Add(text, clone(vec))
	}
	return vec, nil
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
