package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/storyloom/internal/fault"
	"github.com/felixgeelhaar/storyloom/internal/provider"
)

func TestClient_Embed(t *testing.T) {
	stub := provider.NewStubProvider(DefaultDimension)
	c, err := New(stub, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDimension, c.Dimension())

	vec, err := c.Embed(context.Background(), "Kitten's Journey A kitten finds its way home.")
	require.NoError(t, err)
	assert.Len(t, vec, DefaultDimension)
}

func TestClient_Embed_Cached(t *testing.T) {
	stub := provider.NewStubProvider(8)
	c, err := New(stub, 8)
	require.NoError(t, err)

	first, err := c.Embed(context.Background(), "same text")
	require.NoError(t, err)
	first[0] = 42 // callers may mutate their copy

	second, err := c.Embed(context.Background(), "same text")
	require.NoError(t, err)

	assert.Len(t, stub.Embedded, 1, "expected the provider to be called once")
	assert.NotEqual(t, float32(42), second[0])
}

func TestClient_Embed_NoCache(t *testing.T) {
	stub := provider.NewStubProvider(8)
	c, err := New(stub, 8, WithCacheSize(0))
	require.NoError(t, err)

	_, _ = c.Embed(context.Background(), "x")
	_, _ = c.Embed(context.Background(), "x")
	assert.Len(t, stub.Embedded, 2)
}

func TestClient_Embed_Failures(t *testing.T) {
	t.Run("dimension mismatch", func(t *testing.T) {
		c, err := New(provider.NewStubProvider(3), 1536)
		require.NoError(t, err)
		_, err = c.Embed(context.Background(), "text")
		assert.ErrorIs(t, err, fault.ErrEmbedding)
	})

	t.Run("provider error", func(t *testing.T) {
		stub := provider.NewStubProvider(8)
		stub.EmbedErr = errors.New("network down")
		c, err := New(stub, 8)
		require.NoError(t, err)
		_, err = c.Embed(context.Background(), "text")
		assert.ErrorIs(t, err, fault.ErrEmbedding)
	})

	t.Run("empty text", func(t *testing.T) {
		c, err := New(provider.NewStubProvider(8), 8)
		require.NoError(t, err)
		_, err = c.Embed(context.Background(), "")
		assert.ErrorIs(t, err, fault.ErrEmbedding)
	})

	t.Run("nil embedder", func(t *testing.T) {
		_, err := New(nil, 8)
		assert.Error(t, err)
	})
}
