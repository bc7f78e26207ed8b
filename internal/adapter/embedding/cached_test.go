package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]string(nil), texts...))
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return 1 }
func (c *countingEmbedder) Name() string    { return "counting" }

func TestCachedEmbedderHit(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 10)

	v1, err := c.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	v2, err := c.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, inner.calls, 1)
}

func TestCachedEmbedderBatchOnlySendsMisses(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 10)

	_, err := c.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)

	vecs, err := c.Embed(context.Background(), []string{"bb", "a", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {1}, {3}}, vecs)
	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"bb", "ccc"}, inner.calls[1])
}

func TestCachedEmbedderEvicts(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 2).(*CachedEmbedder)

	for _, s := range []string{"a", "b", "c"} {
		_, err := c.Embed(context.Background(), []string{s})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())

	_, err := c.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, inner.calls, 4, "evicted entry must be re-embedded")
}

func TestCachedEmbedderErrorNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("boom")}
	c := NewCachedEmbedder(inner, 10)

	_, err := c.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)

	inner.err = nil
	_, err = c.Embed(context.Background(), []string{"x"})
	assert.NoError(t, err)
	assert.Len(t, inner.calls, 2)
}

func TestCachedEmbedderDisabled(t *testing.T) {
	inner := &countingEmbedder{}
	assert.Same(t, inner, NewCachedEmbedder(inner, 0))
}
