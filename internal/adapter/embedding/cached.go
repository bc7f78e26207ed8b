package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"askverse/internal/domain"
)

// CachedEmbedder wraps a domain.EmbeddingProvider with a per-text LRU cache.
// Batch calls only send the texts that miss the cache to the inner provider.
type CachedEmbedder struct {
	inner domain.EmbeddingProvider
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU embedding cache of maxSize entries.
// If maxSize <= 0, the inner provider is returned directly.
func NewCachedEmbedder(inner domain.EmbeddingProvider, maxSize int) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	cache, err := lru.New[string, []float32](maxSize)
	if err != nil {
		return inner
	}
	return &CachedEmbedder{inner: inner, cache: cache}
}

// Embed implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if vec, ok := c.cache.Get(t); ok {
			result[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return result, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", domain.ErrEmbeddingFailed, len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		result[i] = vecs[j]
		c.cache.Add(missTexts[j], vecs[j])
	}
	return result, nil
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

var _ domain.EmbeddingProvider = (*CachedEmbedder)(nil)
