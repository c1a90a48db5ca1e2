package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"docqa/internal/domain"
)

// Cached memoizes vectors of an inner embedder by exact text.
// It is built once per process and shared explicitly by index and queries.
type Cached struct {
	inner domain.Embedder
	cache *lru.Cache[string, []float32]
}

var _ domain.Embedder = (*Cached)(nil)

// NewCached wraps inner with an LRU of the given size.
func NewCached(inner domain.Embedder, size int) (*Cached, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("%w: cache size %d: %v", domain.ErrConfig, size, err)
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) ModelID() string { return c.inner.ModelID() }

func (c *Cached) Dimension() int { return c.inner.Dimension() }

// Embed serves hits from the cache and sends all misses to the inner embedder in one call.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missText []string
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, t)
	}
	if len(missText) == 0 {
		return out, nil
	}
	vecs, err := c.inner.Embed(ctx, missText)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missText) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", domain.ErrEmbedding, len(missText), len(vecs))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Add(missText[j], vecs[j])
	}
	return out, nil
}
