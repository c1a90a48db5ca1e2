package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls [][]string
	fail  bool
}

func (c *countingEmbedder) ModelID() string { return "count-v1" }
func (c *countingEmbedder) Dimension() int  { return 1 }
func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if c.fail {
		return nil, errors.New("down")
	}
	c.calls = append(c.calls, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestCachedEmbedsMissesOnce(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCached(inner, 8)
	require.NoError(t, err)
	assert.Equal(t, "count-v1", c.ModelID())

	ctx := context.Background()
	first, err := c.Embed(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	second, err := c.Embed(ctx, []string{"bb", "ccc", "a"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1}, {2}}, first)
	assert.Equal(t, [][]float32{{2}, {3}, {1}}, second)
	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"ccc"}, inner.calls[1])

	_, err = c.Embed(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Len(t, inner.calls, 2)
}

func TestCachedPropagatesErrors(t *testing.T) {
	c, err := NewCached(&countingEmbedder{fail: true}, 8)
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestNewCachedRejectsBadSize(t *testing.T) {
	_, err := NewCached(&countingEmbedder{}, 0)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestEmbedOne(t *testing.T) {
	v, err := EmbedOne(context.Background(), &countingEmbedder{}, "four")
	require.NoError(t, err)
	assert.Equal(t, []float32{4}, v)
}
