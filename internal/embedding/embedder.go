// Package embedding holds the embedding providers and helpers shared by them.
package embedding

import (
	"context"
	"fmt"
	"math"

	"docqa/internal/domain"
)

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e domain.Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", domain.ErrEmbedding, len(vecs))
	}
	return vecs[0], nil
}

// Normalize scales v to unit L2 length in place. Zero vectors are left unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
