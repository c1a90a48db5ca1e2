// Package hashing implements a local embedder that needs no corpus and no network.
package hashing

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"docqa/internal/domain"
	"docqa/internal/embedding"
)

// Embedder maps tokens to signed buckets of a fixed-size vector (feature hashing).
// Vectors depend only on the text and the dimension, so indexes built with
// it can be extended incrementally.
type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

var _ domain.Embedder = (*Embedder)(nil)

// NewEmbedder creates a hashing embedder with the given dimension.
func NewEmbedder(dimension int) (*Embedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: hashing dimension must be positive, got %d", domain.ErrConfig, dimension)
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		stopwords:    defaultStopwords(),
	}, nil
}

// ModelID encodes the algorithm version and dimension.
func (e *Embedder) ModelID() string { return fmt.Sprintf("hashing-v1-%d", e.dimension) }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes one L2-normalized vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: cannot embed empty text (input %d)", domain.ErrEmbedding, i)
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, tok := range e.tokenize(text) {
		h := xxhash.Sum64String(tok)
		idx := int(h % uint64(e.dimension))
		if h>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	embedding.Normalize(vec)
	return vec
}

func (e *Embedder) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := e.tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
