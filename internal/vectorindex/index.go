// Package vectorindex defines the narrow index interface used by the
// orchestrator and lifecycle manager, plus helpers shared by backends.
package vectorindex

import (
	"context"
	"math"
	"sort"

	"docqa/internal/domain"
)

// Index stores embedded chunks and answers similarity queries.
// Scores are distances: lower is more relevant.
type Index interface {
	Add(ctx context.Context, chunks []domain.Chunk) error
	SearchWithScores(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error)
	Save(ctx context.Context, path string) error
	Len() int
	Sources() []string
	Model() string
	// Clone returns a copy that can be extended and saved without changing
	// what readers of the receiver see.
	Clone() Index
}

// Discarder is implemented by indexes whose Add writes outside the process.
// Discard removes what was added since the last successful Save.
type Discarder interface {
	Discard(ctx context.Context) error
}

// Backend builds and loads indexes of one technology.
type Backend interface {
	// Build fails with domain.ErrIndexBuild when chunks is empty.
	Build(ctx context.Context, chunks []domain.Chunk) (Index, error)
	// Load fails with domain.ErrIndexLoad when the index is missing, corrupt
	// or was built with another embedding model.
	Load(ctx context.Context, path string) (Index, error)
	Exists(path string) bool
}

// L2 is the Euclidean distance between a and b.
func L2(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineToL2 converts a cosine similarity of unit vectors to their L2 distance.
func CosineToL2(sim float64) float64 {
	return math.Sqrt(math.Max(0, 2-2*sim))
}

// SourceNames returns the deduplicated, sorted base names of chunk sources.
func SourceNames(metas []domain.Metadata) []string {
	seen := make(map[string]struct{}, len(metas))
	out := make([]string, 0)
	for _, m := range metas {
		name := m.SourceName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
