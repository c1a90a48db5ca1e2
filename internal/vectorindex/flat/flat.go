// Package flat is an exact in-memory vector index: every search scans all
// entries and ranks them by Euclidean distance.
package flat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/vectorindex"
)

// Index is a brute-force L2 index. Searches run concurrently; adds are exclusive.
type Index struct {
	embedder domain.Embedder
	codec    Codec
	logger   *log.Logger

	mu        sync.RWMutex
	dimension int
	entries   []domain.Entry
}

var _ vectorindex.Index = (*Index)(nil)

// Add embeds chunks and appends them. Identical chunks are stored again.
func (x *Index) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	entries, err := embedEntries(ctx, x.embedder, chunks)
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	dim := x.dimension
	if dim == 0 {
		dim = len(entries[0].Vector)
	}
	for _, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: vector dimension %d, index has %d", domain.ErrEmbedding, len(e.Vector), dim)
		}
	}
	x.dimension = dim
	x.entries = append(x.entries, entries...)
	return nil
}

// SearchWithScores returns up to k entries closest to query, nearest first.
// Equal distances keep insertion order.
func (x *Index) SearchWithScores(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	qv, err := embedding.EmbedOne(ctx, x.embedder, query)
	if err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.dimension != 0 && len(qv) != x.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index has %d", domain.ErrEmbedding, len(qv), x.dimension)
	}
	hits := make([]domain.ScoredChunk, len(x.entries))
	for i, e := range x.entries {
		hits[i] = domain.ScoredChunk{Chunk: e.Chunk, Score: vectorindex.L2(qv, e.Vector)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score < hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Save persists the index under dir using the configured codec.
func (x *Index) Save(ctx context.Context, dir string) error {
	x.mu.RLock()
	snap := Snapshot{
		Version:   snapshotVersion,
		Model:     x.embedder.ModelID(),
		Dimension: x.dimension,
		Entries:   append([]domain.Entry(nil), x.entries...),
	}
	x.mu.RUnlock()

	dest := filepath.Join(dir, x.codec.FileName())
	err := vectorindex.ReplaceFile(dest, func(tmp string) error {
		return x.codec.Encode(ctx, tmp, snap)
	})
	if err != nil {
		return fmt.Errorf("save index %s: %w", dest, err)
	}
	x.logger.Debug("index saved", "path", dest, "entries", len(snap.Entries))
	return nil
}

// Clone copies the entry list. Entries are never modified, so they are shared.
func (x *Index) Clone() vectorindex.Index {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return &Index{
		embedder:  x.embedder,
		codec:     x.codec,
		logger:    x.logger,
		dimension: x.dimension,
		entries:   slices.Clone(x.entries),
	}
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Sources lists the distinct source file names.
func (x *Index) Sources() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	metas := make([]domain.Metadata, len(x.entries))
	for i, e := range x.entries {
		metas[i] = e.Chunk.Meta
	}
	return vectorindex.SourceNames(metas)
}

// Model is the embedding model the vectors were produced with.
func (x *Index) Model() string { return x.embedder.ModelID() }

// Backend creates flat indexes that persist with one codec.
type Backend struct {
	embedder domain.Embedder
	codec    Codec
	logger   *log.Logger
}

var _ vectorindex.Backend = (*Backend)(nil)

// NewBackend binds an embedder and a codec.
func NewBackend(embedder domain.Embedder, codec Codec, logger *log.Logger) *Backend {
	return &Backend{embedder: embedder, codec: codec, logger: logger}
}

func (b *Backend) newIndex() *Index {
	return &Index{embedder: b.embedder, codec: b.codec, logger: b.logger}
}

// Build embeds chunks into a new index.
func (b *Backend) Build(ctx context.Context, chunks []domain.Chunk) (vectorindex.Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", domain.ErrIndexBuild)
	}
	x := b.newIndex()
	if err := x.Add(ctx, chunks); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexBuild, err)
	}
	return x, nil
}

// Load reads a persisted index and checks it was built with the same model.
func (b *Backend) Load(ctx context.Context, dir string) (vectorindex.Index, error) {
	path := filepath.Join(dir, b.codec.FileName())
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no index at %s", domain.ErrIndexLoad, path)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexLoad, err)
	}
	snap, err := b.codec.Decode(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrIndexLoad, path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: %s has format version %d, want %d", domain.ErrIndexLoad, path, snap.Version, snapshotVersion)
	}
	if snap.Model != b.embedder.ModelID() {
		return nil, fmt.Errorf("%w: index built with model %q, configured model is %q; rebuild the index", domain.ErrIndexLoad, snap.Model, b.embedder.ModelID())
	}
	for i, e := range snap.Entries {
		if len(e.Vector) != snap.Dimension {
			return nil, fmt.Errorf("%w: entry %d has dimension %d, want %d", domain.ErrIndexLoad, i, len(e.Vector), snap.Dimension)
		}
	}
	x := b.newIndex()
	x.dimension = snap.Dimension
	x.entries = snap.Entries
	b.logger.Debug("index loaded", "path", path, "entries", len(x.entries))
	return x, nil
}

// Exists reports whether a persisted index file is present under dir.
func (b *Backend) Exists(dir string) bool {
	st, err := os.Stat(filepath.Join(dir, b.codec.FileName()))
	return err == nil && st.Mode().IsRegular()
}

func embedEntries(ctx context.Context, e domain.Embedder, chunks []domain.Chunk) ([]domain.Entry, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", domain.ErrEmbedding, len(chunks), len(vecs))
	}
	out := make([]domain.Entry, len(chunks))
	for i, c := range chunks {
		out[i] = domain.Entry{ID: uuid.NewString(), Vector: vecs[i], Chunk: c}
	}
	return out, nil
}
