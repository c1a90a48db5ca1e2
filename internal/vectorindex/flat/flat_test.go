package flat

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/logging"
	"docqa/internal/testutil"
)

var contractChunks = []domain.Chunk{
	{Text: "This Agreement is governed by the laws of the State of New York.", Meta: domain.Metadata{Source: "/docs/contract.pdf", Page: 3}},
	{Text: "Both parties keep information confidential.", Meta: domain.Metadata{Source: "/docs/contract.pdf", Page: 4}},
	{Text: "The buyer pays within 30 days of invoice.", Meta: domain.Metadata{Source: "/docs/terms.docx"}},
}

func newBackend(t *testing.T, codec Codec) *Backend {
	t.Helper()
	return NewBackend(&testutil.ConceptEmbedder{}, codec, logging.Discard())
}

func TestBuildRejectsEmpty(t *testing.T) {
	_, err := newBackend(t, GobCodec{}).Build(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrIndexBuild)
}

func TestSearchRanksByDistance(t *testing.T) {
	ctx := context.Background()
	idx, err := newBackend(t, GobCodec{}).Build(ctx, contractChunks)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, "concept-v1", idx.Model())
	assert.Equal(t, []string{"contract.pdf", "terms.docx"}, idx.Sources())

	hits, err := idx.SearchWithScores(ctx, "What is the governing law?", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Contains(t, hits[0].Chunk.Text, "governed by the laws of the State of New York")
	assert.Equal(t, 3, hits[0].Chunk.Meta.Page)
	assert.Less(t, hits[0].Score, 1.0)
	assert.LessOrEqual(t, hits[0].Score, hits[1].Score)

	// unrelated chunks tie at sqrt(2) and keep insertion order
	assert.InDelta(t, 1.41421356, hits[1].Score, 1e-6)
	assert.Contains(t, hits[1].Chunk.Text, "confidential")

	again, err := idx.SearchWithScores(ctx, "What is the governing law?", 2)
	require.NoError(t, err)
	assert.Equal(t, hits, again)

	all, err := idx.SearchWithScores(ctx, "governing law", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := idx.SearchWithScores(ctx, "governing law", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAddKeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	idx, err := newBackend(t, GobCodec{}).Build(ctx, contractChunks[:1])
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, contractChunks[:1]))
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, []string{"contract.pdf"}, idx.Sources())
}

func TestCloneIsIndependent(t *testing.T) {
	ctx := context.Background()
	idx, err := newBackend(t, GobCodec{}).Build(ctx, contractChunks[:2])
	require.NoError(t, err)

	next := idx.Clone()
	require.NoError(t, next.Add(ctx, contractChunks[2:]))
	assert.Equal(t, 3, next.Len())
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, []string{"contract.pdf"}, idx.Sources())
	assert.Equal(t, []string{"contract.pdf", "terms.docx"}, next.Sources())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, codec := range []Codec{GobCodec{}, SQLiteCodec{}} {
		t.Run(codec.FileName(), func(t *testing.T) {
			ctx := context.Background()
			dir := filepath.Join(t.TempDir(), "index")
			b := newBackend(t, codec)
			assert.False(t, b.Exists(dir))

			idx, err := b.Build(ctx, contractChunks)
			require.NoError(t, err)
			require.NoError(t, idx.Save(ctx, dir))
			assert.True(t, b.Exists(dir))

			loaded, err := b.Load(ctx, dir)
			require.NoError(t, err)
			assert.Equal(t, idx.Len(), loaded.Len())
			assert.Equal(t, idx.Sources(), loaded.Sources())

			for _, q := range []string{"governing law", "confidential", "payment", "sky color"} {
				want, err := idx.SearchWithScores(ctx, q, 3)
				require.NoError(t, err)
				got, err := loaded.SearchWithScores(ctx, q, 3)
				require.NoError(t, err)
				assert.Equal(t, want, got, q)
			}

			// a second save replaces the file in place
			require.NoError(t, loaded.Add(ctx, contractChunks[:1]))
			require.NoError(t, loaded.Save(ctx, dir))
			reloaded, err := b.Load(ctx, dir)
			require.NoError(t, err)
			assert.Equal(t, 4, reloaded.Len())
		})
	}
}

func TestLoadFailures(t *testing.T) {
	ctx := context.Background()
	for _, codec := range []Codec{GobCodec{}, SQLiteCodec{}} {
		t.Run(codec.FileName(), func(t *testing.T) {
			b := newBackend(t, codec)

			_, err := b.Load(ctx, filepath.Join(t.TempDir(), "missing"))
			require.ErrorIs(t, err, domain.ErrIndexLoad)

			corrupt := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(corrupt, codec.FileName()), []byte("not an index at all, just some bytes"), 0o644))
			_, err = b.Load(ctx, corrupt)
			require.ErrorIs(t, err, domain.ErrIndexLoad)

			dir := t.TempDir()
			idx, err := b.Build(ctx, contractChunks)
			require.NoError(t, err)
			require.NoError(t, idx.Save(ctx, dir))
			other := NewBackend(&testutil.ConceptEmbedder{Model: "concept-v2"}, codec, logging.Discard())
			_, err = other.Load(ctx, dir)
			require.ErrorIs(t, err, domain.ErrIndexLoad)
			assert.Contains(t, err.Error(), "rebuild")
		})
	}
}

func TestCodecFor(t *testing.T) {
	c, err := CodecFor("")
	require.NoError(t, err)
	assert.Equal(t, "index.gob", c.FileName())
	c, err = CodecFor("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "index.sqlite", c.FileName())
	_, err = CodecFor("parquet")
	require.ErrorIs(t, err, domain.ErrConfig)
}
