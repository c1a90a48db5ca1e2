package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/embedding/hashing"
	"docqa/internal/loader"
	"docqa/internal/logging"
	"docqa/internal/testutil"
	"docqa/internal/vectorindex/flat"
)

type env struct {
	root    string
	baseDir string
	uploads string
	index   string
}

func newEnv(t *testing.T) env {
	root := t.TempDir()
	return env{
		root:    root,
		baseDir: filepath.Join(root, "documents"),
		uploads: filepath.Join(root, "uploaded_docs"),
		index:   filepath.Join(root, "docqa_index"),
	}
}

func newLifecycle(t *testing.T, e env, embedder domain.Embedder, size, overlap int) *Lifecycle {
	t.Helper()
	ch, err := chunker.NewRecursive(size, overlap)
	require.NoError(t, err)
	backend := flat.NewBackend(embedder, flat.GobCodec{}, logging.Discard())
	return NewLifecycle(backend, loader.New(logging.Discard()), ch, LifecycleConfig{
		IndexPath:   e.index,
		BaseDir:     e.baseDir,
		LockTimeout: 300 * time.Millisecond,
	}, logging.Discard())
}

func hashingEmbedder(t *testing.T) domain.Embedder {
	t.Helper()
	e, err := hashing.NewEmbedder(256)
	require.NoError(t, err)
	return e
}

func TestGetOrCreateEmptyBaseFolder(t *testing.T) {
	e := newEnv(t)
	lc := newLifecycle(t, e, hashingEmbedder(t), 500, 50)

	idx, err := lc.GetOrCreate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, idx)
	st, err := os.Stat(e.baseDir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestGetOrCreateBuildsThenLoads(t *testing.T) {
	e := newEnv(t)
	testutil.WriteDOCX(t, filepath.Join(e.baseDir, "a.docx"),
		testutil.Paragraph("alpha", 49), testutil.Paragraph("alpha", 49), testutil.Paragraph("alpha", 49))
	ctx := context.Background()

	idx, err := newLifecycle(t, e, hashingEmbedder(t), 500, 50).GetOrCreate(ctx)
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, 3, idx.Len())

	// a fresh process sees the persisted index even if the base folder changes
	testutil.WriteDOCX(t, filepath.Join(e.baseDir, "b.docx"), "beta")
	again, err := newLifecycle(t, e, hashingEmbedder(t), 500, 50).GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Len())
	assert.Equal(t, []string{"a.docx"}, again.Sources())
}

func TestMergeNewDocumentsAddsToExistingIndex(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	testutil.WriteDOCX(t, filepath.Join(e.baseDir, "a.docx"),
		testutil.Paragraph("alpha", 49), testutil.Paragraph("alpha", 49), testutil.Paragraph("alpha", 49))
	testutil.WriteDOCX(t, filepath.Join(e.uploads, "b.docx"),
		testutil.Paragraph("beta", 59), testutil.Paragraph("beta", 59))
	lc := newLifecycle(t, e, hashingEmbedder(t), 500, 50)

	idx, err := lc.GetOrCreate(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, idx.Len())

	merged, res, err := lc.MergeNewDocuments(ctx, idx, e.uploads)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 5, merged.Len())
	assert.Equal(t, []string{"a.docx", "b.docx"}, merged.Sources())

	reloaded, err := newLifecycle(t, e, hashingEmbedder(t), 500, 50).GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.Len())
}

func TestMergeNewDocumentsKeepsIndexWhenSaveFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	testutil.WriteDOCX(t, filepath.Join(e.baseDir, "a.docx"),
		testutil.Paragraph("alpha", 49), testutil.Paragraph("alpha", 49), testutil.Paragraph("alpha", 49))
	testutil.WriteDOCX(t, filepath.Join(e.uploads, "b.docx"),
		testutil.Paragraph("beta", 59), testutil.Paragraph("beta", 59))
	lc := newLifecycle(t, e, hashingEmbedder(t), 500, 50)

	idx, err := lc.GetOrCreate(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, idx.Len())

	// a non-empty directory in place of the index file makes the rename fail
	gob := filepath.Join(e.index, "index.gob")
	require.NoError(t, os.Remove(gob))
	require.NoError(t, os.MkdirAll(filepath.Join(gob, "blocker"), 0o755))

	got, _, err := lc.MergeNewDocuments(ctx, idx, e.uploads)
	require.ErrorIs(t, err, domain.ErrIndexBuild)
	assert.Same(t, idx, got)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, []string{"a.docx"}, idx.Sources())

	require.NoError(t, os.RemoveAll(gob))
	merged, _, err := lc.MergeNewDocuments(ctx, idx, e.uploads)
	require.NoError(t, err)
	assert.Equal(t, 5, merged.Len())
	assert.Equal(t, []string{"a.docx", "b.docx"}, merged.Sources())
	assert.Equal(t, 3, idx.Len())
}

func TestMergeNewDocumentsWithoutIndexOrChunks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lc := newLifecycle(t, e, hashingEmbedder(t), 500, 50)
	require.NoError(t, os.MkdirAll(e.uploads, 0o755))

	idx, res, err := lc.MergeNewDocuments(ctx, nil, e.uploads)
	require.NoError(t, err)
	assert.Nil(t, idx)
	assert.Zero(t, res.Files)

	testutil.WriteDOCX(t, filepath.Join(e.uploads, "b.docx"), "beta clause")
	idx, _, err = lc.MergeNewDocuments(ctx, nil, e.uploads)
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, 1, idx.Len())

	_, _, err = lc.MergeNewDocuments(ctx, idx, filepath.Join(e.root, "missing"))
	require.ErrorIs(t, err, domain.ErrLoad)
}

func TestLifecycleRespectsLockFile(t *testing.T) {
	e := newEnv(t)
	lc := newLifecycle(t, e, hashingEmbedder(t), 500, 50)

	other := flock.New(e.index + ".lock")
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = lc.GetOrCreate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	require.NoError(t, other.Unlock())
	_, err = lc.GetOrCreate(context.Background())
	require.NoError(t, err)
}
