package qdrant

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/logging"
	"docqa/internal/testutil"
)

type fakePoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant implements the handful of REST endpoints the backend uses.
// Scroll pages are capped at two points to exercise pagination.
type fakeQdrant struct {
	t           *testing.T
	mu          sync.Mutex
	collections map[string][]fakePoint
	upserts     int
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	f := &fakeQdrant{t: t, collections: map[string][]fakePoint{}}
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /collections/{name}", f.create)
	mux.HandleFunc("DELETE /collections/{name}", f.drop)
	mux.HandleFunc("GET /collections/{name}", f.info)
	mux.HandleFunc("PUT /collections/{name}/points", f.upsert)
	mux.HandleFunc("POST /collections/{name}/points/search", f.search)
	mux.HandleFunc("POST /collections/{name}/points/scroll", f.scroll)
	mux.HandleFunc("POST /collections/{name}/points/delete", f.remove)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": v, "status": "ok"})
}

func (f *fakeQdrant) create(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[r.PathValue("name")] = []fakePoint{}
	reply(w, true)
}

func (f *fakeQdrant) drop(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := r.PathValue("name")
	if _, ok := f.collections[name]; !ok {
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
		return
	}
	delete(f.collections, name)
	reply(w, true)
}

func (f *fakeQdrant) info(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pts, ok := f.collections[r.PathValue("name")]
	if !ok {
		http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
		return
	}
	reply(w, map[string]any{"points_count": len(pts), "status": "green"})
}

func (f *fakeQdrant) upsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points []fakePoint `json:"points"`
	}
	if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req)) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := r.PathValue("name")
	f.collections[name] = append(f.collections[name], req.Points...)
	f.upserts++
	reply(w, map[string]any{"status": "completed"})
}

func (f *fakeQdrant) remove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points []string `json:"points"`
	}
	if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req)) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	drop := make(map[string]bool, len(req.Points))
	for _, id := range req.Points {
		drop[id] = true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := r.PathValue("name")
	kept := f.collections[name][:0]
	for _, p := range f.collections[name] {
		if !drop[p.ID] {
			kept = append(kept, p)
		}
	}
	f.collections[name] = kept
	reply(w, map[string]any{"status": "completed"})
}

func (f *fakeQdrant) stats(name string) (points, upserts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.collections[name]), f.upserts
}

func (f *fakeQdrant) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vector []float32 `json:"vector"`
		Limit  int       `json:"limit"`
	}
	if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req)) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	pts := append([]fakePoint(nil), f.collections[r.PathValue("name")]...)
	f.mu.Unlock()

	type hit struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	hits := make([]hit, len(pts))
	for i, p := range pts {
		hits[i] = hit{Score: cosine(req.Vector, p.Vector), Payload: p.Payload}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if req.Limit < len(hits) {
		hits = hits[:req.Limit]
	}
	reply(w, hits)
}

func (f *fakeQdrant) scroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Offset *int `json:"offset"`
	}
	if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req)) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	pts := f.collections[r.PathValue("name")]
	f.mu.Unlock()
	start := 0
	if req.Offset != nil {
		start = *req.Offset
	}
	end := min(start+2, len(pts))
	page := make([]map[string]any, 0, end-start)
	for _, p := range pts[start:end] {
		page = append(page, map[string]any{"id": p.ID, "payload": map[string]any{"source": p.Payload["source"]}})
	}
	var next any
	if end < len(pts) {
		next = end
	}
	reply(w, map[string]any{"points": page, "next_page_offset": next})
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

var chunks = []domain.Chunk{
	{Text: "This Agreement is governed by the laws of the State of New York.", Meta: domain.Metadata{Source: "/docs/contract.pdf", Page: 3}},
	{Text: "Both parties keep information confidential.", Meta: domain.Metadata{Source: "/docs/contract.pdf", Page: 4}},
	{Text: "The buyer pays within 30 days of invoice.", Meta: domain.Metadata{Source: "/docs/terms.docx"}},
}

func newTestBackend(t *testing.T, url string, model string) *Backend {
	t.Helper()
	return newBatchingBackend(t, url, model, 0)
}

func newBatchingBackend(t *testing.T, url string, model string, batch int) *Backend {
	t.Helper()
	b, err := NewBackend(Config{URL: url + "/", APIKey: "secret", Collection: "docqa", BatchSize: batch}, &testutil.ConceptEmbedder{Model: model}, logging.Discard())
	require.NoError(t, err)
	return b
}

func TestBuildSearchSaveLoad(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeQdrant(t)
	b := newTestBackend(t, srv.URL, "")
	dir := filepath.Join(t.TempDir(), "index")

	idx, err := b.Build(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, []string{"contract.pdf", "terms.docx"}, idx.Sources())

	hits, err := idx.SearchWithScores(ctx, "What is the governing law?", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Contains(t, hits[0].Chunk.Text, "State of New York")
	assert.Equal(t, "/docs/contract.pdf", hits[0].Chunk.Meta.Source)
	assert.Equal(t, 3, hits[0].Chunk.Meta.Page)
	assert.Less(t, hits[0].Score, 1.0)
	assert.InDelta(t, math.Sqrt2, hits[1].Score, 1e-6)

	assert.False(t, b.Exists(dir))
	require.NoError(t, idx.Save(ctx, dir))
	assert.True(t, b.Exists(dir))
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "collection: docqa")
	assert.Contains(t, string(data), "model: concept-v1")

	loaded, err := b.Load(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())
	assert.Equal(t, idx.Sources(), loaded.Sources())
	again, err := loaded.SearchWithScores(ctx, "What is the governing law?", 2)
	require.NoError(t, err)
	assert.Equal(t, hits, again)

	require.NoError(t, loaded.Add(ctx, []domain.Chunk{{Text: "Alpha clause.", Meta: domain.Metadata{Source: "/up/b.docx"}}}))
	assert.Equal(t, 4, loaded.Len())
	assert.Equal(t, []string{"b.docx", "contract.pdf", "terms.docx"}, loaded.Sources())

	fake.mu.Lock()
	assert.Len(t, fake.collections["docqa"], 4)
	fake.mu.Unlock()
}

func TestBuildReplacesCollection(t *testing.T) {
	ctx := context.Background()
	_, srv := newFakeQdrant(t)
	b := newTestBackend(t, srv.URL, "")

	_, err := b.Build(ctx, chunks)
	require.NoError(t, err)
	idx, err := b.Build(ctx, chunks[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())

	_, err = b.Build(ctx, nil)
	require.ErrorIs(t, err, domain.ErrIndexBuild)
}

func TestUpsertSendsBatches(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeQdrant(t)
	b := newBatchingBackend(t, srv.URL, "", 2)

	idx, err := b.Build(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())
	points, upserts := fake.stats("docqa")
	assert.Equal(t, 3, points)
	assert.Equal(t, 2, upserts)
}

func TestCloneDiscardRemovesUnsavedPoints(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeQdrant(t)
	b := newTestBackend(t, srv.URL, "")
	dir := t.TempDir()

	idx, err := b.Build(ctx, chunks)
	require.NoError(t, err)
	require.NoError(t, idx.Save(ctx, dir))

	next := idx.Clone()
	require.NoError(t, next.Add(ctx, []domain.Chunk{{Text: "Alpha clause.", Meta: domain.Metadata{Source: "/up/b.docx"}}}))
	assert.Equal(t, 4, next.Len())
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, []string{"contract.pdf", "terms.docx"}, idx.Sources())
	points, _ := fake.stats("docqa")
	assert.Equal(t, 4, points)

	require.NoError(t, next.(*Index).Discard(ctx))
	points, _ = fake.stats("docqa")
	assert.Equal(t, 3, points)

	// saved points are not pending
	require.NoError(t, idx.(*Index).Discard(ctx))
	points, _ = fake.stats("docqa")
	assert.Equal(t, 3, points)
}

func TestLoadFailures(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeQdrant(t)
	b := newTestBackend(t, srv.URL, "")

	_, err := b.Load(ctx, t.TempDir())
	require.ErrorIs(t, err, domain.ErrIndexLoad)

	dir := t.TempDir()
	idx, err := b.Build(ctx, chunks)
	require.NoError(t, err)
	require.NoError(t, idx.Save(ctx, dir))

	_, err = newTestBackend(t, srv.URL, "concept-v2").Load(ctx, dir)
	require.ErrorIs(t, err, domain.ErrIndexLoad)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("collection: [unclosed"), 0o644))
	_, err = b.Load(ctx, dir)
	require.ErrorIs(t, err, domain.ErrIndexLoad)

	require.NoError(t, idx.Save(ctx, dir))
	fake.mu.Lock()
	delete(fake.collections, "docqa")
	fake.mu.Unlock()
	_, err = b.Load(ctx, dir)
	require.ErrorIs(t, err, domain.ErrIndexLoad)
}

func TestNewBackendValidates(t *testing.T) {
	_, err := NewBackend(Config{Collection: "c"}, &testutil.ConceptEmbedder{}, logging.Discard())
	require.ErrorIs(t, err, domain.ErrConfig)
	_, err = NewBackend(Config{URL: "http://localhost:6333"}, &testutil.ConceptEmbedder{}, logging.Discard())
	require.ErrorIs(t, err, domain.ErrConfig)
}
