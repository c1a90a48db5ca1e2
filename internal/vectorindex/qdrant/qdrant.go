// Package qdrant keeps vectors in a Qdrant collection over its REST API.
// The collection uses cosine distance; scores are converted to the L2
// distance of unit vectors so that lower stays more relevant.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
	"docqa/internal/vectorindex"
)

// ManifestFile is written under the index path and binds it to a collection.
const ManifestFile = "qdrant.yaml"

const (
	scrollPage       = 256
	defaultBatchSize = 256
)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	// BatchSize caps the points sent in one upsert request.
	BatchSize int
}

type manifest struct {
	Collection string `yaml:"collection"`
	Model      string `yaml:"model"`
	Dimension  int    `yaml:"dimension"`
}

// Backend creates and opens Qdrant-backed indexes.
type Backend struct {
	url        string
	apiKey     string
	collection string
	batchSize  int
	embedder   domain.Embedder
	client     *http.Client
	logger     *log.Logger
}

var _ vectorindex.Backend = (*Backend)(nil)

func NewBackend(cfg Config, embedder domain.Embedder, logger *log.Logger) (*Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: qdrant url is required", domain.ErrConfig)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: qdrant collection is required", domain.ErrConfig)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Backend{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		batchSize:  batchSize,
		embedder:   embedder,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Build recreates the collection and upserts chunks into it.
func (b *Backend) Build(ctx context.Context, chunks []domain.Chunk) (vectorindex.Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", domain.ErrIndexBuild)
	}
	points, err := b.embedPoints(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexBuild, err)
	}
	dim := len(points[0].Vector)
	if err := b.recreate(ctx, dim); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexBuild, err)
	}
	idx := &Index{backend: b, dimension: dim, sources: map[string]struct{}{}}
	if err := idx.upsert(ctx, points); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexBuild, err)
	}
	return idx, nil
}

// Load opens the collection named by the manifest under dir.
func (b *Backend) Load(ctx context.Context, dir string) (vectorindex.Index, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexLoad, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrIndexLoad, path, err)
	}
	if m.Collection != b.collection {
		return nil, fmt.Errorf("%w: manifest names collection %q, configured %q", domain.ErrIndexLoad, m.Collection, b.collection)
	}
	if m.Model != b.embedder.ModelID() {
		return nil, fmt.Errorf("%w: index built with model %q, configured model is %q; rebuild the index", domain.ErrIndexLoad, m.Model, b.embedder.ModelID())
	}

	var info struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	if err := b.do(ctx, http.MethodGet, b.collectionURL(""), nil, &info); err != nil {
		return nil, fmt.Errorf("%w: collection %s: %v", domain.ErrIndexLoad, b.collection, err)
	}
	idx := &Index{backend: b, dimension: m.Dimension, count: info.Result.PointsCount, sources: map[string]struct{}{}}
	if err := idx.scrollSources(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexLoad, err)
	}
	b.logger.Debug("qdrant index opened", "collection", b.collection, "points", idx.count)
	return idx, nil
}

// Exists reports whether a manifest is present under dir.
func (b *Backend) Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil
}

func (b *Backend) recreate(ctx context.Context, dimension int) error {
	err := b.do(ctx, http.MethodDelete, b.collectionURL(""), nil, nil)
	var se *statusError
	if err != nil && !(errors.As(err, &se) && se.code == http.StatusNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return b.do(ctx, http.MethodPut, b.collectionURL(""), body, nil)
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (b *Backend) embedPoints(ctx context.Context, chunks []domain.Chunk) ([]point, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", domain.ErrEmbedding, len(chunks), len(vecs))
	}
	points := make([]point, len(chunks))
	for i, c := range chunks {
		points[i] = point{
			ID:     uuid.NewString(),
			Vector: vecs[i],
			Payload: map[string]any{
				"text":   c.Text,
				"source": c.Meta.Source,
				"page":   c.Meta.Page,
			},
		}
	}
	return points, nil
}

func (b *Backend) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", b.url, url.PathEscape(b.collection), suffix)
}

type statusError struct {
	method string
	url    string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.method, e.url, e.code, e.body)
}

func (b *Backend) do(ctx context.Context, method, u string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("api-key", b.apiKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{method: method, url: u, code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Index is a handle on a Qdrant collection.
// Points live in the shared collection; count and sources are local.
type Index struct {
	backend   *Backend
	dimension int

	mu      sync.RWMutex
	count   int
	sources map[string]struct{}
	// pending holds point IDs upserted since the last successful Save.
	pending []string
}

var _ vectorindex.Discarder = (*Index)(nil)

var _ vectorindex.Index = (*Index)(nil)

func (x *Index) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points, err := x.backend.embedPoints(ctx, chunks)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != x.dimension {
			return fmt.Errorf("%w: vector dimension %d, collection has %d", domain.ErrEmbedding, len(p.Vector), x.dimension)
		}
	}
	return x.upsert(ctx, points)
}

// upsert sends points in batches. Batches written before a failure stay
// pending so that Discard can remove them.
func (x *Index) upsert(ctx context.Context, points []point) error {
	for start := 0; start < len(points); start += x.backend.batchSize {
		batch := points[start:min(start+x.backend.batchSize, len(points))]
		body := map[string]any{"points": batch}
		if err := x.backend.do(ctx, http.MethodPut, x.backend.collectionURL("/points?wait=true"), body, nil); err != nil {
			return fmt.Errorf("upsert points %d-%d: %w", start, start+len(batch), err)
		}
		x.mu.Lock()
		x.count += len(batch)
		for _, p := range batch {
			x.sources[sourceName(p.Payload["source"])] = struct{}{}
			x.pending = append(x.pending, p.ID)
		}
		x.mu.Unlock()
	}
	return nil
}

// Clone copies the local bookkeeping. The copy writes to the same collection.
func (x *Index) Clone() vectorindex.Index {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return &Index{
		backend:   x.backend,
		dimension: x.dimension,
		count:     x.count,
		sources:   maps.Clone(x.sources),
	}
}

// Discard deletes the points upserted since the last successful Save.
func (x *Index) Discard(ctx context.Context) error {
	x.mu.Lock()
	ids := x.pending
	x.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	if err := x.backend.do(ctx, http.MethodPost, x.backend.collectionURL("/points/delete?wait=true"), body, nil); err != nil {
		return fmt.Errorf("discard %d points: %w", len(ids), err)
	}
	x.mu.Lock()
	x.pending = nil
	x.mu.Unlock()
	return nil
}

func (x *Index) SearchWithScores(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	vecs, err := x.backend.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", domain.ErrEmbedding, len(vecs))
	}
	req := map[string]any{
		"vector":       vecs[0],
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := x.backend.do(ctx, http.MethodPost, x.backend.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.ScoredChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.ScoredChunk{
			Chunk: chunkFromPayload(r.Payload),
			Score: vectorindex.CosineToL2(r.Score),
		})
	}
	return results, nil
}

// Save writes the manifest binding dir to the collection. Points are
// already durable in Qdrant.
func (x *Index) Save(_ context.Context, dir string) error {
	m := manifest{Collection: x.backend.collection, Model: x.Model(), Dimension: x.dimension}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	dest := filepath.Join(dir, ManifestFile)
	err = vectorindex.ReplaceFile(dest, func(tmp string) error {
		return os.WriteFile(tmp, data, 0o644)
	})
	if err != nil {
		return err
	}
	x.mu.Lock()
	x.pending = nil
	x.mu.Unlock()
	return nil
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.count
}

func (x *Index) Sources() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	metas := make([]domain.Metadata, 0, len(x.sources))
	for s := range x.sources {
		metas = append(metas, domain.Metadata{Source: s})
	}
	return vectorindex.SourceNames(metas)
}

func (x *Index) Model() string { return x.backend.embedder.ModelID() }

func (x *Index) scrollSources(ctx context.Context) error {
	var offset any
	for {
		req := map[string]any{
			"limit":        scrollPage,
			"with_payload": []string{"source"},
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := x.backend.do(ctx, http.MethodPost, x.backend.collectionURL("/points/scroll"), req, &resp); err != nil {
			return err
		}
		x.mu.Lock()
		for _, p := range resp.Result.Points {
			x.sources[sourceName(p.Payload["source"])] = struct{}{}
		}
		x.mu.Unlock()
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			return nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func sourceName(v any) string {
	s, _ := v.(string)
	return domain.Metadata{Source: s}.SourceName()
}

func chunkFromPayload(p map[string]any) domain.Chunk {
	var c domain.Chunk
	if v, ok := p["text"].(string); ok {
		c.Text = v
	}
	if v, ok := p["source"].(string); ok {
		c.Meta.Source = v
	}
	if v, ok := p["page"].(float64); ok {
		c.Meta.Page = int(v)
	}
	return c
}
