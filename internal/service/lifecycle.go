package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"

	"docqa/internal/domain"
	"docqa/internal/loader"
	"docqa/internal/vectorindex"
)

// DocumentLoader reads every supported file of a folder.
type DocumentLoader interface {
	Load(ctx context.Context, dir string) (loader.Result, error)
}

// LifecycleConfig locates the persisted index and the base documents.
type LifecycleConfig struct {
	IndexPath   string
	BaseDir     string
	LockTimeout time.Duration
}

// Lifecycle creates, loads and extends the persisted index. Writers are
// serialized in-process and across processes by a lock file next to the index.
type Lifecycle struct {
	backend vectorindex.Backend
	loader  DocumentLoader
	chunker domain.Chunker
	cfg     LifecycleConfig
	logger  *log.Logger

	mu sync.Mutex
}

func NewLifecycle(backend vectorindex.Backend, docs DocumentLoader, chunker domain.Chunker, cfg LifecycleConfig, logger *log.Logger) *Lifecycle {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	return &Lifecycle{backend: backend, loader: docs, chunker: chunker, cfg: cfg, logger: logger}
}

// GetOrCreate loads the persisted index, or builds and saves one from the
// base folder. It returns (nil, nil) when there is nothing to index.
func (l *Lifecycle) GetOrCreate(ctx context.Context) (vectorindex.Index, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if l.backend.Exists(l.cfg.IndexPath) {
		idx, err := l.backend.Load(ctx, l.cfg.IndexPath)
		if err != nil {
			return nil, err
		}
		l.logger.Info("knowledge base loaded", "path", l.cfg.IndexPath, "entries", idx.Len())
		return idx, nil
	}

	if err := os.MkdirAll(l.cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", domain.ErrLoad, l.cfg.BaseDir, err)
	}
	entries, err := os.ReadDir(l.cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	if len(entries) == 0 {
		l.logger.Info("base folder is empty", "dir", l.cfg.BaseDir)
		return nil, nil
	}

	l.logger.Info("creating knowledge base", "dir", l.cfg.BaseDir)
	res, err := l.loader.Load(ctx, l.cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	chunks := l.chunker.Split(res.Documents)
	if len(chunks) == 0 {
		l.logger.Info("no text found in base folder", "dir", l.cfg.BaseDir, "files", res.Files)
		return nil, nil
	}
	idx, err := l.backend.Build(ctx, chunks)
	if err != nil {
		return nil, err
	}
	if err := idx.Save(ctx, l.cfg.IndexPath); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexBuild, err)
	}
	l.logger.Info("knowledge base created", "files", res.Files, "chunks", len(chunks), "skipped", len(res.Skipped))
	return idx, nil
}

// MergeNewDocuments adds the documents of dir to a copy of idx (or builds a
// new index when idx is nil) and saves it. The copy is returned only once it
// is saved; on failure idx is returned untouched. With no new chunks idx is
// returned unchanged. The caller clears dir afterwards.
func (l *Lifecycle) MergeNewDocuments(ctx context.Context, idx vectorindex.Index, dir string) (vectorindex.Index, loader.Result, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		return idx, loader.Result{}, err
	}
	defer unlock()

	res, err := l.loader.Load(ctx, dir)
	if err != nil {
		return idx, res, err
	}
	chunks := l.chunker.Split(res.Documents)
	if len(chunks) == 0 {
		l.logger.Info("no new documents to process", "dir", dir, "files", res.Files)
		return idx, res, nil
	}

	var next vectorindex.Index
	if idx == nil {
		next, err = l.backend.Build(ctx, chunks)
		if err != nil {
			return nil, res, err
		}
	} else {
		next = idx.Clone()
		if err := next.Add(ctx, chunks); err != nil {
			l.discard(ctx, next)
			return idx, res, fmt.Errorf("%w: %w", domain.ErrIndexBuild, err)
		}
	}
	if err := next.Save(ctx, l.cfg.IndexPath); err != nil {
		l.discard(ctx, next)
		return idx, res, fmt.Errorf("%w: %w", domain.ErrIndexBuild, err)
	}
	l.logger.Info("knowledge base updated", "files", res.Files, "chunks", len(chunks), "entries", next.Len())
	return next, res, nil
}

// discard undoes external writes of an abandoned merge.
func (l *Lifecycle) discard(ctx context.Context, idx vectorindex.Index) {
	d, ok := idx.(vectorindex.Discarder)
	if !ok {
		return
	}
	if err := d.Discard(context.WithoutCancel(ctx)); err != nil {
		l.logger.Warn("could not discard unsaved entries", "err", err)
	}
}

// lock takes the in-process mutex, then the lock file.
func (l *Lifecycle) lock(ctx context.Context) (func(), error) {
	l.mu.Lock()
	path := l.cfg.IndexPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	fl := flock.New(path)
	lctx, cancel := context.WithTimeout(ctx, l.cfg.LockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(lctx, 100*time.Millisecond)
	if err != nil || !ok {
		l.mu.Unlock()
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("index %s is locked by another process", l.cfg.IndexPath)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			l.logger.Warn("unlock failed", "path", path, "err", err)
		}
		l.mu.Unlock()
	}, nil
}
