// Package service composes loading, indexing and answering into the
// operations the CLI and TUI call.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"docqa/internal/loader"
	"docqa/internal/vectorindex"
)

// IngestReport describes one upload-and-merge run.
type IngestReport struct {
	Staged   []string
	Rejected []string
	Files    int
	Skipped  []*loader.FileError
	Entries  int
}

// RAG holds the current index. Queries read a snapshot of it; ingestion
// replaces it only after the merged index has been saved.
type RAG struct {
	lifecycle  *Lifecycle
	answerer   *Answerer
	uploadsDir string
	logger     *log.Logger

	ingestMu sync.Mutex
	mu       sync.RWMutex
	idx      vectorindex.Index
	initErr  error
}

func NewRAG(lifecycle *Lifecycle, answerer *Answerer, uploadsDir string, logger *log.Logger) *RAG {
	return &RAG{lifecycle: lifecycle, answerer: answerer, uploadsDir: uploadsDir, logger: logger}
}

// Init loads or creates the knowledge base. On failure the service keeps
// running with an empty knowledge base and the error is returned for display.
func (s *RAG) Init(ctx context.Context) error {
	idx, err := s.lifecycle.GetOrCreate(ctx)
	if err != nil {
		s.logger.Error("could not initialise knowledge base", "err", err)
		s.mu.Lock()
		s.initErr = err
		s.mu.Unlock()
		return err
	}
	s.setIndex(idx)
	return nil
}

// Ask answers question from the current index.
func (s *RAG) Ask(ctx context.Context, question string) (Answer, error) {
	return s.answerer.Answer(ctx, s.Index(), question)
}

// AskModel asks the language model directly, without retrieval.
func (s *RAG) AskModel(ctx context.Context, question string) (string, error) {
	return s.answerer.Ask(ctx, question)
}

// Ingest copies paths into the uploads folder, merges everything there into
// the knowledge base and clears the folder on success. It refuses to run
// after a failed Init so that an unreadable index is never overwritten.
func (s *RAG) Ingest(ctx context.Context, paths []string) (IngestReport, error) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	var rep IngestReport
	s.mu.RLock()
	initErr := s.initErr
	s.mu.RUnlock()
	if initErr != nil {
		return rep, fmt.Errorf("knowledge base unavailable: %w", initErr)
	}
	staged, rejected, err := StageFiles(s.uploadsDir, paths)
	rep.Staged, rep.Rejected = staged, rejected
	if err != nil {
		return rep, err
	}
	for _, r := range rejected {
		s.logger.Warn("unsupported file ignored", "path", r)
	}

	idx, res, err := s.lifecycle.MergeNewDocuments(ctx, s.Index(), s.uploadsDir)
	rep.Files, rep.Skipped = res.Files, res.Skipped
	if err != nil {
		return rep, err
	}
	if err := ClearFolder(s.uploadsDir); err != nil {
		s.logger.Warn("could not clear uploads folder", "dir", s.uploadsDir, "err", err)
	}
	s.setIndex(idx)
	if idx != nil {
		rep.Entries = idx.Len()
	}
	return rep, nil
}

// Sources lists the indexed document names.
func (s *RAG) Sources() []string {
	idx := s.Index()
	if idx == nil {
		return nil
	}
	return idx.Sources()
}

// Ready reports whether there is anything to query.
func (s *RAG) Ready() bool {
	idx := s.Index()
	return idx != nil && idx.Len() > 0
}

// Index returns the current index, possibly nil.
func (s *RAG) Index() vectorindex.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx
}

func (s *RAG) setIndex(idx vectorindex.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx = idx
}
