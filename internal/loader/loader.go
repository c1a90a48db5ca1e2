// Package loader turns a folder of PDF and DOCX files into page-level documents.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"docqa/internal/domain"
)

const (
	extPDF  = ".pdf"
	extDOCX = ".docx"
)

// Supported reports whether path has an extension the loader can parse.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case extPDF, extDOCX:
		return true
	}
	return false
}

// FileError records a single file that could not be parsed.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e *FileError) Unwrap() error { return e.Err }

// Result is the outcome of loading a folder. Skipped files do not fail the load.
type Result struct {
	Documents []domain.Document
	Files     int
	Skipped   []*FileError
}

// Loader reads supported files from a folder.
type Loader struct {
	logger *log.Logger
}

// New creates a Loader that reports skipped files through logger.
func New(logger *log.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load parses every supported file directly inside dir, in name order.
// A missing folder is an error; a broken file is skipped and reported.
func (l *Loader) Load(ctx context.Context, dir string) (Result, error) {
	var res Result
	info, err := os.Stat(dir)
	if err != nil {
		return res, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	if !info.IsDir() {
		return res, fmt.Errorf("%w: %s is not a directory", domain.ErrLoad, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		docs, err := loadFile(path)
		if err != nil {
			fe := &FileError{Path: path, Err: fmt.Errorf("%w: %v", domain.ErrLoad, err)}
			res.Skipped = append(res.Skipped, fe)
			l.logger.Warn("skipping unreadable document", "path", path, "err", err)
			continue
		}
		res.Files++
		res.Documents = append(res.Documents, docs...)
	}
	l.logger.Debug("loaded folder", "dir", dir, "files", res.Files, "documents", len(res.Documents), "skipped", len(res.Skipped))
	return res, nil
}

func loadFile(path string) ([]domain.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case extPDF:
		return loadPDF(path)
	case extDOCX:
		text, err := readDOCX(path)
		if err != nil {
			return nil, err
		}
		return []domain.Document{{Text: text, Meta: domain.Metadata{Source: path, Page: domain.NoPage}}}, nil
	}
	return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
}
