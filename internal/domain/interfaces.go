package domain

import (
	"context"
	"path/filepath"
)

// NoPage marks a Document or Chunk whose source has no page structure (DOCX).
const NoPage = 0

// Metadata identifies where a piece of text came from.
type Metadata struct {
	Source string
	Page   int
}

// SourceName returns the base file name of the source path.
func (m Metadata) SourceName() string {
	if m.Source == "" {
		return "Unknown"
	}
	return filepath.Base(m.Source)
}

// HasPage reports whether the metadata carries a real page number.
func (m Metadata) HasPage() bool { return m.Page != NoPage }

// Document is a page (PDF) or a whole file (DOCX) of extracted text.
type Document struct {
	Text string
	Meta Metadata
}

// Chunk is a bounded span of a Document used for indexing and citation.
type Chunk struct {
	Text string
	Meta Metadata
}

// Entry is a chunk stored in a vector index together with its embedding.
type Entry struct {
	ID     string
	Vector []float32
	Chunk  Chunk
}

// ScoredChunk is a search hit. Score is a distance: lower is more relevant.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Embedder converts text into fixed-dimension vectors.
// ModelID identifies the model; vectors from different models are not comparable.
type Embedder interface {
	ModelID() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Split(docs []Document) []Chunk
}

// LanguageModel turns a rendered prompt into free text.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
