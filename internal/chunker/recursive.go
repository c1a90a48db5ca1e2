package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Recursive splits text on the first separator present, recursing into
// pieces that are still too long, then merges pieces back into windows of
// at most size runes with up to overlap runes carried between windows.
type Recursive struct {
	size       int
	overlap    int
	separators []string
}

// NewRecursive validates the window parameters.
func NewRecursive(size, overlap int) (*Recursive, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", domain.ErrConfig, size, overlap)
	}
	return &Recursive{size: size, overlap: overlap, separators: DefaultSeparators}, nil
}

// Split chunks every document and normalizes the chunk text.
// Metadata is copied from the originating document.
func (r *Recursive) Split(docs []domain.Document) []domain.Chunk {
	var out []domain.Chunk
	for _, d := range docs {
		for _, piece := range r.SplitText(d.Text) {
			text := Normalize(piece)
			if text == "" {
				continue
			}
			out = append(out, domain.Chunk{Text: text, Meta: d.Meta})
		}
	}
	return out
}

// SplitText returns the raw (not normalized) windows for a single text.
func (r *Recursive) SplitText(text string) []string {
	return r.split(text, r.separators)
}

func (r *Recursive) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep = s
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, piece := range splitKeepEnd(text, sep) {
		if runeLen(piece) < r.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, r.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, r.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, r.merge(good)...)
	}
	return final
}

// merge packs pieces into windows. When a window is emitted, pieces are
// dropped from its front until what remains fits in the overlap budget and
// leaves room for the incoming piece.
func (r *Recursive) merge(pieces []string) []string {
	var docs, window []string
	total := 0
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > r.size && len(window) > 0 {
			if doc := strings.TrimSpace(strings.Join(window, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > r.overlap || (total+n > r.size && total > 0) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(window, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepEnd splits on sep, keeping sep at the end of each preceding piece.
// An empty sep splits into single runes.
func splitKeepEnd(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, c := range text {
			out = append(out, string(c))
		}
		return out
	}
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Normalize collapses whitespace runs (newlines included) to single spaces
// and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
