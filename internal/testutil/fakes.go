package testutil

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"docqa/internal/domain"
)

// Concepts maps words to vector dimensions. Dimension 0 is reserved for
// text that mentions no known concept.
var Concepts = map[string]int{
	"governing": 1, "governed": 1, "governs": 1, "govern": 1,
	"law": 2, "laws": 2,
	"york":         3,
	"confidential": 4, "confidentiality": 4,
	"payment": 5, "pays": 5, "pay": 5,
	"sky": 6, "color": 6, "blue": 6,
	"alpha": 7,
	"beta":  8,
}

var wordRe = regexp.MustCompile(`[a-z]+`)

// ConceptEmbedder embeds text as the normalized bag of known concepts.
// Two texts sharing no concept are exactly sqrt(2) apart.
type ConceptEmbedder struct {
	Model string

	mu    sync.Mutex
	Calls int
}

var _ domain.Embedder = (*ConceptEmbedder)(nil)

func (e *ConceptEmbedder) ModelID() string {
	if e.Model == "" {
		return "concept-v1"
	}
	return e.Model
}

func (e *ConceptEmbedder) Dimension() int { return 16 }

func (e *ConceptEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.Calls++
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: empty text", domain.ErrEmbedding)
		}
		out[i] = conceptVector(t, e.Dimension())
	}
	return out, nil
}

func conceptVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	hit := false
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if d, ok := Concepts[w]; ok {
			v[d] = 1
			hit = true
		}
	}
	if !hit {
		v[0] = 1
	}
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// FakeModel records prompts and returns a canned reply or error.
type FakeModel struct {
	Reply string
	Err   error

	mu      sync.Mutex
	Prompts []string
}

var _ domain.LanguageModel = (*FakeModel)(nil)

func (m *FakeModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Reply, nil
}

// CallCount returns the number of Complete calls so far.
func (m *FakeModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}
