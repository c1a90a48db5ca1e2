package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/charmbracelet/log"

	"docqa/internal/domain"
	"docqa/internal/vectorindex"
)

const (
	// NotFoundMessage is returned without calling the model when no chunk passes the threshold.
	NotFoundMessage = "I'm sorry, but I couldn't find any relevant information in the documents for your question."
	// RefusalMessage is what the model is told to say when the context lacks the answer.
	RefusalMessage = "I'm sorry, but the answer to that question is not found in the provided documents."
)

var promptTemplate = template.Must(template.New("answer").Parse(`
You are a helpful legal assistant. Your task is to answer questions based ONLY on the provided legal document excerpts.
If the provided context does not contain the answer to the question, you must state: "{{.Refusal}}"
Do not use any external knowledge.
Your answers should be clear, concise, and directly based on the information in the excerpts.

Context from documents:
{{.Context}}

Question:
{{.Question}}

Answer:
`))

// Answer is the model text plus the chunks it was grounded on.
type Answer struct {
	Text      string
	Citations []domain.ScoredChunk
	// Found is false when retrieval produced nothing relevant and the model was not asked.
	Found bool
}

// AnswerConfig holds retrieval and generation limits.
type AnswerConfig struct {
	TopK      int
	Threshold float64
	Timeout   time.Duration
}

// Answerer retrieves, filters and asks the language model.
type Answerer struct {
	model  domain.LanguageModel
	cfg    AnswerConfig
	logger *log.Logger
}

func NewAnswerer(model domain.LanguageModel, cfg AnswerConfig, logger *log.Logger) *Answerer {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Answerer{model: model, cfg: cfg, logger: logger}
}

// Answer runs one question against idx. Results scoring at or above the
// threshold are dropped; if none remain the model is not called.
func (a *Answerer) Answer(ctx context.Context, idx vectorindex.Index, query string) (Answer, error) {
	if idx == nil || idx.Len() == 0 {
		return Answer{}, domain.ErrEmptyKnowledgeBase
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return Answer{}, domain.ErrEmptyQuery
	}

	hits, err := idx.SearchWithScores(ctx, query, a.cfg.TopK)
	if err != nil {
		return Answer{}, fmt.Errorf("search: %w", err)
	}
	relevant := FilterRelevant(hits, a.cfg.Threshold)
	a.logger.Debug("retrieved", "hits", len(hits), "relevant", len(relevant), "threshold", a.cfg.Threshold)
	if len(relevant) == 0 {
		return Answer{Text: NotFoundMessage}, nil
	}

	prompt, err := BuildPrompt(JoinContext(relevant), query)
	if err != nil {
		return Answer{}, err
	}
	text, err := a.complete(ctx, prompt)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text, Citations: relevant, Found: true}, nil
}

// Ask sends question to the model with no retrieval at all.
func (a *Answerer) Ask(ctx context.Context, question string) (string, error) {
	return a.complete(ctx, question)
}

func (a *Answerer) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	start := time.Now()
	text, err := a.model.Complete(ctx, prompt)
	if err != nil {
		a.logger.Warn("language model failed", "err", err, "elapsed", time.Since(start))
		switch {
		case errors.Is(err, domain.ErrModelTimeout), errors.Is(err, domain.ErrModel):
			return "", err
		case errors.Is(err, context.DeadlineExceeded):
			return "", fmt.Errorf("%w: %v", domain.ErrModelTimeout, err)
		default:
			return "", fmt.Errorf("%w: %v", domain.ErrModel, err)
		}
	}
	a.logger.Debug("language model answered", "elapsed", time.Since(start), "chars", len(text))
	return text, nil
}

// FilterRelevant keeps hits whose distance is strictly below threshold, in order.
func FilterRelevant(hits []domain.ScoredChunk, threshold float64) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			out = append(out, h)
		}
	}
	return out
}

// JoinContext concatenates chunk texts with blank lines.
func JoinContext(hits []domain.ScoredChunk) string {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Chunk.Text
	}
	return strings.Join(texts, "\n\n")
}

// BuildPrompt renders the grounded-answer prompt.
func BuildPrompt(excerpts, question string) (string, error) {
	var b strings.Builder
	err := promptTemplate.Execute(&b, struct {
		Refusal  string
		Context  string
		Question string
	}{RefusalMessage, excerpts, question})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

// CitationLabel formats the heading of the n-th (1-based) citation.
func CitationLabel(n int, c domain.ScoredChunk) string {
	page := "N/A"
	if c.Chunk.Meta.HasPage() {
		page = fmt.Sprintf("%d", c.Chunk.Meta.Page)
	}
	return fmt.Sprintf("Source %d: %s - Page %s", n, c.Chunk.Meta.SourceName(), page)
}

// UserMessage turns an error into text safe to show in the UI.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrEmptyKnowledgeBase):
		return "The knowledge base is empty. Please add documents to begin."
	case errors.Is(err, domain.ErrEmptyQuery):
		return "Please enter a question."
	case errors.Is(err, domain.ErrModelTimeout):
		return "The language model did not respond in time. Please try again."
	case errors.Is(err, domain.ErrModel):
		return "Sorry, I could not generate an answer right now. Please try again."
	case errors.Is(err, domain.ErrEmbedding):
		return "Could not compute embeddings. Check the embedding provider and try again."
	case errors.Is(err, domain.ErrIndexLoad):
		return "The saved knowledge base could not be loaded. Rebuild it by re-adding documents."
	case errors.Is(err, domain.ErrIndexBuild), errors.Is(err, domain.ErrLoad):
		return "The documents could not be added to the knowledge base."
	case errors.Is(err, domain.ErrConfig):
		return "The application is not configured correctly. Check the configuration file."
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	default:
		return "Something went wrong. See the log for details."
	}
}
