// Package eval compares answers of the bare language model with grounded
// answers for a small question set, for manual review.
package eval

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
	"docqa/internal/service"
)

//go:embed default.yaml
var defaultDataset []byte

// Item is one question with its reference answer.
type Item struct {
	Question    string `yaml:"question"`
	GroundTruth string `yaml:"ground_truth_answer"`
}

// Result holds both answers for an item. Failed calls carry a user message instead.
type Result struct {
	Item
	Baseline string
	RAG      string
	Sources  []string
}

// Asker is the subset of service.RAG the evaluation needs.
type Asker interface {
	Ask(ctx context.Context, question string) (service.Answer, error)
	AskModel(ctx context.Context, question string) (string, error)
}

// LoadDataset reads items from path, or the built-in set when path is empty.
func LoadDataset(path string) ([]Item, error) {
	data := defaultDataset
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read dataset: %v", domain.ErrConfig, err)
		}
		data = b
	}
	var items []Item
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: parse dataset: %v", domain.ErrConfig, err)
	}
	for i, it := range items {
		if strings.TrimSpace(it.Question) == "" {
			return nil, fmt.Errorf("%w: dataset item %d has no question", domain.ErrConfig, i)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: dataset is empty", domain.ErrConfig)
	}
	return items, nil
}

// Run asks every question twice: once to the model alone, once through retrieval.
func Run(ctx context.Context, asker Asker, items []Item, logger *log.Logger) ([]Result, error) {
	results := make([]Result, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := Result{Item: it}
		baseline, err := asker.AskModel(ctx, it.Question)
		if err != nil {
			logger.Warn("baseline answer failed", "question", it.Question, "err", err)
			baseline = service.UserMessage(err)
		}
		r.Baseline = baseline

		ans, err := asker.Ask(ctx, it.Question)
		if err != nil {
			logger.Warn("rag answer failed", "question", it.Question, "err", err)
			r.RAG = service.UserMessage(err)
		} else {
			r.RAG = ans.Text
			for i, c := range ans.Citations {
				r.Sources = append(r.Sources, service.CitationLabel(i+1, c))
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// Print writes results in a review-friendly plain text layout.
func Print(w io.Writer, results []Result) error {
	rule := strings.Repeat("-", 50)
	for _, r := range results {
		_, err := fmt.Fprintf(w, "%s\nQuestion: %s\nGround Truth: %s\nBaseline Answer: %s\nRAG Answer: %s\n",
			rule, r.Question, r.GroundTruth, r.Baseline, r.RAG)
		if err != nil {
			return err
		}
		for _, s := range r.Sources {
			if _, err := fmt.Fprintf(w, "  %s\n", s); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w, rule); err != nil {
			return err
		}
	}
	return nil
}
