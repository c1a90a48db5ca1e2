// Package summarizer produces short extractive previews of retrieved passages.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	sentenceRe = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
	wordRe     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// Sentences splits text after runs of '.', '!' or '?'. Trailing text without
// a terminator is kept as the last sentence.
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Frequency picks the sentences whose words are most frequent in the passage
// (stopwords ignored) and returns them in their original order.
type Frequency struct {
	maxRunes  int
	stopwords map[string]struct{}
}

// NewFrequency returns a summarizer whose previews are cut at maxRunes (0 means no limit).
func NewFrequency(maxRunes int) *Frequency {
	return &Frequency{maxRunes: maxRunes, stopwords: stopwords()}
}

// Preview returns up to maxSentences representative sentences of text.
func (f *Frequency) Preview(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 1
	}
	sentences := Sentences(text)
	if len(sentences) <= maxSentences {
		return f.clip(strings.Join(sentences, " "))
	}

	freq := map[string]float64{}
	maxF := 0.0
	for _, s := range sentences {
		for _, w := range f.words(s) {
			freq[w]++
			maxF = math.Max(maxF, freq[w])
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		words := f.words(s)
		total := 0.0
		for _, w := range words {
			total += freq[w] / maxF
		}
		if len(words) > 0 {
			total /= math.Sqrt(float64(len(words)))
		}
		ranked[i] = scored{i, total}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	keep := make([]int, maxSentences)
	for i := range keep {
		keep[i] = ranked[i].idx
	}
	sort.Ints(keep)
	out := make([]string, len(keep))
	for i, idx := range keep {
		out[i] = sentences[idx]
	}
	return f.clip(strings.Join(out, " "))
}

func (f *Frequency) words(s string) []string {
	raw := wordRe.FindAllString(strings.ToLower(s), -1)
	out := raw[:0]
	for _, w := range raw {
		if _, stop := f.stopwords[w]; !stop {
			out = append(out, w)
		}
	}
	return out
}

func (f *Frequency) clip(s string) string {
	if f.maxRunes <= 0 || utf8.RuneCountInString(s) <= f.maxRunes {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:f.maxRunes-1])) + "…"
}

func stopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "such", "into", "about", "between", "any", "all", "shall", "may", "will", "not", "no", "its", "their", "other", "each",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
