package loader

import (
	"fmt"

	"github.com/ledongthuc/pdf"

	"docqa/internal/domain"
)

// loadPDF returns one document per page. Page numbers are 1-based.
func loadPDF(path string) (docs []domain.Document, err error) {
	// The parser panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("pdf parser: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		for _, name := range page.Fonts() {
			font := page.Font(name)
			fonts[name] = &font
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		docs = append(docs, domain.Document{
			Text: text,
			Meta: domain.Metadata{Source: path, Page: i},
		})
	}
	return docs, nil
}
