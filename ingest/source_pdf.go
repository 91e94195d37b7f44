package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var _ PageSource = (*PDFSource)(nil)

// PDFSource is a PageSource over a PDF document, extracting plain text
// page by page.
type PDFSource struct {
	content []byte
	source  string
}

// NewPDFSource creates a PDF page source for the given raw bytes.
func NewPDFSource(content []byte, source string) *PDFSource {
	return &PDFSource{content: content, source: source}
}

func (s *PDFSource) Source() string { return s.source }

// Pages extracts per-page text. Pages the reader cannot decode produce an
// empty entry rather than failing the document; a document that cannot be
// opened at all is an error.
func (s *PDFSource) Pages(ctx context.Context) ([]Page, error) {
	if len(s.content) == 0 {
		return nil, fmt.Errorf("empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(s.content), int64(len(s.content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]Page, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := Page{Number: i}
		page := r.Page(i)
		if !page.V.IsNull() {
			if text, err := page.GetPlainText(nil); err == nil {
				p.Text = strings.TrimSpace(text)
			}
		}
		pages = append(pages, p)
	}
	return pages, nil
}
