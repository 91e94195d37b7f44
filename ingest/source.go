// Package ingest turns source documents into cross-referenced parent and
// child chunk sets and drives the extract, chunk, embed and store pipeline.
package ingest

import (
	"context"
	"strings"

	"github.com/valueseeker/finrag"
)

// Page is one page of extracted document text.
type Page struct {
	Number int
	Text   string
}

// PageSource provides a document's ordered page text. Extraction quality is
// the upstream extractor's concern; the builder only consumes its output.
type PageSource interface {
	// Pages returns the document's pages in ascending page order.
	Pages(ctx context.Context) ([]Page, error)

	// Source identifies the document (file name, URL) for records and
	// error context.
	Source() string
}

// ClaimedSpan is a content region already extracted by a specialized stage
// (e.g. table extraction) and excluded from generic text splitting. Rows
// holds the extracted table cells, first row = header. TextStart/TextEnd
// mark the byte interval the span claims inside its page's text; a zero
// interval claims nothing (the span's content never reached the page text).
type ClaimedSpan struct {
	Page      int
	Bounding  finrag.BoundingBox
	Rows      [][]string
	TextStart int
	TextEnd   int
}

// SpanExtractor yields the claimed spans of a document. A nil extractor
// (or zero spans) falls back to pure text splitting.
type SpanExtractor interface {
	Spans(ctx context.Context) ([]ClaimedSpan, error)
}

// TextSource is a PageSource over in-memory page text, mainly for plain
// text documents and tests.
type TextSource struct {
	source string
	pages  []Page
}

// NewTextSource creates a PageSource from pre-split page text.
func NewTextSource(source string, pages []Page) *TextSource {
	return &TextSource{source: source, pages: pages}
}

// NewSinglePageSource wraps one blob of text as a one-page document.
func NewSinglePageSource(source, text string) *TextSource {
	return &TextSource{source: source, pages: []Page{{Number: 1, Text: strings.TrimSpace(text)}}}
}

func (s *TextSource) Pages(context.Context) ([]Page, error) { return s.pages, nil }

func (s *TextSource) Source() string { return s.source }
