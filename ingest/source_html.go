package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

var _ PageSource = (*HTMLSource)(nil)

// HTMLSource is a PageSource over an HTML document (e.g. a filing fetched
// from a regulator's site). It extracts the readable article body and
// presents it as a single page.
type HTMLSource struct {
	html   string
	source string
}

// NewHTMLSource creates an HTML page source. source should be the page URL
// when known; it improves relative-link resolution during extraction.
func NewHTMLSource(html, source string) *HTMLSource {
	return &HTMLSource{html: html, source: source}
}

func (s *HTMLSource) Source() string { return s.source }

func (s *HTMLSource) Pages(ctx context.Context) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.html) == "" {
		return nil, fmt.Errorf("empty HTML content")
	}
	pageURL, _ := url.Parse(s.source)
	article, err := readability.FromReader(strings.NewReader(s.html), pageURL)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("no readable content")
	}
	return []Page{{Number: 1, Text: text}}, nil
}
