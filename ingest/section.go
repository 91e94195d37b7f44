package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// sectionBoundary marks a page at which a new section-based parent begins,
// with the heading text that opened it.
type sectionBoundary struct {
	page  int
	title string
}

// maxSectionHeadingLevel bounds which headings open a new section. Deeper
// headings stay inside their enclosing section.
const maxSectionHeadingLevel = 2

// sectionBoundaries parses the document's pages as Markdown and returns
// the pages on which a top-level heading appears, in ascending page order.
// Sections snap to page boundaries: the page containing a heading starts a
// new section, and multiple headings on the same page collapse into one
// boundary keeping the first heading's text. A document without headings
// returns nil, and the caller falls back to fixed page grouping.
func sectionBoundaries(pages []Page) []sectionBoundary {
	// Concatenate pages with a separator so we can map a heading's byte
	// offset back to its page.
	var src strings.Builder
	starts := make([]int, len(pages))
	for i, p := range pages {
		starts[i] = src.Len()
		src.WriteString(p.Text)
		src.WriteString("\n\n")
	}
	source := []byte(src.String())

	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(source))

	var bounds []sectionBoundary
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > maxSectionHeadingLevel {
			return ast.WalkContinue, nil
		}
		lines := h.Lines()
		if lines.Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		page := pageForOffset(starts, pages, lines.At(0).Start)
		title := headingText(h, source)
		if len(bounds) > 0 && bounds[len(bounds)-1].page == page {
			return ast.WalkSkipChildren, nil
		}
		bounds = append(bounds, sectionBoundary{page: page, title: title})
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil
	}
	return bounds
}

// pageForOffset maps a byte offset in the concatenated source back to the
// page number it falls on.
func pageForOffset(starts []int, pages []Page, off int) int {
	for i := len(starts) - 1; i >= 0; i-- {
		if off >= starts[i] {
			return pages[i].Number
		}
	}
	return pages[0].Number
}

// headingText extracts the plain text of a heading node.
func headingText(h *ast.Heading, source []byte) string {
	var b strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(b.String())
}
