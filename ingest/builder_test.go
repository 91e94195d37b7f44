package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/valueseeker/finrag"
)

type fixedSpans struct {
	spans []ClaimedSpan
	err   error
}

func (f *fixedSpans) Spans(ctx context.Context) ([]ClaimedSpan, error) {
	return f.spans, f.err
}

func ninePageSource() PageSource {
	pages := make([]Page, 9)
	for i := range pages {
		pages[i] = Page{Number: i + 1, Text: "Narrative discussion of results for this reporting period."}
	}
	return NewTextSource("report.pdf", pages)
}

func TestBuildNinePagesThreeParents(t *testing.T) {
	b := NewBuilder(Config{PagesPerParent: 3})
	res, err := b.Build(context.Background(), ninePageSource(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Parents) != 3 {
		t.Fatalf("expected 3 parents, got %d", len(res.Parents))
	}
	wantRanges := []finrag.PageRange{{Start: 1, End: 3}, {Start: 4, End: 6}, {Start: 7, End: 9}}
	for i, p := range res.Parents {
		if p.Pages != wantRanges[i] {
			t.Errorf("parent %d range = %+v, want %+v", i, p.Pages, wantRanges[i])
		}
		if p.Type != finrag.ParentPageGroup {
			t.Errorf("parent %d type = %q", i, p.Type)
		}
	}
}

func TestBuildRemainderPagesAbsorbed(t *testing.T) {
	pages := make([]Page, 7)
	for i := range pages {
		pages[i] = Page{Number: i + 1, Text: "Text."}
	}
	b := NewBuilder(Config{PagesPerParent: 3})
	res, err := b.Build(context.Background(), NewTextSource("seven.pdf", pages), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	last := res.Parents[len(res.Parents)-1]
	if last.Pages.End != 7 {
		t.Errorf("last parent ends at %d, want 7", last.Pages.End)
	}
	if err := Validate(res.Document, res.Parents, res.Children); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuildLinkage(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	res, err := b.Build(context.Background(), ninePageSource(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	parentIDs := make(map[string]bool)
	for _, p := range res.Parents {
		parentIDs[p.ID] = true
	}
	for _, c := range res.Children {
		if !parentIDs[c.ParentID] {
			t.Errorf("child %s has unknown parent %s", c.ID, c.ParentID)
		}
		if c.DocumentID != res.Document.ID {
			t.Errorf("child %s has wrong document id", c.ID)
		}
	}
}

func TestBuildClaimedSpanExcludedFromText(t *testing.T) {
	text := "Intro paragraph about results. TABLEREGION Closing remarks about outlook."
	start := strings.Index(text, "TABLEREGION")
	spans := &fixedSpans{spans: []ClaimedSpan{{
		Page:      1,
		Rows:      [][]string{{"Metric", "Value"}, {"Revenue", "1,200"}},
		TextStart: start,
		TextEnd:   start + len("TABLEREGION"),
	}}}
	b := NewBuilder(DefaultConfig())
	res, err := b.Build(context.Background(), NewSinglePageSource("doc.pdf", text), spans)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var tables, texts int
	for _, c := range res.Children {
		switch c.Type {
		case finrag.ChildTable:
			tables++
			if !strings.HasPrefix(c.Content, "[Table (page 1)]") {
				t.Errorf("table child missing page header: %q", c.Content)
			}
			if c.Metadata["table_type"] != "financial" {
				t.Errorf("table_type = %q, want financial", c.Metadata["table_type"])
			}
		case finrag.ChildText:
			texts++
			if strings.Contains(c.Content, "TABLEREGION") {
				t.Errorf("claimed region leaked into text child: %q", c.Content)
			}
		}
	}
	if tables != 1 {
		t.Errorf("expected 1 table child, got %d", tables)
	}
	if texts == 0 {
		t.Error("expected text children around the claimed region")
	}
}

func TestBuildResidueDropped(t *testing.T) {
	spans := &fixedSpans{spans: []ClaimedSpan{{
		Page:      1,
		Rows:      [][]string{{"A", "B"}, {"1", "2"}},
		TextStart: 0,
		TextEnd:   0,
	}}}
	src := NewSinglePageSource("doc.pdf", "12.5 34,100 56% (780)")
	b := NewBuilder(DefaultConfig())
	res, err := b.Build(context.Background(), src, spans)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, c := range res.Children {
		if c.Type == finrag.ChildText {
			t.Errorf("residue fragment became a text child: %q", c.Content)
		}
	}
	if res.Stats.ResidueDropped != 1 {
		t.Errorf("ResidueDropped = %d, want 1", res.Stats.ResidueDropped)
	}
}

func TestBuildEmptyPagesStillCovered(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "Only the first page has text."},
		{Number: 2, Text: ""},
		{Number: 3, Text: ""},
		{Number: 4, Text: ""},
	}
	b := NewBuilder(Config{PagesPerParent: 3})
	res, err := b.Build(context.Background(), NewTextSource("sparse.pdf", pages), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Parents) != 2 {
		t.Fatalf("expected 2 parents, got %d", len(res.Parents))
	}
	if err := Validate(res.Document, res.Parents, res.Children); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuildEmptyDocument(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	_, err := b.Build(context.Background(), NewTextSource("empty.pdf", nil), nil)
	var perr *finrag.DocumentProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected DocumentProcessingError, got %v", err)
	}
}

func TestBuildSectionStrategy(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "Cover page without headings."},
		{Number: 2, Text: "# Business Review\n\nSegment performance."},
		{Number: 3, Text: "Continued review."},
		{Number: 4, Text: "# Financial Statements\n\nBalance sheet."},
	}
	b := NewBuilder(Config{ParentStrategy: finrag.ParentSection})
	res, err := b.Build(context.Background(), NewTextSource("annual.pdf", pages), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Parents) != 2 {
		t.Fatalf("expected 2 section parents, got %d", len(res.Parents))
	}
	if res.Parents[0].Pages.Start != 1 {
		t.Errorf("first section must start at page 1, got %d", res.Parents[0].Pages.Start)
	}
	if res.Parents[0].Title != "Business Review" {
		t.Errorf("first section title = %q", res.Parents[0].Title)
	}
	if res.Parents[1].Pages != (finrag.PageRange{Start: 4, End: 4}) {
		t.Errorf("second section range = %+v", res.Parents[1].Pages)
	}
	if err := Validate(res.Document, res.Parents, res.Children); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuildSectionFallsBackToPageGroups(t *testing.T) {
	b := NewBuilder(Config{ParentStrategy: finrag.ParentSection, PagesPerParent: 3})
	res, err := b.Build(context.Background(), ninePageSource(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Parents) != 3 || res.Parents[0].Type != finrag.ParentPageGroup {
		t.Errorf("expected page-group fallback, got %d parents of type %q", len(res.Parents), res.Parents[0].Type)
	}
}

func TestBuildDeterministicContent(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	first, err := b.Build(context.Background(), ninePageSource(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := b.Build(context.Background(), ninePageSource(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Ids differ per run; content and structure must not.
	if len(first.Parents) != len(second.Parents) || len(first.Children) != len(second.Children) {
		t.Fatalf("chunk counts changed between runs")
	}
	for i := range first.Parents {
		if first.Parents[i].Content != second.Parents[i].Content || first.Parents[i].Pages != second.Parents[i].Pages {
			t.Errorf("parent %d content changed between runs", i)
		}
	}
	for i := range first.Children {
		if first.Children[i].Content != second.Children[i].Content || first.Children[i].PageNumber != second.Children[i].PageNumber {
			t.Errorf("child %d content changed between runs", i)
		}
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBuilder(DefaultConfig())
	_, err := b.Build(ctx, ninePageSource(), nil)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestValidateDetectsGap(t *testing.T) {
	doc := finrag.Document{ID: "d", PageCount: 6}
	parents := []finrag.ParentChunk{
		{ID: "p1", Pages: finrag.PageRange{Start: 1, End: 2}},
		{ID: "p2", Pages: finrag.PageRange{Start: 4, End: 6}},
	}
	if err := Validate(doc, parents, nil); err == nil {
		t.Error("expected gap detection at page 3")
	}
}

func TestValidateDetectsOverlap(t *testing.T) {
	doc := finrag.Document{ID: "d", PageCount: 4}
	parents := []finrag.ParentChunk{
		{ID: "p1", Pages: finrag.PageRange{Start: 1, End: 3}},
		{ID: "p2", Pages: finrag.PageRange{Start: 3, End: 4}},
	}
	if err := Validate(doc, parents, nil); err == nil {
		t.Error("expected overlap detection at page 3")
	}
}

func TestValidateDetectsUnlistedChild(t *testing.T) {
	doc := finrag.Document{ID: "d", PageCount: 1}
	parents := []finrag.ParentChunk{{ID: "p1", Pages: finrag.PageRange{Start: 1, End: 1}}}
	children := []finrag.ChildChunk{{ID: "c1", ParentID: "p1", PageNumber: 1}}
	if err := Validate(doc, parents, children); err == nil {
		t.Error("expected unlisted child detection")
	}
}
