package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valueseeker/finrag"
)

// Config controls how a Builder splits a document into parent and child
// chunks.
type Config struct {
	// ChildChunkSize is the maximum size of a text child in bytes.
	ChildChunkSize int
	// ChildChunkOverlap is the overlap carried between adjacent text
	// children.
	ChildChunkOverlap int
	// ParentStrategy selects how parents partition the document.
	ParentStrategy finrag.ParentType
	// PagesPerParent is the group width for the page-group strategy. The
	// section strategy falls back to this width when the document has no
	// headings.
	PagesPerParent int
}

// DefaultConfig returns the configuration tuned for financial filings:
// 800-byte children with 100 bytes of overlap, grouped three pages per
// parent.
func DefaultConfig() Config {
	return Config{
		ChildChunkSize:    800,
		ChildChunkOverlap: 100,
		ParentStrategy:    finrag.ParentPageGroup,
		PagesPerParent:    3,
	}
}

// Stats summarizes one build.
type Stats struct {
	Pages          int
	Parents        int
	TableChildren  int
	TextChildren   int
	ResidueDropped int
}

// BuildResult is the complete chunk set for one document, ready to embed
// and store.
type BuildResult struct {
	Document finrag.Document
	Parents  []finrag.ParentChunk
	Children []finrag.ChildChunk
	Stats    Stats
}

// Builder turns page sources into parent-child chunk sets.
type Builder struct {
	cfg      Config
	splitter *Splitter
	logger   *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuilderLogger sets the logger used during builds.
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder creates a Builder. Zero config fields take their defaults.
func NewBuilder(cfg Config, opts ...BuilderOption) *Builder {
	def := DefaultConfig()
	if cfg.ChildChunkSize <= 0 {
		cfg.ChildChunkSize = def.ChildChunkSize
	}
	if cfg.ChildChunkOverlap < 0 || cfg.ChildChunkOverlap >= cfg.ChildChunkSize {
		cfg.ChildChunkOverlap = def.ChildChunkOverlap
	}
	if cfg.ParentStrategy == "" {
		cfg.ParentStrategy = def.ParentStrategy
	}
	if cfg.PagesPerParent <= 0 {
		cfg.PagesPerParent = def.PagesPerParent
	}
	b := &Builder{
		cfg:      cfg,
		splitter: NewSplitter(cfg.ChildChunkSize, cfg.ChildChunkOverlap),
		logger:   finrag.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build extracts pages from source, carves out the regions claimed by
// spans as table children, splits the remaining free text into text
// children, and groups everything under parents that cover the page range
// exactly once. spans may be nil when the source has no table extraction.
//
// Every child belongs to exactly one parent, and the parents' page ranges
// partition [1, PageCount] with no gaps or overlaps. Build validates both
// properties before returning.
func (b *Builder) Build(ctx context.Context, source PageSource, spans SpanExtractor) (*BuildResult, error) {
	start := time.Now()
	src := source.Source()

	fail := func(page int, err error) (*BuildResult, error) {
		return nil, &finrag.DocumentProcessingError{Source: src, Page: page, Err: err}
	}

	pages, err := source.Pages(ctx)
	if err != nil {
		return fail(0, err)
	}
	if len(pages) == 0 {
		return fail(0, errors.New("document has no pages"))
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })

	var claimed []ClaimedSpan
	if spans != nil {
		claimed, err = spans.Spans(ctx)
		if err != nil {
			return fail(0, fmt.Errorf("extract table spans: %w", err))
		}
	}
	spansByPage := make(map[int][]ClaimedSpan)
	for _, sp := range claimed {
		spansByPage[sp.Page] = append(spansByPage[sp.Page], sp)
	}

	doc := finrag.Document{
		ID:        finrag.NewID(),
		Title:     documentTitle(src),
		Source:    src,
		PageCount: pages[len(pages)-1].Number,
		CreatedAt: time.Now().UTC(),
	}

	parents, err := b.makeParents(doc, pages)
	if err != nil {
		return fail(0, err)
	}

	res := &BuildResult{Document: doc, Parents: parents}
	res.Stats.Pages = len(pages)

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return fail(page.Number, err)
		}
		parent := parentForPage(res.Parents, page.Number)
		if parent == nil {
			return fail(page.Number, errors.New("page not covered by any parent"))
		}
		b.buildPage(res, parent, page, spansByPage[page.Number])
	}

	for i := range res.Parents {
		res.Parents[i].Content = strings.TrimSpace(res.Parents[i].Content)
	}
	res.Stats.Parents = len(res.Parents)

	if err := Validate(res.Document, res.Parents, res.Children); err != nil {
		return fail(0, err)
	}

	b.logger.Info("document built",
		"source", src,
		"pages", res.Stats.Pages,
		"parents", res.Stats.Parents,
		"table_children", res.Stats.TableChildren,
		"text_children", res.Stats.TextChildren,
		"duration", time.Since(start))
	return res, nil
}

// buildPage emits the table and text children of one page and appends the
// page's assembled content to its parent.
func (b *Builder) buildPage(res *BuildResult, parent *finrag.ParentChunk, page Page, spans []ClaimedSpan) {
	var pageContent strings.Builder

	// Tables first within a page.
	for _, sp := range spans {
		table := renderTable(sp.Rows)
		if table == "" {
			continue
		}
		content := fmt.Sprintf("[Table (page %d)]\n%s", page.Number, table)
		bounding := sp.Bounding
		child := finrag.ChildChunk{
			ID:         finrag.NewID(),
			ParentID:   parent.ID,
			DocumentID: res.Document.ID,
			Content:    content,
			Type:       finrag.ChildTable,
			PageNumber: page.Number,
			Bounding:   &bounding,
			Metadata:   map[string]string{"table_type": classifyTable(sp.Rows)},
		}
		res.Children = append(res.Children, child)
		parent.ChildIDs = append(parent.ChildIDs, child.ID)
		res.Stats.TableChildren++
		pageContent.WriteString(content)
		pageContent.WriteString("\n\n")
	}

	free := freeText(page.Text, spans)
	for _, fragment := range free {
		if isTableResidue(fragment) {
			res.Stats.ResidueDropped++
			continue
		}
		for _, piece := range b.splitter.Split(fragment) {
			child := finrag.ChildChunk{
				ID:         finrag.NewID(),
				ParentID:   parent.ID,
				DocumentID: res.Document.ID,
				Content:    piece,
				Type:       finrag.ChildText,
				PageNumber: page.Number,
			}
			res.Children = append(res.Children, child)
			parent.ChildIDs = append(parent.ChildIDs, child.ID)
			res.Stats.TextChildren++
		}
		pageContent.WriteString(fragment)
		pageContent.WriteString("\n\n")
	}

	if pc := pageContent.String(); pc != "" {
		if parent.Content != "" {
			parent.Content += "\n\n"
		}
		parent.Content += strings.TrimSpace(pc)
	}
}

// makeParents partitions [1, PageCount] into parent chunks per the
// configured strategy. Every page belongs to exactly one parent even when
// its text is empty.
func (b *Builder) makeParents(doc finrag.Document, pages []Page) ([]finrag.ParentChunk, error) {
	if b.cfg.ParentStrategy == finrag.ParentSection {
		if bounds := sectionBoundaries(pages); len(bounds) > 0 {
			return sectionParents(doc, bounds), nil
		}
		b.logger.Info("no headings found, falling back to page groups", "source", doc.Source)
	}
	return pageGroupParents(doc, b.cfg.PagesPerParent), nil
}

// pageGroupParents covers [1, PageCount] with fixed-width groups. The last
// group absorbs the remainder pages.
func pageGroupParents(doc finrag.Document, width int) []finrag.ParentChunk {
	var parents []finrag.ParentChunk
	for start := 1; start <= doc.PageCount; start += width {
		end := min(start+width-1, doc.PageCount)
		parents = append(parents, finrag.ParentChunk{
			ID:         finrag.NewID(),
			DocumentID: doc.ID,
			Title:      pageRangeTitle(start, end),
			Pages:      finrag.PageRange{Start: start, End: end},
			Type:       finrag.ParentPageGroup,
		})
	}
	return parents
}

// sectionParents covers [1, PageCount] with one parent per section. Pages
// before the first heading fold into the first section so coverage starts
// at page 1.
func sectionParents(doc finrag.Document, bounds []sectionBoundary) []finrag.ParentChunk {
	bounds[0].page = 1
	var parents []finrag.ParentChunk
	for i, bd := range bounds {
		end := doc.PageCount
		if i+1 < len(bounds) {
			end = bounds[i+1].page - 1
		}
		parents = append(parents, finrag.ParentChunk{
			ID:         finrag.NewID(),
			DocumentID: doc.ID,
			Title:      bd.title,
			Pages:      finrag.PageRange{Start: bd.page, End: end},
			Type:       finrag.ParentSection,
		})
	}
	return parents
}

// parentForPage returns the parent whose page range contains page.
func parentForPage(parents []finrag.ParentChunk, page int) *finrag.ParentChunk {
	for i := range parents {
		if parents[i].Pages.Contains(page) {
			return &parents[i]
		}
	}
	return nil
}

// freeText returns the fragments of page text not claimed by any table
// span, in document order. Spans with no text range claim nothing.
func freeText(text string, spans []ClaimedSpan) []string {
	type interval struct{ start, end int }
	var claimed []interval
	for _, sp := range spans {
		s, e := sp.TextStart, sp.TextEnd
		if s < 0 {
			s = 0
		}
		if e > len(text) {
			e = len(text)
		}
		if e > s {
			claimed = append(claimed, interval{s, e})
		}
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].start < claimed[j].start })

	var frags []string
	pos := 0
	for _, iv := range claimed {
		if iv.start > pos {
			if f := strings.TrimSpace(text[pos:iv.start]); f != "" {
				frags = append(frags, f)
			}
		}
		if iv.end > pos {
			pos = iv.end
		}
	}
	if pos < len(text) {
		if f := strings.TrimSpace(text[pos:]); f != "" {
			frags = append(frags, f)
		}
	}
	return frags
}

// Validate checks the structural invariants of a built chunk set: parents
// partition [1, PageCount] exactly, every child's parent exists and lists
// the child back, and each child's page falls inside its parent's range.
func Validate(doc finrag.Document, parents []finrag.ParentChunk, children []finrag.ChildChunk) error {
	ordered := make([]finrag.ParentChunk, len(parents))
	copy(ordered, parents)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Pages.Start < ordered[j].Pages.Start })

	next := 1
	for _, p := range ordered {
		if p.Pages.Start != next {
			return fmt.Errorf("page coverage broken at page %d: parent %s starts at %d", next, p.ID, p.Pages.Start)
		}
		if p.Pages.End < p.Pages.Start {
			return fmt.Errorf("parent %s has inverted page range %d-%d", p.ID, p.Pages.Start, p.Pages.End)
		}
		next = p.Pages.End + 1
	}
	if next != doc.PageCount+1 {
		return fmt.Errorf("page coverage ends at %d, document has %d pages", next-1, doc.PageCount)
	}

	byID := make(map[string]*finrag.ParentChunk, len(parents))
	listed := make(map[string]map[string]bool, len(parents))
	for i := range parents {
		byID[parents[i].ID] = &parents[i]
		set := make(map[string]bool, len(parents[i].ChildIDs))
		for _, cid := range parents[i].ChildIDs {
			set[cid] = true
		}
		listed[parents[i].ID] = set
	}
	for _, c := range children {
		p, ok := byID[c.ParentID]
		if !ok {
			return fmt.Errorf("child %s references unknown parent %s", c.ID, c.ParentID)
		}
		if !listed[c.ParentID][c.ID] {
			return fmt.Errorf("parent %s does not list child %s", c.ParentID, c.ID)
		}
		if !p.Pages.Contains(c.PageNumber) {
			return fmt.Errorf("child %s on page %d outside parent range %d-%d", c.ID, c.PageNumber, p.Pages.Start, p.Pages.End)
		}
	}
	return nil
}

func pageRangeTitle(start, end int) string {
	if start == end {
		return "Page " + strconv.Itoa(start)
	}
	return fmt.Sprintf("Pages %d-%d", start, end)
}

func documentTitle(source string) string {
	base := filepath.Base(source)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." {
		return source
	}
	return base
}
