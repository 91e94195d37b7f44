package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/valueseeker/finrag"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "finrag_test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDocument() (finrag.Document, []finrag.ParentChunk, []finrag.ChildChunk) {
	doc := finrag.Document{
		ID:        finrag.NewID(),
		Title:     "annual-report",
		Source:    "annual-report.pdf",
		PageCount: 6,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	parents := []finrag.ParentChunk{
		{
			ID:         finrag.NewID(),
			DocumentID: doc.ID,
			Title:      "Pages 1-3",
			Content:    "Revenue grew strongly across all segments.",
			Pages:      finrag.PageRange{Start: 1, End: 3},
			Type:       finrag.ParentPageGroup,
		},
		{
			ID:         finrag.NewID(),
			DocumentID: doc.ID,
			Title:      "Pages 4-6",
			Content:    "Operating expenses declined.",
			Pages:      finrag.PageRange{Start: 4, End: 6},
			Type:       finrag.ParentPageGroup,
		},
	}
	children := []finrag.ChildChunk{
		{
			ID:         finrag.NewID(),
			ParentID:   parents[0].ID,
			DocumentID: doc.ID,
			Content:    "Revenue grew strongly",
			Type:       finrag.ChildText,
			PageNumber: 1,
			Embedding:  []float32{1, 0, 0},
		},
		{
			ID:         finrag.NewID(),
			ParentID:   parents[1].ID,
			DocumentID: doc.ID,
			Content:    "Operating expenses declined",
			Type:       finrag.ChildText,
			PageNumber: 5,
			Embedding:  []float32{0, 1, 0},
		},
	}
	parents[0].ChildIDs = []string{children[0].ID}
	parents[1].ChildIDs = []string{children[1].ID}
	return doc, parents, children
}

func TestStoreDocumentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, parents, children := testDocument()

	if err := s.StoreDocument(ctx, doc, parents, children); err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}

	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != doc.Title || got.PageCount != doc.PageCount {
		t.Errorf("document round trip mismatch: %+v", got)
	}

	p, err := s.Get(ctx, parents[0].ID)
	if err != nil {
		t.Fatalf("Get parent: %v", err)
	}
	if p.Pages != parents[0].Pages || len(p.ChildIDs) != 1 {
		t.Errorf("parent round trip mismatch: %+v", p)
	}
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, parents, children := testDocument()
	if err := s.StoreDocument(ctx, doc, parents, children); err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}

	matches, err := s.Search(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ChunkID != children[0].ID {
		t.Errorf("best match = %s, want %s", matches[0].ChunkID, children[0].ID)
	}
	if matches[0].Score <= matches[1].Score {
		t.Errorf("scores not descending: %f %f", matches[0].Score, matches[1].Score)
	}
	if matches[0].ParentID != parents[0].ID {
		t.Errorf("match carries wrong parent id")
	}
}

func TestSearchKTruncates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, parents, children := testDocument()
	if err := s.StoreDocument(ctx, doc, parents, children); err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}

	matches, err := s.Search(ctx, []float32{1, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("expected 1 match, got %d", len(matches))
	}
	// k larger than the index is not an error.
	matches, err = s.Search(ctx, []float32{1, 1, 0}, 100)
	if err != nil || len(matches) != 2 {
		t.Errorf("oversized k: matches=%d err=%v", len(matches), err)
	}
}

func TestRemoveThenSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, parents, children := testDocument()
	if err := s.StoreDocument(ctx, doc, parents, children); err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}
	if err := s.Remove(ctx, []string{children[0].ID}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	matches, err := s.Search(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, m := range matches {
		if m.ChunkID == children[0].ID {
			t.Error("removed chunk still returned by Search")
		}
	}
	// Removing missing ids is a no-op.
	if err := s.Remove(ctx, []string{"missing"}); err != nil {
		t.Errorf("Remove missing: %v", err)
	}
}

func TestGetManyMissingAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, parents, children := testDocument()
	if err := s.StoreDocument(ctx, doc, parents, children); err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}
	got, err := s.GetMany(ctx, []string{parents[0].ID, "missing", parents[1].ID})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 parents, got %d", len(got))
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, finrag.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, finrag.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutReadYourWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := finrag.ParentChunk{
		ID:         finrag.NewID(),
		DocumentID: "d",
		Title:      "Pages 1-3",
		Content:    "original",
		Pages:      finrag.PageRange{Start: 1, End: 3},
		Type:       finrag.ParentPageGroup,
	}
	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p.Content = "updated"
	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	got, err := s.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "updated" {
		t.Errorf("Get returned stale content %q", got.Content)
	}
}

func TestDeleteDocumentRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, parents, children := testDocument()
	if err := s.StoreDocument(ctx, doc, parents, children); err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}
	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument(ctx, doc.ID); !errors.Is(err, finrag.ErrNotFound) {
		t.Error("document survived deletion")
	}
	if got, _ := s.GetMany(ctx, []string{parents[0].ID, parents[1].ID}); len(got) != 0 {
		t.Error("parents survived deletion")
	}
	matches, err := s.Search(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Error("children survived deletion")
	}
}

func TestSearchKeyword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, parents, children := testDocument()
	if err := s.StoreDocument(ctx, doc, parents, children); err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}
	matches, err := s.SearchKeyword(ctx, "expenses", 10)
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 keyword match, got %d", len(matches))
	}
	if matches[0].ChunkID != children[1].ID {
		t.Errorf("keyword match = %s, want %s", matches[0].ChunkID, children[1].ID)
	}
}

func TestListDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, parents, children := testDocument()
	if err := s.StoreDocument(ctx, doc, parents, children); err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}
	docs, err := s.ListDocuments(ctx, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != doc.ID {
		t.Errorf("unexpected document list: %+v", docs)
	}
}
