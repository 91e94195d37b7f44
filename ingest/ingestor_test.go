package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/valueseeker/finrag"
)

type memStore struct {
	docs     map[string]finrag.Document
	parents  map[string]finrag.ParentChunk
	children map[string]finrag.ChildChunk
	storeErr error
}

func newMemStore() *memStore {
	return &memStore{
		docs:     make(map[string]finrag.Document),
		parents:  make(map[string]finrag.ParentChunk),
		children: make(map[string]finrag.ChildChunk),
	}
}

func (m *memStore) Index(ctx context.Context, children []finrag.ChildChunk) error {
	for _, c := range children {
		m.children[c.ID] = c
	}
	return nil
}

func (m *memStore) Search(ctx context.Context, emb []float32, k int) ([]finrag.ChildMatch, error) {
	return nil, nil
}

func (m *memStore) Remove(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(m.children, id)
	}
	return nil
}

func (m *memStore) Put(ctx context.Context, p finrag.ParentChunk) error {
	m.parents[p.ID] = p
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (finrag.ParentChunk, error) {
	p, ok := m.parents[id]
	if !ok {
		return finrag.ParentChunk{}, finrag.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetMany(ctx context.Context, ids []string) ([]finrag.ParentChunk, error) {
	var out []finrag.ParentChunk
	for _, id := range ids {
		if p, ok := m.parents[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) DeleteMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(m.parents, id)
	}
	return nil
}

func (m *memStore) StoreDocument(ctx context.Context, doc finrag.Document, parents []finrag.ParentChunk, children []finrag.ChildChunk) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.docs[doc.ID] = doc
	for _, p := range parents {
		m.parents[p.ID] = p
	}
	for _, c := range children {
		m.children[c.ID] = c
	}
	return nil
}

func (m *memStore) DeleteDocument(ctx context.Context, docID string) error {
	delete(m.docs, docID)
	for id, p := range m.parents {
		if p.DocumentID == docID {
			delete(m.parents, id)
		}
	}
	for id, c := range m.children {
		if c.DocumentID == docID {
			delete(m.children, id)
		}
	}
	return nil
}

func (m *memStore) GetDocument(ctx context.Context, docID string) (finrag.Document, error) {
	d, ok := m.docs[docID]
	if !ok {
		return finrag.Document{}, finrag.ErrNotFound
	}
	return d, nil
}

func (m *memStore) Init(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

type countingEmbedder struct {
	calls int
	fail  bool
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func TestIngestDocumentStoresEverything(t *testing.T) {
	store := newMemStore()
	emb := &countingEmbedder{}
	in := NewIngestor(store, emb)

	res, err := in.IngestDocument(context.Background(), ninePageSource(), nil)
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if _, ok := store.docs[res.Document.ID]; !ok {
		t.Error("document not stored")
	}
	if len(store.parents) != len(res.Parents) {
		t.Errorf("stored %d parents, want %d", len(store.parents), len(res.Parents))
	}
	if len(store.children) != len(res.Children) {
		t.Errorf("stored %d children, want %d", len(store.children), len(res.Children))
	}
	for _, c := range res.Children {
		if len(c.Embedding) == 0 {
			t.Fatalf("child %s has no embedding", c.ID)
		}
	}
}

func TestIngestDocumentEmbedBatching(t *testing.T) {
	store := newMemStore()
	emb := &countingEmbedder{}
	in := NewIngestor(store, emb, WithEmbedBatchSize(2))

	res, err := in.IngestDocument(context.Background(), ninePageSource(), nil)
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	want := (len(res.Children) + 1) / 2
	if emb.calls != want {
		t.Errorf("embedder called %d times, want %d", emb.calls, want)
	}
}

func TestIngestDocumentEmbedFailureLeavesStoreEmpty(t *testing.T) {
	store := newMemStore()
	in := NewIngestor(store, &countingEmbedder{fail: true})

	_, err := in.IngestDocument(context.Background(), ninePageSource(), nil)
	var perr *finrag.DocumentProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected DocumentProcessingError, got %v", err)
	}
	if len(store.docs) != 0 || len(store.parents) != 0 || len(store.children) != 0 {
		t.Error("store must remain empty after a failed ingest")
	}
}

func TestIngestDocumentStoreFailure(t *testing.T) {
	store := newMemStore()
	store.storeErr = errors.New("disk full")
	in := NewIngestor(store, &countingEmbedder{})

	_, err := in.IngestDocument(context.Background(), ninePageSource(), nil)
	var perr *finrag.DocumentProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected DocumentProcessingError, got %v", err)
	}
	if perr.DocumentID == "" {
		t.Error("error should carry the document id")
	}
}

func TestDeleteDocument(t *testing.T) {
	store := newMemStore()
	in := NewIngestor(store, &countingEmbedder{})

	res, err := in.IngestDocument(context.Background(), ninePageSource(), nil)
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if err := in.DeleteDocument(context.Background(), res.Document.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if len(store.docs) != 0 || len(store.parents) != 0 || len(store.children) != 0 {
		t.Error("deletion must remove the document and all chunks")
	}
}
