package finrag

import "context"

// ChildIndex is similarity search over child chunks across all documents.
// Implementations must guarantee that Search never returns a chunk id that
// a completed Remove has deleted.
type ChildIndex interface {
	// Index upserts child chunks with their embeddings and search metadata.
	// Indexing the same chunk id twice is a no-op overwrite.
	Index(ctx context.Context, children []ChildChunk) error

	// Search returns up to k matches ordered by descending similarity.
	// k larger than the index is truncated, not an error.
	Search(ctx context.Context, embedding []float32, k int) ([]ChildMatch, error)

	// Remove deletes the given chunk ids. Missing ids are ignored.
	Remove(ctx context.Context, chunkIDs []string) error
}

// ParentStore is durable key-value retrieval of full parent chunks.
// Get after a successful Put for the same key returns the latest value
// within a single process (read-your-writes).
type ParentStore interface {
	// Put stores a parent chunk under its id.
	Put(ctx context.Context, parent ParentChunk) error

	// Get returns the parent for id, or ErrNotFound.
	Get(ctx context.Context, parentID string) (ParentChunk, error)

	// GetMany returns the parents that exist among ids, in no particular
	// order. Missing ids are simply absent from the result.
	GetMany(ctx context.Context, parentIDs []string) ([]ParentChunk, error)

	// DeleteMany removes the given parent ids. Missing ids are ignored.
	DeleteMany(ctx context.Context, parentIDs []string) error
}

// Store combines the child index and parent store behind one backend with
// atomic document commits: a document's chunks become visible to readers
// only after StoreDocument returns, and never partially.
type Store interface {
	ChildIndex
	ParentStore

	// StoreDocument persists a document with its full parent/child set in
	// a single transaction.
	StoreDocument(ctx context.Context, doc Document, parents []ParentChunk, children []ChildChunk) error

	// DeleteDocument removes the document and every parent and child chunk
	// belonging to it. Deletion is whole-document to preserve referential
	// integrity.
	DeleteDocument(ctx context.Context, docID string) error

	// GetDocument returns the document record, or ErrNotFound.
	GetDocument(ctx context.Context, docID string) (Document, error)

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
}

// KeywordSearcher is an optional Store capability for full-text keyword
// search over child chunks. Callers discover it via type assertion.
type KeywordSearcher interface {
	SearchKeyword(ctx context.Context, query string, k int) ([]ChildMatch, error)
}
