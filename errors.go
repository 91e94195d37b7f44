package finrag

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by ParentStore.Get when the key has no entry.
var ErrNotFound = errors.New("not found")

// DocumentProcessingError reports a failed builder pass. It is scoped to one
// document: other in-flight documents are unaffected, and nothing from the
// failed document is persisted.
type DocumentProcessingError struct {
	DocumentID string
	Source     string
	Page       int // 0 when the failure is not page-specific
	Err        error
}

func (e *DocumentProcessingError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("process document %s (%s) page %d: %v", e.DocumentID, e.Source, e.Page, e.Err)
	}
	return fmt.Sprintf("process document %s (%s): %v", e.DocumentID, e.Source, e.Err)
}

func (e *DocumentProcessingError) Unwrap() error { return e.Err }

// RetrievalError reports a failed retrieval: every query variant failed, or
// the index was unreachable. A retrieval that merely matches nothing returns
// an empty RetrievalResult, never a RetrievalError.
type RetrievalError struct {
	Variants int // number of query variants attempted
	Err      error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed across %d query variant(s): %v", e.Variants, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// ErrHTTP is a non-2xx response from an HTTP provider.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// retryable reports whether an HTTP error is worth retrying.
func (e *ErrHTTP) retryable() bool {
	return e.Status == 429 || e.Status == 503
}
