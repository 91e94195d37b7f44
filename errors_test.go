package finrag

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDocumentProcessingErrorUnwrap(t *testing.T) {
	cause := errors.New("corrupt page stream")
	err := &DocumentProcessingError{DocumentID: "doc-1", Source: "report.pdf", Page: 12, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("cause must be reachable through Unwrap")
	}
	msg := err.Error()
	if !strings.Contains(msg, "page 12") || !strings.Contains(msg, "report.pdf") {
		t.Errorf("message missing page/source context: %q", msg)
	}
}

func TestDocumentProcessingErrorNoPage(t *testing.T) {
	err := &DocumentProcessingError{DocumentID: "doc-1", Source: "report.pdf", Err: errors.New("no pages")}
	if strings.Contains(err.Error(), "page") {
		t.Errorf("page-less failure must not mention a page: %q", err.Error())
	}
}

func TestRetrievalErrorUnwrap(t *testing.T) {
	cause := errors.New("index offline")
	err := &RetrievalError{Variants: 3, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("cause must be reachable through Unwrap")
	}
	if !strings.Contains(err.Error(), "3 query variant") {
		t.Errorf("message missing variant count: %q", err.Error())
	}
}

func TestErrHTTPRetryable(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{429, true},
		{503, true},
		{400, false},
		{401, false},
		{500, false},
	}
	for _, tc := range cases {
		e := &ErrHTTP{Status: tc.status, Body: "x"}
		if got := e.retryable(); got != tc.want {
			t.Errorf("retryable(%d) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestErrHTTPThroughWrapping(t *testing.T) {
	inner := &ErrHTTP{Status: 429, Body: "rate limited"}
	wrapped := fmt.Errorf("embed batch: %w", inner)

	var e *ErrHTTP
	if !errors.As(wrapped, &e) {
		t.Fatal("ErrHTTP must survive fmt.Errorf wrapping")
	}
	if e.Status != 429 {
		t.Errorf("Status = %d, want 429", e.Status)
	}
}
