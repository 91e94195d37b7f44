package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/valueseeker/finrag"
)

func TestEmbedSendsRequestAndOrdersByIndex(t *testing.T) {
	var gotAuth string
	var gotReq embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q, want /embeddings", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// Return data out of order to check re-sorting.
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := New("test-key", "text-embedding-3-small", srv.URL, 2)
	vecs, err := p.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "text-embedding-3-small" || gotReq.Dimensions != 2 {
		t.Errorf("request body: %+v", gotReq)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not ordered by index: %v", vecs)
	}
}

func TestEmbedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := New("k", "m", srv.URL, 0)
	_, err := p.Embed(context.Background(), []string{"x"})
	var herr *finrag.ErrHTTP
	if !errors.As(err, &herr) {
		t.Fatalf("expected ErrHTTP, got %v", err)
	}
	if herr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", herr.Status)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1}}},
		})
	}))
	defer srv.Close()

	p := New("k", "m", srv.URL, 0)
	if _, err := p.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	p := New("k", "m", "http://unused", 0)
	vecs, err := p.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("empty input: vecs=%v err=%v", vecs, err)
	}
}

func TestEmbedContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New("k", "m", srv.URL, 0)
	if _, err := p.Embed(ctx, []string{"x"}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
