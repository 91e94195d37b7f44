package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valueseeker/finrag"
)

// defaultEmbedBatch is the number of child contents sent to the embedding
// provider per request.
const defaultEmbedBatch = 64

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithIngestConfig sets the chunking configuration.
func WithIngestConfig(cfg Config) IngestorOption {
	return func(in *Ingestor) { in.builder = NewBuilder(cfg, WithBuilderLogger(in.logger)) }
}

// WithEmbedBatchSize sets how many child contents are embedded per request.
func WithEmbedBatchSize(n int) IngestorOption {
	return func(in *Ingestor) {
		if n > 0 {
			in.embedBatch = n
		}
	}
}

// WithIngestLogger sets a structured logger. Default discards.
func WithIngestLogger(l *slog.Logger) IngestorOption {
	return func(in *Ingestor) {
		if l != nil {
			in.logger = l
			in.builder = NewBuilder(in.builder.cfg, WithBuilderLogger(l))
		}
	}
}

// WithIngestTracer sets a Tracer for ingest spans.
func WithIngestTracer(t finrag.Tracer) IngestorOption {
	return func(in *Ingestor) { in.tracer = t }
}

// Ingestor runs the full document pipeline: build the parent-child chunk
// set, embed the children, and commit everything to the store in one
// atomic operation. A failure at any step leaves the store untouched.
type Ingestor struct {
	store      finrag.Store
	embedder   finrag.EmbeddingProvider
	builder    *Builder
	embedBatch int
	logger     *slog.Logger
	tracer     finrag.Tracer
}

// NewIngestor creates an Ingestor over the given store and embedding
// provider, using DefaultConfig chunking unless overridden.
func NewIngestor(store finrag.Store, embedder finrag.EmbeddingProvider, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		store:      store,
		embedder:   embedder,
		embedBatch: defaultEmbedBatch,
		logger:     finrag.NopLogger(),
	}
	in.builder = NewBuilder(DefaultConfig())
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IngestDocument processes one document end to end and returns the stored
// chunk set. spans may be nil when the source has no table extraction.
func (in *Ingestor) IngestDocument(ctx context.Context, source PageSource, spans SpanExtractor) (*BuildResult, error) {
	start := time.Now()

	var span finrag.Span
	if in.tracer != nil {
		ctx, span = in.tracer.Start(ctx, "finrag.ingest",
			finrag.StringAttr("source", source.Source()))
		defer span.End()
	}

	res, err := in.builder.Build(ctx, source, spans)
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		return nil, err
	}

	if err := in.embedChildren(ctx, res); err != nil {
		perr := &finrag.DocumentProcessingError{
			DocumentID: res.Document.ID,
			Source:     res.Document.Source,
			Err:        fmt.Errorf("embed children: %w", err),
		}
		if span != nil {
			span.Error(perr)
		}
		return nil, perr
	}

	if err := in.store.StoreDocument(ctx, res.Document, res.Parents, res.Children); err != nil {
		perr := &finrag.DocumentProcessingError{
			DocumentID: res.Document.ID,
			Source:     res.Document.Source,
			Err:        fmt.Errorf("store document: %w", err),
		}
		if span != nil {
			span.Error(perr)
		}
		return nil, perr
	}

	in.logger.Info("document ingested",
		"document_id", res.Document.ID,
		"source", res.Document.Source,
		"parents", len(res.Parents),
		"children", len(res.Children),
		"duration", time.Since(start))
	if span != nil {
		span.SetAttr(
			finrag.StringAttr("document_id", res.Document.ID),
			finrag.IntAttr("children", len(res.Children)),
		)
	}
	return res, nil
}

// DeleteDocument removes a document and all of its chunks.
func (in *Ingestor) DeleteDocument(ctx context.Context, documentID string) error {
	if err := in.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	in.logger.Info("document deleted", "document_id", documentID)
	return nil
}

// embedChildren fills in Embedding for every child, batching requests to
// the provider.
func (in *Ingestor) embedChildren(ctx context.Context, res *BuildResult) error {
	children := res.Children
	for start := 0; start < len(children); start += in.embedBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+in.embedBatch, len(children))
		texts := make([]string, 0, end-start)
		for _, c := range children[start:end] {
			texts = append(texts, c.Content)
		}
		vecs, err := in.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("batch starting at child %d: %w", start, err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i := range vecs {
			children[start+i].Embedding = vecs[i]
		}
	}
	return nil
}
