package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/valueseeker/finrag"
	"github.com/valueseeker/finrag/ingest"
	"github.com/valueseeker/finrag/internal/config"
	"github.com/valueseeker/finrag/observer"
	"github.com/valueseeker/finrag/provider/openaicompat"
	"github.com/valueseeker/finrag/store/postgres"
	"github.com/valueseeker/finrag/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	ctx := context.Background()

	// 1. Load config
	cfg := config.Load(os.Getenv("FINRAG_CONFIG"))

	// 2. Create store
	var store finrag.Store
	switch cfg.Database.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			log.Fatal(err)
		}
		store = postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions))
	default:
		store = sqlite.New(cfg.Database.Path)
	}
	defer store.Close() //nolint:errcheck
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// 3. Create embedding provider
	var embedding finrag.EmbeddingProvider = openaicompat.New(
		cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Dimensions)
	embedding = finrag.WithRetry(embedding)

	// 4. Optional telemetry
	var (
		tracer finrag.Tracer
		inst   *observer.Instruments
	)
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			log.Fatal(err)
		}
		defer shutdown(ctx) //nolint:errcheck
		tracer = observer.NewTracer()
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
	}

	// 5. Dispatch
	switch os.Args[1] {
	case "ingest":
		runIngest(ctx, cfg, store, embedding, tracer, inst, os.Args[2:])
	case "query":
		runQuery(ctx, cfg, store, embedding, tracer, inst, os.Args[2:])
	case "delete":
		runDelete(ctx, store, os.Args[2:])
	case "list":
		runList(ctx, store)
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: finrag <command> [args]

commands:
  ingest <file>       chunk, embed and store a document (pdf, html or text)
  query <text> ...    retrieve parent chunks for one or more query variants
  delete <doc-id>     remove a document and all of its chunks
  list                show stored documents`)
	os.Exit(2)
}

func runIngest(ctx context.Context, cfg config.Config, store finrag.Store, embedding finrag.EmbeddingProvider, tracer finrag.Tracer, inst *observer.Instruments, args []string) {
	if len(args) != 1 {
		usage()
	}
	path := args[0]
	start := time.Now()

	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}

	var source ingest.PageSource
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		source = ingest.NewPDFSource(content, filepath.Base(path))
	case ".html", ".htm":
		source = ingest.NewHTMLSource(string(content), filepath.Base(path))
	default:
		source = ingest.NewSinglePageSource(filepath.Base(path), string(content))
	}

	opts := []ingest.IngestorOption{
		ingest.WithIngestConfig(ingest.Config{
			ChildChunkSize:    cfg.Chunking.ChildChunkSize,
			ChildChunkOverlap: cfg.Chunking.ChildChunkOverlap,
			ParentStrategy:    parentStrategy(cfg.Chunking.ParentStrategy),
			PagesPerParent:    cfg.Chunking.PagesPerParent,
		}),
	}
	if tracer != nil {
		opts = append(opts, ingest.WithIngestTracer(tracer))
	}

	ing := ingest.NewIngestor(store, embedding, opts...)
	res, err := ing.IngestDocument(ctx, source, nil)
	if err != nil {
		log.Fatal(err)
	}

	if inst != nil {
		attrs := metric.WithAttributes(
			observer.AttrDocumentID.String(res.Document.ID),
			observer.AttrDocumentSource.String(res.Document.Source),
			observer.AttrDocumentPages.Int(res.Stats.Pages),
			observer.AttrParentCount.Int(res.Stats.Parents),
			observer.AttrChildCount.Int(len(res.Children)),
		)
		inst.DocumentsIngested.Add(ctx, 1, attrs)
		inst.ChunksIndexed.Add(ctx, int64(len(res.Children)), attrs)
		inst.IngestDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	fmt.Printf("ingested %s (%s)\n", res.Document.Title, res.Document.ID)
	fmt.Printf("  pages: %d, parents: %d, table children: %d, text children: %d\n",
		res.Stats.Pages, res.Stats.Parents, res.Stats.TableChildren, res.Stats.TextChildren)
}

func runQuery(ctx context.Context, cfg config.Config, store finrag.Store, embedding finrag.EmbeddingProvider, tracer finrag.Tracer, inst *observer.Instruments, args []string) {
	if len(args) == 0 {
		usage()
	}
	start := time.Now()

	opts := []finrag.CoordinatorOption{}
	if cfg.Retrieval.MaxParallel > 0 {
		opts = append(opts, finrag.WithMaxParallel(cfg.Retrieval.MaxParallel))
	}
	if ks, ok := store.(finrag.KeywordSearcher); ok && cfg.Retrieval.KeywordWeight > 0 {
		opts = append(opts, finrag.WithKeywordSearch(ks, float32(cfg.Retrieval.KeywordWeight)))
	}
	if tracer != nil {
		opts = append(opts, finrag.WithCoordinatorTracer(tracer))
	}

	coord := finrag.NewCoordinator(store, store, embedding, opts...)
	res, err := coord.Retrieve(ctx, args, cfg.Retrieval.TopKChildren, cfg.Retrieval.TopKParents)
	if err != nil {
		log.Fatal(err)
	}
	if inst != nil {
		inst.RetrievalDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(
				observer.AttrQueryVariants.Int(len(args)),
				observer.AttrTopKChildren.Int(cfg.Retrieval.TopKChildren),
				observer.AttrTopKParents.Int(cfg.Retrieval.TopKParents),
				observer.AttrParentsReturned.Int(len(res.Parents)),
			))
	}
	if len(res.Parents) == 0 {
		fmt.Println("no results")
		return
	}

	for i, p := range res.Parents {
		fmt.Printf("%d. [%.4f] %s (pages %d-%d)\n", i+1, p.Score, p.Parent.Title, p.Parent.Pages.Start, p.Parent.Pages.End)
		fmt.Println(indent(snippet(p.Parent.Content, 400), "   "))
	}
}

func runDelete(ctx context.Context, store finrag.Store, args []string) {
	if len(args) != 1 {
		usage()
	}
	if err := store.DeleteDocument(ctx, args[0]); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("deleted %s\n", args[0])
}

func runList(ctx context.Context, store finrag.Store) {
	lister, ok := store.(interface {
		ListDocuments(ctx context.Context, limit int) ([]finrag.Document, error)
	})
	if !ok {
		log.Fatal("store does not support listing documents")
	}
	docs, err := lister.ListDocuments(ctx, 100)
	if err != nil {
		log.Fatal(err)
	}
	for _, d := range docs {
		fmt.Printf("%s  %-40s  %3d pages  %s\n", d.ID, d.Title, d.PageCount, d.CreatedAt.Format("2006-01-02"))
	}
}

func parentStrategy(name string) finrag.ParentType {
	if name == "section" {
		return finrag.ParentSection
	}
	return finrag.ParentPageGroup
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}
