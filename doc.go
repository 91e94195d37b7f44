// Package finrag is the parent-child retrieval core of a
// retrieval-augmented investment-analysis assistant.
//
// Source documents (annual reports, filings) are split into two tiers:
// small child chunks (tables and text fragments) that are embedded and
// similarity-searched, and large parent chunks (page groups or sections)
// that carry the full surrounding context handed to the generation stage.
// Every child back-references exactly one parent; parents own their
// children's ids. Both tiers are created in one builder pass, persisted
// atomically, and immutable afterward: re-processing a document creates a
// new generation, and deletion is whole-document.
//
// # Components
//
//   - [ChildIndex]: similarity search over child chunks
//   - [ParentStore]: key-value retrieval of full parent content
//   - [Store]: one backend implementing both with atomic document commits
//     (store/sqlite, store/postgres)
//   - [Coordinator]: query variants to child search to ranked,
//     deduplicated parent context ([RetrievalResult])
//   - [EmbeddingProvider]: external text-to-vector embedding
//     (provider/openaicompat)
//   - ingest.Builder / ingest.Ingestor: one document in, parent and child
//     chunk sets out
//
// # Quick start
//
//	store := sqlite.New("finrag.db")
//	_ = store.Init(ctx)
//	embedder := finrag.WithRetry(openaicompat.New(apiKey, model, baseURL, dims))
//
//	ing := ingest.NewIngestor(store, embedder)
//	res, err := ing.IngestDocument(ctx, ingest.NewPDFSource(pdfBytes, "report.pdf"), nil)
//
//	coord := finrag.NewCoordinator(store, store, embedder)
//	out, err := coord.Retrieve(ctx, []string{"2024 operating margin"}, 5, 3)
package finrag
