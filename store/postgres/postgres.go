// Package postgres implements finrag.Store using PostgreSQL with pgvector
// for native vector similarity search and tsvector for full-text keyword
// search.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valueseeker/finrag"
)

// Store implements finrag.Store backed by PostgreSQL with pgvector.
// Vector search uses HNSW indexes with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Higher values improve recall at the cost of latency. Default:
// pgvector's 40. Applied during Init().
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

var _ finrag.Store = (*Store)(nil)
var _ finrag.KeywordSearcher = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			page_count INTEGER NOT NULL,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS parents (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			page_start INTEGER NOT NULL,
			page_end INTEGER NOT NULL,
			type TEXT NOT NULL,
			child_ids JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS parents_document_idx ON parents(document_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS children (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			bounding JSONB,
			metadata JSONB,
			embedding %s
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS children_document_idx ON children(document_id)`,
		`CREATE INDEX IF NOT EXISTS children_parent_idx ON children(parent_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS children_embedding_idx ON children USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
		`CREATE INDEX IF NOT EXISTS children_fts_idx ON children USING gin(to_tsvector('english', content))`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	return nil
}

// Index upserts child chunks with their embeddings.
func (s *Store) Index(ctx context.Context, children []finrag.ChildChunk) error {
	if len(children) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range children {
		if err := insertChild(ctx, tx, c); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertChild(ctx context.Context, tx pgx.Tx, c finrag.ChildChunk) error {
	var boundJSON *string
	if c.Bounding != nil {
		data, _ := json.Marshal(c.Bounding)
		v := string(data)
		boundJSON = &v
	}
	var metaJSON *string
	if len(c.Metadata) > 0 {
		data, _ := json.Marshal(c.Metadata)
		v := string(data)
		metaJSON = &v
	}

	var err error
	if len(c.Embedding) > 0 {
		embStr := serializeEmbedding(c.Embedding)
		_, err = tx.Exec(ctx,
			`INSERT INTO children (id, parent_id, document_id, content, type, page_number, bounding, metadata, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::vector)
			 ON CONFLICT (id) DO UPDATE SET
			   parent_id = EXCLUDED.parent_id,
			   document_id = EXCLUDED.document_id,
			   content = EXCLUDED.content,
			   type = EXCLUDED.type,
			   page_number = EXCLUDED.page_number,
			   bounding = EXCLUDED.bounding,
			   metadata = EXCLUDED.metadata,
			   embedding = EXCLUDED.embedding`,
			c.ID, c.ParentID, c.DocumentID, c.Content, string(c.Type), c.PageNumber, boundJSON, metaJSON, embStr)
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO children (id, parent_id, document_id, content, type, page_number, bounding, metadata, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, NULL)
			 ON CONFLICT (id) DO UPDATE SET
			   parent_id = EXCLUDED.parent_id,
			   document_id = EXCLUDED.document_id,
			   content = EXCLUDED.content,
			   type = EXCLUDED.type,
			   page_number = EXCLUDED.page_number,
			   bounding = EXCLUDED.bounding,
			   metadata = EXCLUDED.metadata,
			   embedding = NULL`,
			c.ID, c.ParentID, c.DocumentID, c.Content, string(c.Type), c.PageNumber, boundJSON, metaJSON)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert child: %w", err)
	}
	return nil
}

// Search performs vector similarity search over children using pgvector's
// cosine distance operator with HNSW index.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]finrag.ChildMatch, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT id, parent_id, page_number,
		        1 - (embedding <=> $1::vector) AS score
		 FROM children
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`,
		embStr, k)
	if err != nil {
		return nil, fmt.Errorf("postgres: search children: %w", err)
	}
	defer rows.Close()

	var results []finrag.ChildMatch
	for rows.Next() {
		var m finrag.ChildMatch
		if err := rows.Scan(&m.ChunkID, &m.ParentID, &m.PageNumber, &m.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan child: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// SearchKeyword performs full-text keyword search over children using
// PostgreSQL tsvector/tsquery with a GIN index.
func (s *Store) SearchKeyword(ctx context.Context, query string, k int) ([]finrag.ChildMatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, parent_id, page_number,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		 FROM children
		 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC
		 LIMIT $2`,
		query, k)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search: %w", err)
	}
	defer rows.Close()

	var results []finrag.ChildMatch
	for rows.Next() {
		var m finrag.ChildMatch
		if err := rows.Scan(&m.ChunkID, &m.ParentID, &m.PageNumber, &m.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan child: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// Remove deletes the given child ids. Missing ids are ignored.
func (s *Store) Remove(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM children WHERE id = ANY($1)`, chunkIDs); err != nil {
		return fmt.Errorf("postgres: remove children: %w", err)
	}
	return nil
}

// Put stores a parent chunk under its id.
func (s *Store) Put(ctx context.Context, p finrag.ParentChunk) error {
	var childJSON *string
	if len(p.ChildIDs) > 0 {
		data, _ := json.Marshal(p.ChildIDs)
		v := string(data)
		childJSON = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO parents (id, document_id, title, content, page_start, page_end, type, child_ids)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		 ON CONFLICT (id) DO UPDATE SET
		   document_id = EXCLUDED.document_id,
		   title = EXCLUDED.title,
		   content = EXCLUDED.content,
		   page_start = EXCLUDED.page_start,
		   page_end = EXCLUDED.page_end,
		   type = EXCLUDED.type,
		   child_ids = EXCLUDED.child_ids`,
		p.ID, p.DocumentID, p.Title, p.Content, p.Pages.Start, p.Pages.End, string(p.Type), childJSON)
	if err != nil {
		return fmt.Errorf("postgres: put parent: %w", err)
	}
	return nil
}

// Get returns the parent for id, or finrag.ErrNotFound.
func (s *Store) Get(ctx context.Context, parentID string) (finrag.ParentChunk, error) {
	var p finrag.ParentChunk
	var ptype string
	var childJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, document_id, title, content, page_start, page_end, type, child_ids
		 FROM parents WHERE id = $1`, parentID,
	).Scan(&p.ID, &p.DocumentID, &p.Title, &p.Content, &p.Pages.Start, &p.Pages.End, &ptype, &childJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return finrag.ParentChunk{}, finrag.ErrNotFound
	}
	if err != nil {
		return finrag.ParentChunk{}, fmt.Errorf("postgres: get parent: %w", err)
	}
	p.Type = finrag.ParentType(ptype)
	if childJSON != nil {
		_ = json.Unmarshal(childJSON, &p.ChildIDs)
	}
	return p, nil
}

// GetMany returns the parents that exist among ids. Missing ids are
// simply absent from the result.
func (s *Store) GetMany(ctx context.Context, parentIDs []string) ([]finrag.ParentChunk, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, title, content, page_start, page_end, type, child_ids
		 FROM parents WHERE id = ANY($1)`, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: get parents: %w", err)
	}
	defer rows.Close()

	var parents []finrag.ParentChunk
	for rows.Next() {
		var p finrag.ParentChunk
		var ptype string
		var childJSON []byte
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.Title, &p.Content, &p.Pages.Start, &p.Pages.End, &ptype, &childJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan parent: %w", err)
		}
		p.Type = finrag.ParentType(ptype)
		if childJSON != nil {
			_ = json.Unmarshal(childJSON, &p.ChildIDs)
		}
		parents = append(parents, p)
	}
	return parents, rows.Err()
}

// DeleteMany removes the given parent ids. Missing ids are ignored.
func (s *Store) DeleteMany(ctx context.Context, parentIDs []string) error {
	if len(parentIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM parents WHERE id = ANY($1)`, parentIDs); err != nil {
		return fmt.Errorf("postgres: delete parents: %w", err)
	}
	return nil
}

// StoreDocument inserts a document with all its parents and children in a
// single transaction. Readers never observe a partial document.
func (s *Store) StoreDocument(ctx context.Context, doc finrag.Document, parents []finrag.ParentChunk, children []finrag.ChildChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, title, source, page_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   source = EXCLUDED.source,
		   page_count = EXCLUDED.page_count,
		   created_at = EXCLUDED.created_at`,
		doc.ID, doc.Title, doc.Source, doc.PageCount, doc.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("postgres: insert document: %w", err)
	}

	for _, p := range parents {
		var childJSON *string
		if len(p.ChildIDs) > 0 {
			data, _ := json.Marshal(p.ChildIDs)
			v := string(data)
			childJSON = &v
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO parents (id, document_id, title, content, page_start, page_end, type, child_ids)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
			 ON CONFLICT (id) DO UPDATE SET
			   document_id = EXCLUDED.document_id,
			   title = EXCLUDED.title,
			   content = EXCLUDED.content,
			   page_start = EXCLUDED.page_start,
			   page_end = EXCLUDED.page_end,
			   type = EXCLUDED.type,
			   child_ids = EXCLUDED.child_ids`,
			p.ID, p.DocumentID, p.Title, p.Content, p.Pages.Start, p.Pages.End, string(p.Type), childJSON)
		if err != nil {
			return fmt.Errorf("postgres: insert parent: %w", err)
		}
	}

	for _, c := range children {
		if err := insertChild(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// DeleteDocument removes a document, its parents, and its children in a
// single transaction.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM children WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("postgres: delete document children: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM parents WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("postgres: delete document parents: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID); err != nil {
		return fmt.Errorf("postgres: delete document: %w", err)
	}
	return tx.Commit(ctx)
}

// GetDocument returns the document record, or finrag.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, docID string) (finrag.Document, error) {
	var d finrag.Document
	var createdAt int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, source, page_count, created_at FROM documents WHERE id = $1`, docID,
	).Scan(&d.ID, &d.Title, &d.Source, &d.PageCount, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return finrag.Document{}, finrag.ErrNotFound
	}
	if err != nil {
		return finrag.Document{}, fmt.Errorf("postgres: get document: %w", err)
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return d, nil
}

// ListDocuments returns all documents ordered by most recently created first.
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]finrag.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, source, page_count, created_at
		 FROM documents
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list documents: %w", err)
	}
	defer rows.Close()

	var docs []finrag.Document
	for rows.Next() {
		var d finrag.Document
		var createdAt int64
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.PageCount, &createdAt); err != nil {
			return nil, fmt.Errorf("postgres: scan document: %w", err)
		}
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
