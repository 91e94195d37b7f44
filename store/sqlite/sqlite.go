// Package sqlite implements finrag.Store using pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/valueseeker/finrag"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements finrag.Store backed by a local SQLite file.
// Embeddings are stored as JSON text and vector search is done
// in-process using brute-force cosine similarity.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ finrag.Store = (*Store)(nil)
var _ finrag.KeywordSearcher = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: finrag.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			page_count INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS parents (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			page_start INTEGER NOT NULL,
			page_end INTEGER NOT NULL,
			type TEXT NOT NULL,
			child_ids TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS children (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			bounding TEXT,
			metadata TEXT,
			embedding TEXT
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_parents_document ON parents(document_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_children_document ON children(document_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_children_parent ON children(parent_id)`)

	// FTS5 full-text index for keyword search over children.
	_, _ = s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS children_fts USING fts5(child_id UNINDEXED, content)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Index upserts child chunks with their embeddings.
func (s *Store) Index(ctx context.Context, children []finrag.ChildChunk) error {
	if len(children) == 0 {
		return nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: index children", "count", len(children))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range children {
		if err := insertChild(ctx, tx, c); err != nil {
			s.logger.Error("sqlite: index child failed", "child_id", c.ID, "error", err)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: index children ok", "count", len(children), "duration", time.Since(start))
	return nil
}

func insertChild(ctx context.Context, tx *sql.Tx, c finrag.ChildChunk) error {
	var embJSON *string
	if len(c.Embedding) > 0 {
		v := serializeEmbedding(c.Embedding)
		embJSON = &v
	}
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
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO children (id, parent_id, document_id, content, type, page_number, bounding, metadata, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ParentID, c.DocumentID, c.Content, string(c.Type), c.PageNumber, boundJSON, metaJSON, embJSON,
	)
	if err != nil {
		return fmt.Errorf("insert child: %w", err)
	}

	// Keep FTS index in sync.
	_, _ = tx.ExecContext(ctx, `DELETE FROM children_fts WHERE child_id = ?`, c.ID)
	if _, err := tx.ExecContext(ctx, `INSERT INTO children_fts(child_id, content) VALUES (?, ?)`, c.ID, c.Content); err != nil {
		return fmt.Errorf("insert child fts: %w", err)
	}
	return nil
}

// Search performs brute-force cosine similarity search over indexed children.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]finrag.ChildMatch, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search children", "k", k, "embedding_dim", len(embedding))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, page_number, embedding FROM children WHERE embedding IS NOT NULL`)
	if err != nil {
		s.logger.Error("sqlite: search children failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("search children: %w", err)
	}
	defer rows.Close()

	var results []finrag.ChildMatch
	scanned := 0

	for rows.Next() {
		var m finrag.ChildMatch
		var embJSON string
		if err := rows.Scan(&m.ChunkID, &m.ParentID, &m.PageNumber, &embJSON); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		scanned++
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		m.Score = cosineSimilarity(embedding, stored)
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	s.logger.Debug("sqlite: search children ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// SearchKeyword performs full-text keyword search over children using
// SQLite FTS5. Results are sorted by relevance (FTS5 rank).
func (s *Store) SearchKeyword(ctx context.Context, query string, k int) ([]finrag.ChildMatch, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search keyword", "query", query, "k", k)

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.parent_id, c.page_number, f.rank
		 FROM children_fts f
		 JOIN children c ON c.id = f.child_id
		 WHERE children_fts MATCH ?
		 ORDER BY f.rank LIMIT ?`,
		query, k,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var results []finrag.ChildMatch
	for rows.Next() {
		var m finrag.ChildMatch
		var rank float64
		if err := rows.Scan(&m.ChunkID, &m.ParentID, &m.PageNumber, &rank); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		// FTS5 rank is negative (closer to 0 = better). Use -rank as score.
		score := float32(-rank)
		if score < 0 {
			score = 0
		}
		m.Score = score
		results = append(results, m)
	}
	s.logger.Debug("sqlite: search keyword ok", "returned", len(results), "duration", time.Since(start))
	return results, rows.Err()
}

// Remove deletes the given child ids and their FTS entries.
func (s *Store) Remove(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: remove children", "count", len(chunkIDs))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx, `DELETE FROM children_fts WHERE child_id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("remove children fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM children WHERE id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("remove children: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: remove children ok", "count", len(chunkIDs), "duration", time.Since(start))
	return nil
}

// Put stores a parent chunk under its id.
func (s *Store) Put(ctx context.Context, p finrag.ParentChunk) error {
	start := time.Now()
	s.logger.Debug("sqlite: put parent", "id", p.ID, "pages", fmt.Sprintf("%d-%d", p.Pages.Start, p.Pages.End))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertParent(ctx, tx, p); err != nil {
		s.logger.Error("sqlite: put parent failed", "id", p.ID, "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: put parent ok", "id", p.ID, "duration", time.Since(start))
	return nil
}

func insertParent(ctx context.Context, tx *sql.Tx, p finrag.ParentChunk) error {
	var childJSON *string
	if len(p.ChildIDs) > 0 {
		data, _ := json.Marshal(p.ChildIDs)
		v := string(data)
		childJSON = &v
	}
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO parents (id, document_id, title, content, page_start, page_end, type, child_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DocumentID, p.Title, p.Content, p.Pages.Start, p.Pages.End, string(p.Type), childJSON,
	)
	if err != nil {
		return fmt.Errorf("insert parent: %w", err)
	}
	return nil
}

const parentColumns = `id, document_id, title, content, page_start, page_end, type, child_ids`

func scanParent(rows interface{ Scan(...any) error }) (finrag.ParentChunk, error) {
	var p finrag.ParentChunk
	var ptype string
	var childJSON sql.NullString
	if err := rows.Scan(&p.ID, &p.DocumentID, &p.Title, &p.Content, &p.Pages.Start, &p.Pages.End, &ptype, &childJSON); err != nil {
		return finrag.ParentChunk{}, err
	}
	p.Type = finrag.ParentType(ptype)
	if childJSON.Valid {
		_ = json.Unmarshal([]byte(childJSON.String), &p.ChildIDs)
	}
	return p, nil
}

// Get returns the parent for id, or finrag.ErrNotFound.
func (s *Store) Get(ctx context.Context, parentID string) (finrag.ParentChunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get parent", "id", parentID)

	row := s.db.QueryRowContext(ctx, `SELECT `+parentColumns+` FROM parents WHERE id = ?`, parentID)
	p, err := scanParent(row)
	if err == sql.ErrNoRows {
		return finrag.ParentChunk{}, finrag.ErrNotFound
	}
	if err != nil {
		s.logger.Error("sqlite: get parent failed", "id", parentID, "error", err, "duration", time.Since(start))
		return finrag.ParentChunk{}, fmt.Errorf("get parent: %w", err)
	}
	s.logger.Debug("sqlite: get parent ok", "id", parentID, "duration", time.Since(start))
	return p, nil
}

// GetMany returns the parents that exist among ids. Missing ids are
// simply absent from the result.
func (s *Store) GetMany(ctx context.Context, parentIDs []string) ([]finrag.ParentChunk, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: get parents", "count", len(parentIDs))

	placeholders := make([]string, len(parentIDs))
	args := make([]any, len(parentIDs))
	for i, id := range parentIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+parentColumns+` FROM parents WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get parents: %w", err)
	}
	defer rows.Close()

	var parents []finrag.ParentChunk
	for rows.Next() {
		p, err := scanParent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		parents = append(parents, p)
	}
	s.logger.Debug("sqlite: get parents ok", "requested", len(parentIDs), "returned", len(parents), "duration", time.Since(start))
	return parents, rows.Err()
}

// DeleteMany removes the given parent ids. Missing ids are ignored.
func (s *Store) DeleteMany(ctx context.Context, parentIDs []string) error {
	if len(parentIDs) == 0 {
		return nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: delete parents", "count", len(parentIDs))

	placeholders := make([]string, len(parentIDs))
	args := make([]any, len(parentIDs))
	for i, id := range parentIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM parents WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		s.logger.Error("sqlite: delete parents failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete parents: %w", err)
	}
	s.logger.Debug("sqlite: delete parents ok", "count", len(parentIDs), "duration", time.Since(start))
	return nil
}

// StoreDocument inserts a document with all its parents and children in a
// single transaction. Readers never observe a partial document.
func (s *Store) StoreDocument(ctx context.Context, doc finrag.Document, parents []finrag.ParentChunk, children []finrag.ChildChunk) error {
	start := time.Now()
	s.logger.Debug("sqlite: store document", "id", doc.ID, "title", doc.Title, "parents", len(parents), "children", len(children))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, title, source, page_count, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Source, doc.PageCount, doc.CreatedAt.Unix(),
	)
	if err != nil {
		s.logger.Error("sqlite: insert document failed", "id", doc.ID, "error", err)
		return fmt.Errorf("insert document: %w", err)
	}

	for _, p := range parents {
		if err := insertParent(ctx, tx, p); err != nil {
			s.logger.Error("sqlite: insert parent failed", "parent_id", p.ID, "doc_id", doc.ID, "error", err)
			return err
		}
	}
	for _, c := range children {
		if err := insertChild(ctx, tx, c); err != nil {
			s.logger.Error("sqlite: insert child failed", "child_id", c.ID, "doc_id", doc.ID, "error", err)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: store document commit failed", "id", doc.ID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: store document ok", "id", doc.ID, "duration", time.Since(start))
	return nil
}

// DeleteDocument removes a document, its parents, its children, and the
// associated FTS entries in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete document", "id", docID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`DELETE FROM children_fts WHERE child_id IN (SELECT id FROM children WHERE document_id = ?)`, docID)
	if err != nil {
		return fmt.Errorf("delete document fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM children WHERE document_id = ?`, docID); err != nil {
		return fmt.Errorf("delete document children: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM parents WHERE document_id = ?`, docID); err != nil {
		return fmt.Errorf("delete document parents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: delete document commit failed", "id", docID, "error", err)
		return err
	}
	s.logger.Debug("sqlite: delete document ok", "id", docID, "duration", time.Since(start))
	return nil
}

// GetDocument returns the document record, or finrag.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, docID string) (finrag.Document, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get document", "id", docID)

	var d finrag.Document
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, source, page_count, created_at FROM documents WHERE id = ?`, docID,
	).Scan(&d.ID, &d.Title, &d.Source, &d.PageCount, &createdAt)
	if err == sql.ErrNoRows {
		return finrag.Document{}, finrag.ErrNotFound
	}
	if err != nil {
		s.logger.Error("sqlite: get document failed", "id", docID, "error", err, "duration", time.Since(start))
		return finrag.Document{}, fmt.Errorf("get document: %w", err)
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.logger.Debug("sqlite: get document ok", "id", docID, "duration", time.Since(start))
	return d, nil
}

// ListDocuments returns all documents ordered by creation time (newest first).
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]finrag.Document, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list documents", "limit", limit)

	query := `SELECT id, title, source, page_count, created_at FROM documents ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: list documents failed", "error", err)
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []finrag.Document
	for rows.Next() {
		var d finrag.Document
		var createdAt int64
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.PageCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		docs = append(docs, d)
	}
	s.logger.Debug("sqlite: list documents ok", "count", len(docs), "duration", time.Since(start))
	return docs, rows.Err()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// --- Vector math ---

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
