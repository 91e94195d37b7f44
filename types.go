package finrag

import "time"

// --- Domain types (persisted records) ---

// Document identifies one source document (e.g. an annual report PDF).
// A document is the unit of deletion: removing it removes every parent and
// child chunk that carries its ID.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	PageCount int       `json:"page_count"`
	CreatedAt time.Time `json:"created_at"`
}

// ParentType tags how a parent chunk was formed.
type ParentType string

const (
	ParentPageGroup ParentType = "page_group"
	ParentSection   ParentType = "section"
)

// ChildType tags the origin of a child chunk.
type ChildType string

const (
	ChildTable ChildType = "table"
	ChildText  ChildType = "text"
)

// PageRange is an inclusive range of 1-based page numbers.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether page falls inside the range.
func (r PageRange) Contains(page int) bool {
	return page >= r.Start && page <= r.End
}

// BoundingBox is the rectangle a claimed span occupied on its page,
// in the coordinate system of the upstream extractor.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// ParentChunk is the large contextual unit returned to the generation
// stage. Parents own their children: ChildIDs lists every child whose
// ParentID points back here, and no child appears under two parents.
type ParentChunk struct {
	ID         string     `json:"parent_id"`
	DocumentID string     `json:"document_id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Pages      PageRange  `json:"page_range"`
	ChildIDs   []string   `json:"child_ids"`
	Type       ParentType `json:"chunk_type"`
}

// ChildChunk is the small, independently embeddable unit used for
// similarity search. It back-references exactly one parent and is
// immutable once embedded.
type ChildChunk struct {
	ID         string            `json:"chunk_id"`
	ParentID   string            `json:"parent_id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Type       ChildType         `json:"chunk_type"`
	PageNumber int               `json:"page_number"`
	Bounding   *BoundingBox      `json:"bounding_box,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
}

// ChildMatch is one similarity-search hit from a ChildIndex.
type ChildMatch struct {
	ChunkID    string  `json:"chunk_id"`
	ParentID   string  `json:"parent_id"`
	PageNumber int     `json:"page_number"`
	Score      float32 `json:"score"`
}

// ParentResult is one ranked entry of a RetrievalResult: a parent chunk,
// its aggregated relevance score, and the child ids that contributed to it
// (for citation).
type ParentResult struct {
	Parent   ParentChunk `json:"parent"`
	Score    float32     `json:"score"`
	ChildIDs []string    `json:"contributing_child_ids"`
}

// RetrievalResult is the ordered, deduplicated outcome of one retrieval.
// Entries are sorted by Score descending; no parent id appears twice.
// An empty result is a valid answer, distinct from a retrieval failure.
type RetrievalResult struct {
	Parents []ParentResult `json:"parents"`
}

// --- Bulk-export records ---

// ChildRecord is the persisted child form suitable for bulk load into any
// external vector index.
type ChildRecord struct {
	Content    string            `json:"content"`
	Type       ChildType         `json:"chunk_type"`
	ParentID   string            `json:"parent_id"`
	PageNumber int               `json:"page_number"`
	Bounding   *BoundingBox      `json:"bounding_box,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ParentRecord is the persisted parent form suitable for bulk load into any
// external key-value store.
type ParentRecord struct {
	Content  string     `json:"content"`
	Pages    PageRange  `json:"page_range"`
	ChildIDs []string   `json:"child_ids"`
	Type     ParentType `json:"chunk_type"`
}

// ExportChildren maps child chunks by id into the bulk-load format.
func ExportChildren(children []ChildChunk) map[string]ChildRecord {
	out := make(map[string]ChildRecord, len(children))
	for _, c := range children {
		out[c.ID] = ChildRecord{
			Content:    c.Content,
			Type:       c.Type,
			ParentID:   c.ParentID,
			PageNumber: c.PageNumber,
			Bounding:   c.Bounding,
			Metadata:   c.Metadata,
		}
	}
	return out
}

// ExportParents maps parent chunks by id into the bulk-load format.
func ExportParents(parents []ParentChunk) map[string]ParentRecord {
	out := make(map[string]ParentRecord, len(parents))
	for _, p := range parents {
		out[p.ID] = ParentRecord{
			Content:  p.Content,
			Pages:    p.Pages,
			ChildIDs: p.ChildIDs,
			Type:     p.Type,
		}
	}
	return out
}
