package finrag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// rrfK is the rank-fusion constant used to score keyword hits.
const rrfK = 60

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxParallel bounds the number of concurrent index searches and is
// shared across query variants of a single Retrieve call. Default 4.
func WithMaxParallel(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

// WithSearchTimeout sets the per-variant timeout for child index searches.
// Zero disables the timeout. Default 10s.
func WithSearchTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.searchTimeout = d }
}

// WithFetchTimeout sets the timeout for the parent-content fetch step.
// Zero disables the timeout. Default 10s.
func WithFetchTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.fetchTimeout = d }
}

// WithKeywordSearch adds full-text keyword hits to the candidate set.
// Keyword hits score as weight/(60+rank+1) and enter the same per-parent
// aggregation as vector hits. weight must be in (0, 1].
func WithKeywordSearch(ks KeywordSearcher, weight float32) CoordinatorOption {
	return func(c *Coordinator) {
		c.keyword = ks
		c.keywordWeight = weight
	}
}

// WithCoordinatorLogger sets a structured logger. Default discards.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithCoordinatorTracer sets a Tracer for retrieval spans.
func WithCoordinatorTracer(t Tracer) CoordinatorOption {
	return func(c *Coordinator) { c.tracer = t }
}

// Coordinator turns query variants into ranked, deduplicated parent context.
// It searches the child index per variant, aggregates child scores per
// parent (max across all matching children and variants), fetches parent
// content, and returns the top parents with citation metadata.
//
// A search failure for one variant degrades that variant only; the
// Coordinator fails with a RetrievalError only when every variant fails.
// A parent referenced by the index but absent from the store is logged and
// skipped, never fatal.
type Coordinator struct {
	index     ChildIndex
	parents   ParentStore
	embedding EmbeddingProvider

	maxParallel   int
	searchTimeout time.Duration
	fetchTimeout  time.Duration
	keyword       KeywordSearcher
	keywordWeight float32

	logger *slog.Logger
	tracer Tracer
}

// NewCoordinator creates a Coordinator over the given child index, parent
// store, and external embedder.
func NewCoordinator(index ChildIndex, parents ParentStore, embedding EmbeddingProvider, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		index:         index,
		parents:       parents,
		embedding:     embedding,
		maxParallel:   4,
		searchTimeout: 10 * time.Second,
		fetchTimeout:  10 * time.Second,
		logger:        slog.New(discardHandler{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// parentAgg accumulates evidence for one candidate parent.
type parentAgg struct {
	score    float32
	childIDs []string
	seen     map[string]bool
}

func (a *parentAgg) add(chunkID string, score float32) {
	if score > a.score {
		a.score = score
	}
	if !a.seen[chunkID] {
		a.seen[chunkID] = true
		a.childIDs = append(a.childIDs, chunkID)
	}
}

// Retrieve executes all query variants and returns up to topKParents ranked
// parents, each with its aggregated score and contributing child ids.
// topKChildren bounds the child hits fetched per variant.
//
// Zero matches returns an empty RetrievalResult and a nil error.
func (c *Coordinator) Retrieve(ctx context.Context, queries []string, topKChildren, topKParents int) (RetrievalResult, error) {
	if len(queries) == 0 {
		return RetrievalResult{}, errors.New("retrieve: no query variants")
	}
	if topKChildren <= 0 || topKParents <= 0 {
		return RetrievalResult{}, fmt.Errorf("retrieve: invalid top-k (children=%d, parents=%d)", topKChildren, topKParents)
	}

	var span Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "finrag.retrieve",
			IntAttr("variants", len(queries)),
			IntAttr("top_k_children", topKChildren),
			IntAttr("top_k_parents", topKParents),
		)
		defer span.End()
	}

	embs, err := c.embedding.Embed(ctx, queries)
	if err != nil {
		rerr := &RetrievalError{Variants: len(queries), Err: fmt.Errorf("embed queries: %w", err)}
		if span != nil {
			span.Error(rerr)
		}
		return RetrievalResult{}, rerr
	}
	if len(embs) != len(queries) {
		rerr := &RetrievalError{Variants: len(queries), Err: fmt.Errorf("embedder returned %d vectors for %d variants", len(embs), len(queries))}
		if span != nil {
			span.Error(rerr)
		}
		return RetrievalResult{}, rerr
	}

	matches, failed, lastErr := c.searchVariants(ctx, queries, embs, topKChildren)
	if err := ctx.Err(); err != nil {
		return RetrievalResult{}, err
	}
	if failed == len(queries) {
		rerr := &RetrievalError{Variants: len(queries), Err: lastErr}
		if span != nil {
			span.Error(rerr)
		}
		return RetrievalResult{}, rerr
	}

	agg, order := aggregateByParent(matches)
	if len(order) == 0 {
		return RetrievalResult{}, nil
	}

	fetched, err := c.fetchParents(ctx, order)
	if err != nil {
		rerr := &RetrievalError{Variants: len(queries), Err: fmt.Errorf("fetch parents: %w", err)}
		if span != nil {
			span.Error(rerr)
		}
		return RetrievalResult{}, rerr
	}

	results := make([]ParentResult, 0, len(order))
	for _, pid := range order {
		parent, ok := fetched[pid]
		if !ok {
			// Indexed child points at a parent the store does not have.
			c.logger.Warn("integrity warning: parent missing from store, omitting",
				"parent_id", pid, "contributing_children", len(agg[pid].childIDs))
			if span != nil {
				span.Event("integrity_warning", StringAttr("parent_id", pid))
			}
			continue
		}
		results = append(results, ParentResult{
			Parent:   parent,
			Score:    agg[pid].score,
			ChildIDs: agg[pid].childIDs,
		})
	}

	// Score descending; ties broken by smaller page-range start, then id,
	// so ordering is fully deterministic.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Parent.Pages.Start != results[j].Parent.Pages.Start {
			return results[i].Parent.Pages.Start < results[j].Parent.Pages.Start
		}
		return results[i].Parent.ID < results[j].Parent.ID
	})

	if len(results) > topKParents {
		results = results[:topKParents]
	}
	if span != nil {
		span.SetAttr(IntAttr("parents_returned", len(results)), IntAttr("variants_failed", failed))
	}
	return RetrievalResult{Parents: results}, nil
}

// searchVariants fans out one child-index search per query variant (plus
// optional keyword searches), bounded by maxParallel. It returns all
// collected matches, the number of failed variants, and the last variant
// error for RetrievalError context.
func (c *Coordinator) searchVariants(ctx context.Context, queries []string, embs [][]float32, topKChildren int) ([]ChildMatch, int, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		matches []ChildMatch
		failed  int
		lastErr error
	)
	sem := make(chan struct{}, c.maxParallel)

	search := func(variant int) {
		defer wg.Done()
		defer func() { <-sem }()

		sctx := ctx
		cancel := func() {}
		if c.searchTimeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, c.searchTimeout)
		}
		defer cancel()

		hits, err := c.index.Search(sctx, embs[variant], topKChildren)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed++
			lastErr = err
			c.logger.Warn("child index search failed, dropping variant",
				"variant", variant, "query", queries[variant], "error", err)
			return
		}
		matches = append(matches, hits...)
	}

	keyword := func(variant int) {
		defer wg.Done()
		defer func() { <-sem }()

		sctx := ctx
		cancel := func() {}
		if c.searchTimeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, c.searchTimeout)
		}
		defer cancel()

		hits, err := c.keyword.SearchKeyword(sctx, queries[variant], topKChildren)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			// Keyword search is a supplement; its failure never fails the
			// request and is not counted as a failed variant.
			c.logger.Warn("keyword search failed, dropping contribution",
				"variant", variant, "error", err)
			return
		}
		for rank, h := range hits {
			h.Score = c.keywordWeight / float32(rrfK+rank+1)
			matches = append(matches, h)
		}
	}

	for i := range queries {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go search(i)

		if c.keyword != nil && c.keywordWeight > 0 {
			wg.Add(1)
			sem <- struct{}{}
			go keyword(i)
		}
	}
	wg.Wait()

	return matches, failed, lastErr
}

// aggregateByParent folds matches into per-parent evidence using max-score
// aggregation, so a parent with many weakly-matching children does not
// outrank a parent with one strong match. Returns the aggregation and the
// parent ids in first-seen order.
func aggregateByParent(matches []ChildMatch) (map[string]*parentAgg, []string) {
	agg := make(map[string]*parentAgg)
	var order []string
	for _, m := range matches {
		if m.ParentID == "" {
			continue
		}
		a, ok := agg[m.ParentID]
		if !ok {
			a = &parentAgg{seen: make(map[string]bool)}
			agg[m.ParentID] = a
			order = append(order, m.ParentID)
		}
		a.add(m.ChunkID, m.Score)
	}
	return agg, order
}

// fetchParents loads all candidate parents in one bounded call.
func (c *Coordinator) fetchParents(ctx context.Context, ids []string) (map[string]ParentChunk, error) {
	fctx := ctx
	cancel := func() {}
	if c.fetchTimeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
	}
	defer cancel()

	parents, err := c.parents.GetMany(fctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ParentChunk, len(parents))
	for _, p := range parents {
		out[p.ID] = p
	}
	return out, nil
}
