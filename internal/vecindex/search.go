package vecindex

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hubgrep/hubgrep-mcp/internal/metrics"
)

// SearchOptions tunes a single search call
type SearchOptions struct {
	// Exhaustive scores every live node instead of traversing the graph.
	// Still subject to the recompute budget.
	Exhaustive bool

	// Budget overrides the configured per-call recompute time budget.
	// A zero budget restricts scoring to hub-cached embeddings and
	// guarantees zero recompute calls.
	Budget *time.Duration
}

// Result is a single ranked hit
type Result struct {
	ID         int64
	Similarity float64
}

// SearchResponse carries the ranked hits plus traversal metadata
type SearchResponse struct {
	Results []Result

	// Approximate is set when the recompute budget ran out (or the
	// context expired) and unscored leaf candidates were skipped.
	Approximate bool

	// RecomputeCalls is the number of provider round-trips charged to
	// this call's budget.
	RecomputeCalls int

	// RecomputeElapsed is the total time spent in recompute calls.
	RecomputeElapsed time.Duration
}

// budgetTracker charges recompute latency against the per-call allowance
type budgetTracker struct {
	initial   time.Duration
	remaining time.Duration
	elapsed   time.Duration
	calls     int
	exhausted bool
}

// Search returns the top-k nearest vectors by similarity descending, ties
// broken by lower id. When the recompute budget runs out, remaining
// unscored leaf candidates are skipped and the response is marked
// approximate; the call never blocks on the budget.
func (idx *Index) Search(ctx context.Context, query []float32, k int, opts *SearchOptions) (*SearchResponse, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) != idx.cfg.Dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), idx.cfg.Dimension)
	}

	q := make([]float32, len(query))
	copy(q, query)
	if idx.cfg.Metric == MetricCosine {
		Normalize(q)
	}

	budget := idx.cfg.MaxRecomputeLatency
	exhaustive := false
	if opts != nil {
		if opts.Budget != nil {
			budget = *opts.Budget
		}
		exhaustive = opts.Exhaustive
	}
	b := &budgetTracker{initial: budget, remaining: budget}

	metrics.SearchesTotal.Inc()
	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	var hits []scored
	if exhaustive {
		hits = idx.exhaustiveSearch(ctx, q, b)
	} else {
		hits = idx.graphSearch(ctx, q, k, b)
	}

	sortScoredDesc(hits)
	if len(hits) > k {
		hits = hits[:k]
	}

	resp := &SearchResponse{
		Results:          make([]Result, len(hits)),
		Approximate:      b.exhausted || ctx.Err() != nil,
		RecomputeCalls:   b.calls,
		RecomputeElapsed: b.elapsed,
	}
	for i, h := range hits {
		resp.Results[i] = Result{ID: h.id, Similarity: h.sim}
	}

	if b.exhausted {
		metrics.RecomputeBudgetExhaustedTotal.Inc()
	}
	return resp, nil
}

// graphSearch is bounded best-first traversal from hub entry points
func (idx *Index) graphSearch(ctx context.Context, q []float32, k int, b *budgetTracker) []scored {
	ef := idx.cfg.EFSearch
	if ef < k {
		ef = k
	}

	idx.mu.RLock()
	entryLimit := ef / 2
	if entryLimit < 1 {
		entryLimit = 1
	}
	entries := idx.entryIDsLocked(entryLimit)
	idx.mu.RUnlock()

	f := newFrontier(ef)
	visited := make(map[int64]struct{}, ef*4)

	for _, id := range entries {
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		vec, ok := idx.embeddingFor(ctx, id, b)
		if !ok {
			continue
		}
		f.add(scored{id: id, sim: idx.similarity(q, vec)})
	}

	for {
		if ctx.Err() != nil {
			break
		}
		c, ok := f.next()
		if !ok {
			break
		}
		if f.full() && c.sim < f.worst() {
			break
		}

		for _, nb := range idx.neighborIDs(c.id) {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}

			vec, ok := idx.embeddingFor(ctx, nb, b)
			if !ok {
				continue
			}
			f.add(scored{id: nb, sim: idx.similarity(q, vec)})
		}
	}

	return f.drain()
}

// exhaustiveSearch scores every live node, budget permitting
func (idx *Index) exhaustiveSearch(ctx context.Context, q []float32, b *budgetTracker) []scored {
	idx.mu.RLock()
	ids := make([]int64, 0, len(idx.nodes))
	for id, n := range idx.nodes {
		if !n.tombstone {
			ids = append(ids, id)
		}
	}
	idx.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]scored, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		vec, ok := idx.embeddingFor(ctx, id, b)
		if !ok {
			continue
		}
		out = append(out, scored{id: id, sim: idx.similarity(q, vec)})
	}
	return out
}

// neighborIDs copies a node's adjacency under a short read lock
func (idx *Index) neighborIDs(id int64) []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := idx.nodes[id]
	if n == nil {
		return nil
	}
	out := make([]int64, len(n.neighbors))
	for i, e := range n.neighbors {
		out[i] = e.id
	}
	return out
}

// embeddingFor resolves a node's embedding for scoring. Hub-cache and
// staged reads are free; a recompute-cache hit is free; an actual provider
// call is charged against the budget and skipped once it is exhausted.
// No lock is held during the provider call.
func (idx *Index) embeddingFor(ctx context.Context, id int64, b *budgetTracker) ([]float32, bool) {
	idx.mu.RLock()
	n := idx.nodes[id]
	if n == nil || n.tombstone {
		idx.mu.RUnlock()
		return nil, false
	}
	if vec, ok := idx.staged[id]; ok {
		idx.mu.RUnlock()
		return vec, true
	}
	if vec, ok := idx.hubs.Get(id); ok {
		idx.mu.RUnlock()
		return vec, true
	}
	idx.mu.RUnlock()

	// A zero budget restricts scoring to cached hub embeddings.
	if b.initial <= 0 {
		return nil, false
	}

	if vec, ok := idx.recomputeCache.Get(id); ok {
		return vec, true
	}

	if idx.recompute == nil {
		return nil, false
	}
	if b.remaining <= 0 {
		b.exhausted = true
		return nil, false
	}

	start := time.Now()
	vec, err := idx.recompute(ctx, id)
	took := time.Since(start)

	b.remaining -= took
	b.elapsed += took
	b.calls++
	metrics.RecomputeCallsTotal.Inc()

	if err != nil || len(vec) != idx.cfg.Dimension {
		return nil, false
	}

	v := make([]float32, len(vec))
	copy(v, vec)
	if idx.cfg.Metric == MetricCosine {
		Normalize(v)
	}
	idx.recomputeCache.Add(id, v)
	return v, true
}
