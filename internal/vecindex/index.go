package vecindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hubgrep/hubgrep-mcp/internal/metrics"
)

// Recomputer rebuilds the embedding of a leaf node on demand, typically by
// re-embedding the snippet text behind the id. Failures are typed errors,
// never a silent zero vector.
type Recomputer func(ctx context.Context, id int64) ([]float32, error)

// Item is a single vector for batch insertion
type Item struct {
	ID     int64
	Vector []float32
}

// Index is a hub-aware navigable small-world graph. Most embeddings are
// discarded after the pruning pass that follows their insertion; only hub
// nodes keep theirs cached. Searches recompute leaf embeddings on demand
// within a per-call time budget.
//
// Concurrency follows a single-writer, many-reader discipline: inserts,
// deletes, and pruning passes are serialized behind the writer lock, while
// searches read topology under short read-lock episodes and never hold a
// lock across a recompute call. Pruning runs under the exclusive lock and
// bumps the generation counter, so no search observes a half-pruned
// adjacency list.
type Index struct {
	cfg       Config
	recompute Recomputer

	mu         sync.RWMutex
	nodes      map[int64]*node
	hubs       *hubCache
	staged     map[int64][]float32 // embeddings awaiting the next pruning pass
	tombstones map[int64]struct{}
	entryHubs  []int64 // hub ids ordered by degree desc, id asc

	hubThreshold int
	sincePrune   int
	generation   atomic.Uint64

	recomputeCache *lru.Cache[int64, []float32]
}

// New creates an empty index. The recompute callback may be nil, in which
// case leaf nodes whose embeddings have aged out of every cache are
// unreachable for scoring (hub-only search).
func New(cfg Config, recompute Recomputer) (*Index, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[int64, []float32](cfg.RecomputeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("recompute cache: %w", err)
	}

	return &Index{
		cfg:            cfg,
		recompute:      recompute,
		nodes:          make(map[int64]*node),
		hubs:           newHubCache(cfg.CompactHubs),
		staged:         make(map[int64][]float32),
		tombstones:     make(map[int64]struct{}),
		hubThreshold:   cfg.HubDegreeThreshold,
		recomputeCache: cache,
	}, nil
}

// Config returns the effective configuration
func (idx *Index) Config() Config {
	return idx.cfg
}

// Insert adds a single vector. Equivalent to a one-item InsertBatch.
func (idx *Index) Insert(ctx context.Context, id int64, vec []float32) error {
	return idx.InsertBatch(ctx, []Item{{ID: id, Vector: vec}})
}

// InsertBatch adds vectors under a single writer-lock acquisition, running
// a pruning pass at every BatchSize boundary to amortize its cost.
func (idx *Index) InsertBatch(ctx context.Context, items []Item) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := idx.insertLocked(items[i].ID, items[i].Vector); err != nil {
			return err
		}
		metrics.InsertsTotal.Inc()

		idx.sincePrune++
		if idx.sincePrune >= idx.cfg.BatchSize {
			idx.prunePassLocked()
		}
	}

	metrics.NodeCount.Set(float64(idx.liveCountLocked()))
	return nil
}

// Flush forces a pruning pass if insertions are pending classification.
// The indexing pipeline calls it at the end of a run so the final partial
// batch gets hub/leaf classification.
func (idx *Index) Flush() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.sincePrune > 0 {
		idx.prunePassLocked()
	}
}

// insertLocked links a new node into the graph. The caller holds the
// writer lock. Linking scores only nodes whose embeddings are available
// without a provider round-trip (hubs, staged inserts, recompute cache);
// skipped leaves are recovered by later pruning passes.
func (idx *Index) insertLocked(id int64, vec []float32) error {
	if len(vec) != idx.cfg.Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), idx.cfg.Dimension)
	}

	if existing, ok := idx.nodes[id]; ok {
		if !existing.tombstone {
			return fmt.Errorf("%w: %d", ErrDuplicateID, id)
		}
		// Reindexing a tombstoned id revives it as a fresh node.
		delete(idx.tombstones, id)
		delete(idx.nodes, id)
	}

	v := make([]float32, len(vec))
	copy(v, vec)
	if idx.cfg.Metric == MetricCosine {
		Normalize(v)
	}

	n := &node{id: id}
	idx.staged[id] = v
	idx.recomputeCache.Add(id, v)

	if len(idx.nodes) == 0 {
		idx.nodes[id] = n
		return nil
	}

	candidates := idx.searchAvailableLocked(v, idx.cfg.EFConstruction, id)
	limit := idx.cfg.MaxNeighbors
	if limit > len(candidates) {
		limit = len(candidates)
	}

	for _, c := range candidates[:limit] {
		peer := idx.nodes[c.id]
		if peer == nil || peer.tombstone {
			continue
		}
		dist := float32(1 - c.sim)
		n.addNeighbor(peer.id, dist)
		peer.addNeighbor(id, dist)
	}

	idx.nodes[id] = n
	return nil
}

// Delete removes a vector and re-links its former neighbors to preserve
// local connectivity. A survivor whose degree drops to zero is re-inserted
// when a cached embedding exists, otherwise tombstoned.
func (idx *Index) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.nodes[id]
	if !ok || n.tombstone {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	former := make([]edge, len(n.neighbors))
	copy(former, n.neighbors)
	sort.Slice(former, func(i, j int) bool {
		if former[i].dist != former[j].dist {
			return former[i].dist < former[j].dist
		}
		return former[i].id < former[j].id
	})

	delete(idx.nodes, id)
	delete(idx.staged, id)
	delete(idx.tombstones, id)
	idx.hubs.Delete(id)
	idx.recomputeCache.Remove(id)
	idx.dropEntryHubLocked(id)

	for _, e := range former {
		if peer := idx.nodes[e.id]; peer != nil {
			peer.removeNeighbor(id)
		}
	}

	// Chain consecutive former neighbors (ordered by closeness to the
	// deleted node). The stored weight is the triangle upper bound
	// d(a,x)+d(x,b) since neither endpoint may have an embedding.
	for i := 0; i+1 < len(former); i++ {
		a := idx.nodes[former[i].id]
		b := idx.nodes[former[i+1].id]
		if a == nil || b == nil || a.tombstone || b.tombstone {
			continue
		}
		d := former[i].dist + former[i+1].dist
		a.addNeighbor(b.id, d)
		b.addNeighbor(a.id, d)
	}

	for _, e := range former {
		s := idx.nodes[e.id]
		if s == nil || s.tombstone {
			continue
		}

		if s.degree() == 0 {
			if vec, ok := idx.availableEmbeddingLocked(s.id); ok {
				idx.relinkLocked(s, vec)
			}
			if s.degree() == 0 {
				s.tombstone = true
				idx.tombstones[s.id] = struct{}{}
				if s.isHub {
					s.isHub = false
					idx.hubs.Delete(s.id)
					idx.dropEntryHubLocked(s.id)
				}
			}
			continue
		}

		// Hub demotion: a hub falling below the effective threshold
		// loses its cache entry.
		if s.isHub && s.degree() < idx.hubThreshold {
			if old, ok := idx.hubs.Get(s.id); ok {
				idx.recomputeCache.Add(s.id, old)
			}
			idx.hubs.Delete(s.id)
			s.isHub = false
			idx.dropEntryHubLocked(s.id)
		}
	}

	idx.generation.Add(1)
	metrics.DeletesTotal.Inc()
	metrics.NodeCount.Set(float64(idx.liveCountLocked()))
	metrics.HubCount.Set(float64(idx.hubs.Len()))
	return nil
}

// relinkLocked reconnects an orphaned survivor using its embedding
func (idx *Index) relinkLocked(s *node, vec []float32) {
	candidates := idx.searchAvailableLocked(vec, idx.cfg.EFConstruction, s.id)
	limit := idx.cfg.MaxNeighbors
	if limit > len(candidates) {
		limit = len(candidates)
	}

	for _, c := range candidates[:limit] {
		peer := idx.nodes[c.id]
		if peer == nil || peer.tombstone {
			continue
		}
		dist := float32(1 - c.sim)
		s.addNeighbor(peer.id, dist)
		peer.addNeighbor(s.id, dist)
	}
}

// dropEntryHubLocked removes id from the ordered entry-point list
func (idx *Index) dropEntryHubLocked(id int64) {
	for i, h := range idx.entryHubs {
		if h == id {
			idx.entryHubs = append(idx.entryHubs[:i], idx.entryHubs[i+1:]...)
			return
		}
	}
}

// Count returns the number of live (non-tombstoned) vectors
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.liveCountLocked()
}

func (idx *Index) liveCountLocked() int {
	return len(idx.nodes) - len(idx.tombstones)
}

// Generation returns the mutation generation counter. It increments after
// every completed pruning pass and deletion; the searcher uses it to
// invalidate its query cache.
func (idx *Index) Generation() uint64 {
	return idx.generation.Load()
}

// Stats summarizes the index state
type Stats struct {
	Nodes              int
	Hubs               int
	HubFraction        float64
	Tombstones         int
	Dimension          int
	Metric             Metric
	HubDegreeThreshold int
	Generation         uint64
}

// Stats returns a point-in-time summary
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	live := idx.liveCountLocked()
	s := Stats{
		Nodes:              live,
		Hubs:               idx.hubs.Len(),
		Tombstones:         len(idx.tombstones),
		Dimension:          idx.cfg.Dimension,
		Metric:             idx.cfg.Metric,
		HubDegreeThreshold: idx.hubThreshold,
		Generation:         idx.generation.Load(),
	}
	if live > 0 {
		s.HubFraction = float64(s.Hubs) / float64(live)
	}
	return s
}

// availableEmbeddingLocked returns an embedding obtainable without a
// provider round-trip: staged insert, hub cache, or recompute cache.
func (idx *Index) availableEmbeddingLocked(id int64) ([]float32, bool) {
	if vec, ok := idx.staged[id]; ok {
		return vec, true
	}
	if vec, ok := idx.hubs.Get(id); ok {
		return vec, true
	}
	if vec, ok := idx.recomputeCache.Peek(id); ok {
		return vec, true
	}
	return nil, false
}

// searchAvailableLocked is the insert/relink-time variant of graph search:
// it runs entirely under the held writer lock and scores only nodes with
// locally available embeddings. Returns candidates ordered best-first.
func (idx *Index) searchAvailableLocked(query []float32, ef int, exclude int64) []scored {
	entries := idx.entryIDsLocked(ef)
	if len(entries) == 0 {
		return nil
	}

	f := newFrontier(ef)
	visited := map[int64]struct{}{exclude: {}}

	for _, id := range entries {
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		vec, ok := idx.availableEmbeddingLocked(id)
		if !ok {
			continue
		}
		f.add(scored{id: id, sim: idx.similarity(query, vec)})
	}

	for {
		c, ok := f.next()
		if !ok {
			break
		}
		if f.full() && c.sim < f.worst() {
			break
		}

		n := idx.nodes[c.id]
		if n == nil {
			continue
		}
		for _, e := range n.neighbors {
			if _, seen := visited[e.id]; seen {
				continue
			}
			visited[e.id] = struct{}{}

			peer := idx.nodes[e.id]
			if peer == nil || peer.tombstone {
				continue
			}
			vec, ok := idx.availableEmbeddingLocked(e.id)
			if !ok {
				continue
			}
			f.add(scored{id: e.id, sim: idx.similarity(query, vec)})
		}
	}

	out := f.drain()
	sortScoredDesc(out)
	return out
}

// entryIDsLocked returns traversal entry points: the highest-degree hubs,
// or, before the first pruning pass, the staged insertions in id order.
func (idx *Index) entryIDsLocked(limit int) []int64 {
	if len(idx.entryHubs) > 0 {
		if limit > len(idx.entryHubs) {
			limit = len(idx.entryHubs)
		}
		out := make([]int64, limit)
		copy(out, idx.entryHubs[:limit])
		return out
	}

	ids := make([]int64, 0, len(idx.staged))
	for id := range idx.staged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}

// sortScoredDesc orders by similarity descending, ties by lower id
func sortScoredDesc(s []scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].sim != s[j].sim {
			return s[i].sim > s[j].sim
		}
		return s[i].id < s[j].id
	})
}
