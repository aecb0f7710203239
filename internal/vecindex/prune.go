package vecindex

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/hubgrep/hubgrep-mcp/internal/metrics"
)

// prunePassLocked trims every node's adjacency to the configured fraction
// of its candidate edges, reclassifies hubs, and discards the staged leaf
// embeddings accumulated since the previous pass. The caller holds the
// writer lock; the generation counter bumps only after the pass completes,
// so readers never observe a half-pruned graph.
func (idx *Index) prunePassLocked() {
	idx.sincePrune = 0

	live := make([]*node, 0, len(idx.nodes))
	for _, n := range idx.nodes {
		if !n.tombstone {
			live = append(live, n)
		}
	}
	if len(live) == 0 {
		idx.staged = make(map[int64][]float32)
		idx.generation.Add(1)
		return
	}

	for _, n := range live {
		idx.pruneEdgesLocked(n)
	}

	// Hub selection: exact top-⌈ratio×n⌉ by (degree desc, id asc), skipping
	// nodes with no recoverable embedding. The effective degree threshold
	// reported by Stats is the matching quantile of the realized degree
	// distribution.
	sort.Slice(live, func(i, j int) bool {
		if live[i].degree() != live[j].degree() {
			return live[i].degree() > live[j].degree()
		}
		return live[i].id < live[j].id
	})

	target := int(math.Round(idx.cfg.HubCacheRatio * float64(len(live))))
	if target < 1 {
		target = 1
	}

	hubVecs := make(map[int64][]float32, target)
	for _, n := range live {
		if len(hubVecs) == target {
			break
		}
		if vec, ok := idx.availableEmbeddingLocked(n.id); ok {
			hubVecs[n.id] = vec
		}
	}

	degrees := make([]float64, len(live))
	for i, n := range live {
		degrees[i] = float64(n.degree())
	}
	sort.Float64s(degrees)
	if q := stat.Quantile(1-idx.cfg.HubCacheRatio, stat.Empirical, degrees, nil); q > 0 {
		idx.hubThreshold = int(math.Ceil(q))
	}

	entry := make([]int64, 0, len(hubVecs))
	for _, n := range live {
		vec, wantHub := hubVecs[n.id]
		switch {
		case wantHub:
			n.isHub = true
			idx.hubs.Set(n.id, vec)
			entry = append(entry, n.id) // live is already degree-ordered
		case n.isHub:
			// Demotion evicts the permanent cache entry; the recompute
			// cache keeps the vector warm until LRU ages it out.
			if old, ok := idx.hubs.Get(n.id); ok {
				idx.recomputeCache.Add(n.id, old)
			}
			idx.hubs.Delete(n.id)
			n.isHub = false
		}
	}
	idx.entryHubs = entry

	// The defining discard: non-hub embeddings from this batch are gone
	// from permanent storage and will be recomputed on demand.
	idx.staged = make(map[int64][]float32)

	idx.generation.Add(1)
	metrics.PruningPassesTotal.Inc()
	metrics.HubCount.Set(float64(idx.hubs.Len()))
}

// pruneEdgesLocked keeps the best ceil(ratio × candidates) edges of a node
// by ascending distance, minimum one, ties broken by lower neighbor id.
// Edges to tombstoned or removed nodes are dropped first.
func (idx *Index) pruneEdgesLocked(n *node) {
	candidates := n.neighbors[:0]
	seen := make(map[int64]struct{}, len(n.neighbors))
	for _, e := range n.neighbors {
		if e.id == n.id {
			continue
		}
		if _, dup := seen[e.id]; dup {
			continue
		}
		peer := idx.nodes[e.id]
		if peer == nil || peer.tombstone {
			continue
		}
		seen[e.id] = struct{}{}
		candidates = append(candidates, e)
	}

	if len(candidates) == 0 {
		n.neighbors = candidates
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].id < candidates[j].id
	})

	keep := int(math.Ceil(idx.cfg.GraphPruningRatio * float64(len(candidates))))
	if keep < 1 {
		keep = 1
	}
	if keep > len(candidates) {
		keep = len(candidates)
	}

	n.neighbors = candidates[:keep]
}
