package vecindex

import "container/heap"

// scored pairs a node id with its similarity to the current query
type scored struct {
	id  int64
	sim float64
}

// candidateHeap is a max-heap by similarity: the most promising unexpanded
// candidate is popped first. Ties break toward the lower id so traversal
// order is deterministic.
type candidateHeap []scored

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if h[i].sim != h[j].sim {
		return h[i].sim > h[j].sim
	}
	return h[i].id < h[j].id
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(scored)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// resultHeap is a min-heap by similarity, used as a bounded frontier: once
// it holds ef entries the worst one is evicted on push. Ties break toward
// the higher id so the lower id survives eviction.
type resultHeap []scored

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool {
	if h[i].sim != h[j].sim {
		return h[i].sim < h[j].sim
	}
	return h[i].id > h[j].id
}

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) { *h = append(*h, x.(scored)) }

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// frontier combines the two heaps into the bounded best-first state
type frontier struct {
	candidates candidateHeap
	results    resultHeap
	ef         int
}

func newFrontier(ef int) *frontier {
	f := &frontier{ef: ef}
	heap.Init(&f.candidates)
	heap.Init(&f.results)
	return f
}

// add records a scored node as both a candidate and a result
func (f *frontier) add(s scored) {
	heap.Push(&f.candidates, s)
	heap.Push(&f.results, s)
	if f.results.Len() > f.ef {
		heap.Pop(&f.results)
	}
}

// next pops the most promising candidate; ok is false when none remain
func (f *frontier) next() (scored, bool) {
	if f.candidates.Len() == 0 {
		return scored{}, false
	}
	return heap.Pop(&f.candidates).(scored), true
}

// worst returns the similarity of the weakest retained result
func (f *frontier) worst() float64 {
	if f.results.Len() == 0 {
		return -1
	}
	return f.results[0].sim
}

// full reports whether the frontier holds ef results
func (f *frontier) full() bool {
	return f.results.Len() >= f.ef
}

// drain returns all retained results, unordered
func (f *frontier) drain() []scored {
	out := make([]scored, f.results.Len())
	copy(out, f.results)
	return out
}
