package vecindex

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRecomputer serves embeddings from a fixed table and counts calls
type mockRecomputer struct {
	mu      sync.Mutex
	vectors map[int64][]float32
	calls   int
	delay   time.Duration
	err     error
}

func newMockRecomputer() *mockRecomputer {
	return &mockRecomputer{vectors: make(map[int64][]float32)}
}

func (m *mockRecomputer) fn(ctx context.Context, id int64) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	vec, ok := m.vectors[id]
	if !ok {
		return nil, errors.New("unknown id")
	}
	return vec, nil
}

func (m *mockRecomputer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// unitVector returns a reproducible pseudo-random unit vector
func unitVector(dim int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	Normalize(v)
	return v
}

func newTestIndex(t *testing.T, cfg Config, rec *mockRecomputer) *Index {
	t.Helper()
	var fn Recomputer
	if rec != nil {
		fn = rec.fn
	}
	idx, err := New(cfg, fn)
	require.NoError(t, err)
	return idx
}

func insertAll(t *testing.T, idx *Index, rec *mockRecomputer, n int, dim int) {
	t.Helper()
	items := make([]Item, n)
	for i := 0; i < n; i++ {
		id := int64(i + 1)
		vec := unitVector(dim, id)
		if rec != nil {
			rec.mu.Lock()
			rec.vectors[id] = vec
			rec.mu.Unlock()
		}
		items[i] = Item{ID: id, Vector: vec}
	}
	require.NoError(t, idx.InsertBatch(context.Background(), items))
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrDimensionRequired)

	_, err = New(Config{Dimension: 8, Metric: "euclidean"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedMetric)

	idx, err := New(Config{Dimension: 8}, nil)
	require.NoError(t, err)
	cfg := idx.Config()
	assert.Equal(t, MetricCosine, cfg.Metric)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultRecomputeLatency, cfg.MaxRecomputeLatency)
}

func TestInsertDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 8}, nil)
	err := idx.Insert(context.Background(), 1, make([]float32, 4))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestInsertDuplicateID(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 8}, nil)
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, 1, unitVector(8, 1)))
	err := idx.Insert(ctx, 1, unitVector(8, 2))
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, idx.Count())
}

func TestSelfMatchSimilarity(t *testing.T) {
	dim := 16
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 8}, rec)
	insertAll(t, idx, rec, 32, dim)

	// Searching with an indexed vector must rank its own id first with
	// similarity ~1.0.
	for _, id := range []int64{1, 7, 25} {
		resp, err := idx.Search(context.Background(), unitVector(dim, id), 1, nil)
		require.NoError(t, err)
		require.NotEmpty(t, resp.Results)
		assert.Equal(t, id, resp.Results[0].ID)
		assert.InDelta(t, 1.0, resp.Results[0].Similarity, 1e-4)
	}
}

func TestSearchKPrefixMonotonicity(t *testing.T) {
	dim := 16
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 16}, rec)
	insertAll(t, idx, rec, 64, dim)

	q := unitVector(dim, 999)
	opts := &SearchOptions{Exhaustive: true}

	prev, err := idx.Search(context.Background(), q, 3, opts)
	require.NoError(t, err)
	next, err := idx.Search(context.Background(), q, 10, opts)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(next.Results), len(prev.Results))
	for i := range prev.Results {
		assert.Equal(t, prev.Results[i].ID, next.Results[i].ID)
	}
	for i := 1; i < len(next.Results); i++ {
		assert.GreaterOrEqual(t, next.Results[i-1].Similarity, next.Results[i].Similarity)
	}
}

func TestGraphSearchKPrefixMonotonicity(t *testing.T) {
	dim := 16
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 8, EFSearch: 8}, rec)
	insertAll(t, idx, rec, 8, dim)
	idx.Flush()

	q := unitVector(dim, 999)

	// Graph traversal sizes its frontier as max(EFSearch, k), so exercise
	// k below, at, and above EFSearch.
	var prev *SearchResponse
	for _, k := range []int{3, 8, 16} {
		resp, err := idx.Search(context.Background(), q, k, nil)
		require.NoError(t, err)
		if prev != nil {
			require.GreaterOrEqual(t, len(resp.Results), len(prev.Results))
			got := make(map[int64]struct{}, len(resp.Results))
			for _, r := range resp.Results {
				got[r.ID] = struct{}{}
			}
			for _, r := range prev.Results {
				assert.Contains(t, got, r.ID, "k=%d dropped id %d returned at smaller k", k, r.ID)
			}
		}
		prev = resp
	}
}

func TestSearchInvalidInputs(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 8}, nil)

	_, err := idx.Search(context.Background(), unitVector(8, 1), 0, nil)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = idx.Search(context.Background(), make([]float32, 3), 5, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 8}, nil)
	resp, err := idx.Search(context.Background(), unitVector(8, 1), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Approximate)
}

func TestZeroBudgetHubOnly(t *testing.T) {
	dim := 16
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 16, RecomputeCacheSize: 1}, rec)
	insertAll(t, idx, rec, 64, dim)
	idx.Flush()

	before := rec.callCount()
	zero := time.Duration(0)
	resp, err := idx.Search(context.Background(), unitVector(dim, 5), 10, &SearchOptions{Budget: &zero})
	require.NoError(t, err)

	// Zero budget means zero provider calls; only hub-cached embeddings
	// are scored.
	assert.Equal(t, before, rec.callCount())
	assert.Zero(t, resp.RecomputeCalls)

	stats := idx.Stats()
	for _, r := range resp.Results {
		assert.True(t, idx.hubs.Has(r.ID), "result %d should be a hub", r.ID)
	}
	assert.LessOrEqual(t, len(resp.Results), stats.Hubs)
}

func TestBudgetExhaustionReturnsPartial(t *testing.T) {
	dim := 16
	rec := newMockRecomputer()
	rec.delay = 2 * time.Millisecond
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 16, RecomputeCacheSize: 1}, rec)
	insertAll(t, idx, rec, 64, dim)
	idx.Flush()

	budget := 3 * time.Millisecond
	resp, err := idx.Search(context.Background(), unitVector(dim, 999), 32, &SearchOptions{Exhaustive: true, Budget: &budget})
	require.NoError(t, err)

	assert.True(t, resp.Approximate)
	assert.Greater(t, resp.RecomputeCalls, 0)
	// Hubs plus at most a couple of charged calls, never the full set.
	assert.Less(t, resp.RecomputeCalls, 64)
}

func TestRecomputeFailureSkipsNode(t *testing.T) {
	dim := 8
	rec := newMockRecomputer()
	rec.err = errors.New("provider down")
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 4, RecomputeCacheSize: 1}, rec)
	insertAll(t, idx, rec, 16, dim)
	idx.Flush()

	resp, err := idx.Search(context.Background(), unitVector(dim, 3), 16, &SearchOptions{Exhaustive: true})
	require.NoError(t, err)

	// Failed recomputes drop the node from this result set but the
	// search itself succeeds on the hub-cached remainder.
	stats := idx.Stats()
	assert.LessOrEqual(t, len(resp.Results), stats.Hubs)
}

func TestDeleteSemantics(t *testing.T) {
	dim := 8
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 8}, rec)
	insertAll(t, idx, rec, 24, dim)
	idx.Flush()

	ctx := context.Background()
	require.NoError(t, idx.Delete(ctx, 5))
	assert.Equal(t, 23, idx.Count())

	err := idx.Delete(ctx, 5)
	assert.ErrorIs(t, err, ErrNotFound)
	err = idx.Delete(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleted ids never resurface in results.
	resp, err := idx.Search(ctx, unitVector(dim, 5), 24, &SearchOptions{Exhaustive: true})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, int64(5), r.ID)
	}

	// A deleted id can be re-indexed.
	require.NoError(t, idx.Insert(ctx, 5, unitVector(dim, 500)))
	assert.Equal(t, 24, idx.Count())
}

func TestDeletePreservesNeighborConnectivity(t *testing.T) {
	dim := 8
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 8}, rec)
	insertAll(t, idx, rec, 32, dim)
	idx.Flush()

	ctx := context.Background()
	for _, id := range []int64{1, 2, 3, 4} {
		require.NoError(t, idx.Delete(ctx, id))
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, n := range idx.nodes {
		if n.tombstone {
			continue
		}
		assert.Positive(t, n.degree(), "node %d orphaned by delete", id)
		for _, e := range n.neighbors {
			assert.NotContains(t, []int64{1, 2, 3, 4}, e.id, "node %d keeps edge to deleted node", id)
		}
	}
}

func TestHubFractionConvergence(t *testing.T) {
	dim := 24
	ratio := 0.2
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{
		Dimension:     dim,
		BatchSize:     64,
		HubCacheRatio: ratio,
	}, rec)
	insertAll(t, idx, rec, 512, dim)
	idx.Flush()

	stats := idx.Stats()
	assert.Equal(t, 512, stats.Nodes)
	assert.InDelta(t, ratio, stats.HubFraction, 0.1)
	assert.Positive(t, stats.HubDegreeThreshold)
}

func TestPruningBoundsDegree(t *testing.T) {
	dim := 16
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{
		Dimension:         dim,
		BatchSize:         32,
		MaxNeighbors:      8,
		GraphPruningRatio: 0.5,
	}, rec)
	insertAll(t, idx, rec, 128, dim)
	idx.Flush()

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, n := range idx.nodes {
		if n.tombstone {
			continue
		}
		// Each pass keeps ceil(ratio * candidates); candidates are
		// bounded by prior degree plus incoming links accrued since.
		assert.Positive(t, n.degree(), "node %d has no edges", id)
		seen := make(map[int64]struct{})
		for _, e := range n.neighbors {
			assert.NotEqual(t, id, e.id, "self edge on %d", id)
			_, dup := seen[e.id]
			assert.False(t, dup, "duplicate edge on %d", id)
			seen[e.id] = struct{}{}
		}
	}
}

func TestStagedEmbeddingsDiscardedAfterPrune(t *testing.T) {
	dim := 8
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 16}, rec)
	insertAll(t, idx, rec, 16, dim)

	idx.mu.RLock()
	staged := len(idx.staged)
	hubs := idx.hubs.Len()
	idx.mu.RUnlock()

	assert.Zero(t, staged)
	assert.Positive(t, hubs)
}

func TestSearchTieBreaksByLowerID(t *testing.T) {
	dim := 4
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 64}, nil)
	ctx := context.Background()

	v := []float32{1, 0, 0, 0}
	require.NoError(t, idx.Insert(ctx, 2, v))
	require.NoError(t, idx.Insert(ctx, 1, v))
	require.NoError(t, idx.Insert(ctx, 3, []float32{0, 1, 0, 0}))

	resp, err := idx.Search(ctx, v, 3, &SearchOptions{Exhaustive: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, int64(1), resp.Results[0].ID)
	assert.Equal(t, int64(2), resp.Results[1].ID)
	assert.Equal(t, int64(3), resp.Results[2].ID)
}

func TestDotMetric(t *testing.T) {
	idx := newTestIndex(t, Config{Dimension: 3, Metric: MetricDot, BatchSize: 64}, nil)
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, 1, []float32{0.9, 0, 0}))
	require.NoError(t, idx.Insert(ctx, 2, []float32{0.3, 0, 0}))

	resp, err := idx.Search(ctx, []float32{1, 0, 0}, 2, &SearchOptions{Exhaustive: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, int64(1), resp.Results[0].ID)
	assert.InDelta(t, 0.9, resp.Results[0].Similarity, 1e-5)
}

func TestCompactHubPrecision(t *testing.T) {
	dim := 16
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 8, CompactHubs: true}, rec)
	insertAll(t, idx, rec, 32, dim)
	idx.Flush()

	resp, err := idx.Search(context.Background(), unitVector(dim, 3), 1, &SearchOptions{Exhaustive: true})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, int64(3), resp.Results[0].ID)
	// float16 storage costs roughly three decimal digits.
	assert.InDelta(t, 1.0, resp.Results[0].Similarity, 1e-2)
}

func TestConcurrentSearchDuringInserts(t *testing.T) {
	dim := 16
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 16}, rec)
	insertAll(t, idx, rec, 64, dim)

	ctx := context.Background()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 64; i++ {
			id := int64(1000 + i)
			vec := unitVector(dim, id)
			rec.mu.Lock()
			rec.vectors[id] = vec
			rec.mu.Unlock()
			_ = idx.Insert(ctx, id, vec)
		}
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			for i := 0; i < 16; i++ {
				_, err := idx.Search(ctx, unitVector(dim, seed*100+int64(i)), 5, nil)
				assert.NoError(t, err)
			}
		}(int64(w + 1))
	}

	wg.Wait()
	assert.Equal(t, 128, idx.Count())
}

func TestSnapshotRoundTrip(t *testing.T) {
	dim := 16
	rec := newMockRecomputer()
	idx := newTestIndex(t, Config{Dimension: dim, BatchSize: 16}, rec)
	insertAll(t, idx, rec, 64, dim)
	require.NoError(t, idx.Delete(context.Background(), 7))

	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, idx.SaveFile(path))

	restored := newTestIndex(t, Config{Dimension: dim, BatchSize: 16}, rec)
	require.NoError(t, restored.LoadFile(path))

	want := idx.Stats()
	got := restored.Stats()
	assert.Equal(t, want.Nodes, got.Nodes)
	assert.Equal(t, want.Hubs, got.Hubs)
	assert.Equal(t, want.Tombstones, got.Tombstones)

	// Hub embeddings round-trip within float32 rounding.
	q := unitVector(dim, 3)
	a, err := idx.Search(context.Background(), q, 5, nil)
	require.NoError(t, err)
	b, err := restored.Search(context.Background(), q, 5, nil)
	require.NoError(t, err)
	require.Equal(t, len(a.Results), len(b.Results))
	for i := range a.Results {
		assert.Equal(t, a.Results[i].ID, b.Results[i].ID)
		assert.InDelta(t, a.Results[i].Similarity, b.Results[i].Similarity, 1e-6)
	}
}

func TestLoadFileCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	idx := newTestIndex(t, Config{Dimension: 8}, nil)
	err := idx.LoadFile(path)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestRestoreDimensionMismatch(t *testing.T) {
	rec := newMockRecomputer()
	src := newTestIndex(t, Config{Dimension: 16}, rec)
	insertAll(t, src, rec, 8, 16)

	dst := newTestIndex(t, Config{Dimension: 8}, nil)
	err := dst.Restore(src.Snapshot())
	assert.ErrorIs(t, err, ErrSnapshotDimension)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)

	zero := []float32{0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
