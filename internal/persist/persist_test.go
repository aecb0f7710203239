package persist

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubgrep/hubgrep-mcp/internal/vecindex"
)

const testDim = 16

func testVectors() map[int64][]float32 {
	rng := rand.New(rand.NewSource(11))
	vectors := make(map[int64][]float32)
	for id := int64(1); id <= 24; id++ {
		v := make([]float32, testDim)
		for i := range v {
			v[i] = float32(rng.NormFloat64())
		}
		vecindex.Normalize(v)
		vectors[id] = v
	}
	return vectors
}

func newTestIndex(t *testing.T, vectors map[int64][]float32) *vecindex.Index {
	t.Helper()
	idx, err := vecindex.New(vecindex.Config{Dimension: testDim, BatchSize: 8},
		func(ctx context.Context, id int64) ([]float32, error) {
			v, ok := vectors[id]
			if !ok {
				return nil, vecindex.ErrNotFound
			}
			return v, nil
		})
	require.NoError(t, err)
	return idx
}

func populate(t *testing.T, idx *vecindex.Index, vectors map[int64][]float32) {
	t.Helper()
	ctx := context.Background()
	for id := int64(1); id <= int64(len(vectors)); id++ {
		require.NoError(t, idx.Insert(ctx, id, vectors[id]))
	}
	idx.Flush()
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	vectors := testVectors()
	path := filepath.Join(t.TempDir(), "index.json")

	idx := newTestIndex(t, vectors)
	populate(t, idx, vectors)

	m := NewManager(idx, path, nil)
	require.NoError(t, m.Save())
	assert.False(t, m.LastSavedAt().IsZero())

	restored := newTestIndex(t, vectors)
	m2 := NewManager(restored, path, nil)
	require.NoError(t, m2.Load())
	assert.Equal(t, idx.Count(), restored.Count())

	resp, err := restored.Search(context.Background(), vectors[3], 1, nil)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, int64(3), resp.Results[0].ID)
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	vectors := testVectors()
	idx := newTestIndex(t, vectors)

	m := NewManager(idx, filepath.Join(t.TempDir(), "absent.json"), nil)
	require.NoError(t, m.Load())
	assert.Zero(t, idx.Count())
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	vectors := testVectors()
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{definitely not json"), 0o644))

	idx := newTestIndex(t, vectors)
	m := NewManager(idx, path, nil)
	require.NoError(t, m.Load())
	assert.Zero(t, idx.Count())
}

func TestEmptyIndexNeverClobbersSnapshot(t *testing.T) {
	vectors := testVectors()
	path := filepath.Join(t.TempDir(), "index.json")

	full := newTestIndex(t, vectors)
	populate(t, full, vectors)
	require.NoError(t, NewManager(full, path, nil).Save())

	empty := newTestIndex(t, vectors)
	err := NewManager(empty, path, nil).Save()
	assert.ErrorIs(t, err, ErrEmptyIndexGuard)

	// The populated snapshot is intact.
	restored := newTestIndex(t, vectors)
	require.NoError(t, NewManager(restored, path, nil).Load())
	assert.Equal(t, full.Count(), restored.Count())
}

func TestEmptySaveAllowedOverEmptyFile(t *testing.T) {
	vectors := testVectors()
	path := filepath.Join(t.TempDir(), "index.json")

	empty := newTestIndex(t, vectors)
	m := NewManager(empty, path, nil)
	require.NoError(t, m.Save())

	// And again over the empty snapshot it just wrote.
	require.NoError(t, m.Save())
}

func TestStopSavesOnce(t *testing.T) {
	vectors := testVectors()
	path := filepath.Join(t.TempDir(), "index.json")

	idx := newTestIndex(t, vectors)
	populate(t, idx, vectors)

	m := NewManager(idx, path, nil)
	require.NoError(t, m.StartAutoSave(time.Hour))
	require.NoError(t, m.Stop())

	restored := newTestIndex(t, vectors)
	require.NoError(t, NewManager(restored, path, nil).Load())
	assert.Equal(t, idx.Count(), restored.Count())
}

func TestStopWithEmptyIndexIsClean(t *testing.T) {
	vectors := testVectors()
	path := filepath.Join(t.TempDir(), "index.json")

	full := newTestIndex(t, vectors)
	populate(t, full, vectors)
	require.NoError(t, NewManager(full, path, nil).Save())

	// A consumer that indexed nothing shuts down without wiping the file.
	empty := newTestIndex(t, vectors)
	m := NewManager(empty, path, nil)
	require.NoError(t, m.StartAutoSave(time.Hour))
	require.NoError(t, m.Stop())

	restored := newTestIndex(t, vectors)
	require.NoError(t, NewManager(restored, path, nil).Load())
	assert.Equal(t, full.Count(), restored.Count())
}
