package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubgrep/hubgrep-mcp/internal/embedder"
	"github.com/hubgrep/hubgrep-mcp/internal/storage"
	"github.com/hubgrep/hubgrep-mcp/internal/vecindex"
	"github.com/hubgrep/hubgrep-mcp/pkg/types"
)

const goSource = `package calc

// Add returns the sum of two integers.
func Add(a, b int) int {
	return a + b
}

// Multiply returns the product of two integers.
func Multiply(a, b int) int {
	return a * b
}
`

const pySource = `def parse_config(path):
    with open(path) as f:
        return f.read()

def reverse_list(items):
    return items[::-1]
`

type testEnv struct {
	indexer *Indexer
	store   storage.Storage
	index   *vecindex.Index
	emb     embedder.Embedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal, CacheSize: 256})
	require.NoError(t, err)

	index, err := vecindex.New(vecindex.Config{
		Dimension: embedder.LocalDimension,
		BatchSize: 16,
	}, NewRecomputer(store, emb))
	require.NoError(t, err)

	return &testEnv{
		indexer: New(store, emb, index, nil),
		store:   store,
		index:   index,
		emb:     emb,
	}
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestIndexRepository(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{
		"calc/calc.go": goSource,
		"util.py":      pySource,
	})

	stats, err := env.indexer.IndexRepository(context.Background(), root, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 2, stats.FilesDiscovered)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Zero(t, stats.FilesFailed)
	assert.GreaterOrEqual(t, stats.SnippetsIndexed, 4)
	assert.Empty(t, stats.ErrorMessages)

	count, err := env.store.CountSnippets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stats.SnippetsIndexed, count)
	assert.Equal(t, count, env.index.Count())

	repo, err := env.store.GetRepository(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.TotalFiles)
	assert.Equal(t, count, repo.TotalSnippets)
	assert.Equal(t, stats.RunID, repo.LastRunID)
}

func TestIndexRepositorySkipsUnchanged(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{"calc.go": goSource})

	_, err := env.indexer.IndexRepository(context.Background(), root, nil)
	require.NoError(t, err)

	stats, err := env.indexer.IndexRepository(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesSkipped)
	assert.Zero(t, stats.FilesIndexed)
	assert.Zero(t, stats.SnippetsIndexed)
}

func TestIndexRepositoryRecordsPerFileFailures(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{"calc.go": goSource})
	require.NoError(t, os.Symlink(filepath.Join(root, "missing.go"), filepath.Join(root, "broken.go")))

	stats, err := env.indexer.IndexRepository(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.FilesDiscovered)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "broken.go")
}

// flakyEmbedder fails EmbedBatch a fixed number of times, then delegates
type flakyEmbedder struct {
	embedder.Embedder
	failures int
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*embedder.Embedding, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("provider unavailable")
	}
	return f.Embedder.EmbedBatch(ctx, texts)
}

func TestIndexRepositoryRetriesAfterEmbedFailure(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal, CacheSize: 256})
	require.NoError(t, err)
	flaky := &flakyEmbedder{Embedder: emb, failures: 1}

	index, err := vecindex.New(vecindex.Config{
		Dimension: embedder.LocalDimension,
		BatchSize: 16,
	}, NewRecomputer(store, emb))
	require.NoError(t, err)

	ix := New(store, flaky, index, nil)
	root := writeRepo(t, map[string]string{"calc.go": goSource})
	ctx := context.Background()

	stats, err := ix.IndexRepository(ctx, root, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Zero(t, stats.SnippetsIndexed)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "calc.go")

	// The failed file leaves nothing behind: no orphan snippet rows, no
	// vectors, no recorded content hash.
	count, err := store.CountSnippets(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, index.Count())

	repo, err := store.GetRepository(ctx, root)
	require.NoError(t, err)
	_, err = store.GetFile(ctx, repo.ID, "calc.go")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Once the provider recovers, the unchanged file is retried rather
	// than skipped by the hash check.
	stats, err = ix.IndexRepository(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Zero(t, stats.FilesSkipped)
	assert.Zero(t, stats.FilesFailed)
	assert.GreaterOrEqual(t, stats.SnippetsIndexed, 2)
	assert.Equal(t, stats.SnippetsIndexed, index.Count())
}

func TestIndexRepositoryReplacesChangedFile(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{"calc.go": goSource})
	ctx := context.Background()

	first, err := env.indexer.IndexRepository(ctx, root, nil)
	require.NoError(t, err)

	changed := goSource + "\n// Square returns n squared.\nfunc Square(n int) int {\n\treturn n * n\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.go"), []byte(changed), 0o644))

	second, err := env.indexer.IndexRepository(ctx, root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.FilesIndexed)
	assert.Equal(t, first.SnippetsIndexed, second.SnippetsRemoved)
	assert.Equal(t, first.SnippetsIndexed+1, second.SnippetsIndexed)

	count, err := env.store.CountSnippets(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.SnippetsIndexed, count)
	assert.Equal(t, count, env.index.Count())
}

func TestIndexRepositoryForceReindex(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{"calc.go": goSource})
	ctx := context.Background()

	_, err := env.indexer.IndexRepository(ctx, root, nil)
	require.NoError(t, err)

	stats, err := env.indexer.IndexRepository(ctx, root, &Config{ForceReindex: true, IncludeTests: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Zero(t, stats.FilesSkipped)
}

func TestIndexRepositorySkipsHiddenAndVendor(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{
		"main.go":           goSource,
		".git/hook.py":      pySource,
		"vendor/dep/dep.go": goSource,
	})

	stats, err := env.indexer.IndexRepository(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesDiscovered)
}

func TestIndexRepositoryLanguageFilter(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{
		"calc.go": goSource,
		"util.py": pySource,
	})

	stats, err := env.indexer.IndexRepository(context.Background(), root, &Config{
		Languages:    []types.Language{types.LangPython},
		IncludeTests: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesDiscovered)
	assert.Equal(t, 1, stats.FilesIndexed)

	ids, err := env.store.ListSnippetIDs(context.Background())
	require.NoError(t, err)
	for _, id := range ids {
		s, err := env.store.GetSnippet(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, types.LangPython, types.Language(s.Language))
	}
}

func TestIndexRepositoryExcludesTests(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{
		"calc.go":      goSource,
		"calc_test.go": goSource,
	})

	stats, err := env.indexer.IndexRepository(context.Background(), root, &Config{IncludeTests: false})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesDiscovered)
}

func TestIndexRepositoryConcurrentRunsRejected(t *testing.T) {
	env := newTestEnv(t)
	require.True(t, env.indexer.lock.TryAcquire())
	defer env.indexer.lock.Release()

	_, err := env.indexer.IndexRepository(context.Background(), t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrIndexingInProgress)
}

func TestIndexCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.indexer.IndexCode(ctx, "func hello() string { return \"hi\" }", types.CodeMetadata{
		FilePath:   "adhoc.go",
		StartLine:  1,
		SymbolName: "hello",
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	snippet, err := env.store.GetSnippet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.LangGo, types.Language(snippet.Language))
	assert.Equal(t, 1, env.index.Count())
}

func TestIndexCodeEmpty(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.indexer.IndexCode(context.Background(), "   \n\t", types.CodeMetadata{FilePath: "x.go"})
	assert.ErrorIs(t, err, ErrEmptySnippet)
}

func TestDeleteSnippet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.indexer.IndexCode(ctx, "func gone() {}", types.CodeMetadata{FilePath: "gone.go", StartLine: 1})
	require.NoError(t, err)

	require.NoError(t, env.indexer.DeleteSnippet(ctx, id))
	_, err = env.store.GetSnippet(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, env.index.Count())

	// Deleting twice surfaces the storage miss.
	err = env.indexer.DeleteSnippet(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRemoveFile(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{"calc.go": goSource})
	ctx := context.Background()

	stats, err := env.indexer.IndexRepository(ctx, root, nil)
	require.NoError(t, err)

	removed, err := env.indexer.RemoveFile(ctx, root, "calc.go")
	require.NoError(t, err)
	assert.Equal(t, stats.SnippetsIndexed, removed)

	count, err := env.store.CountSnippets(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, env.index.Count())
}

func TestRecomputerFetchesAndEmbeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	snippet := storage.FromMetadata(types.CodeMetadata{
		FilePath:   "r.go",
		StartLine:  1,
		EndLine:    1,
		Language:   types.LangGo,
		SymbolType: types.SymbolFunction,
		SymbolName: "recompute",
	}, "func recompute() {}")
	require.NoError(t, env.store.InsertSnippet(ctx, snippet))

	rec := NewRecomputer(env.store, env.emb)
	vec, err := rec(ctx, snippet.ID)
	require.NoError(t, err)
	assert.Len(t, vec, embedder.LocalDimension)

	direct, err := env.emb.EmbedCode(ctx, "func recompute() {}")
	require.NoError(t, err)
	assert.Equal(t, direct.Vector, vec)

	_, err = rec(ctx, 99999)
	assert.Error(t, err)
}

func TestIndexLock(t *testing.T) {
	var lock IndexLock
	assert.False(t, lock.Held())
	assert.True(t, lock.TryAcquire())
	assert.True(t, lock.Held())
	assert.False(t, lock.TryAcquire())
	lock.Release()
	assert.True(t, lock.TryAcquire())
	lock.Release()
}

func TestIsTestFile(t *testing.T) {
	cases := map[string]bool{
		"calc_test.go":   true,
		"widget.spec.ts": true,
		"app.test.js":    true,
		"test_parser.py": true,
		"calc.go":        false,
		"tester.go":      false,
	}
	for name, want := range cases {
		assert.Equal(t, want, isTestFile(name), name)
	}
}

func TestWatcherReindexesOnWrite(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{"calc.go": goSource})
	ctx := context.Background()

	_, err := env.indexer.IndexRepository(ctx, root, nil)
	require.NoError(t, err)

	w, err := NewWatcher(env.indexer, root, nil)
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	w.Start(ctx)
	defer w.Stop()

	changed := goSource + "\nfunc Extra() {}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.go"), []byte(changed), 0o644))

	require.Eventually(t, func() bool {
		ids, err := env.store.ListSnippetIDs(context.Background())
		if err != nil {
			return false
		}
		for _, id := range ids {
			s, err := env.store.GetSnippet(context.Background(), id)
			if err == nil && s.SymbolName == "Extra" {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcherRemovesDeletedFile(t *testing.T) {
	env := newTestEnv(t)
	root := writeRepo(t, map[string]string{"calc.go": goSource, "keep.py": pySource})
	ctx := context.Background()

	_, err := env.indexer.IndexRepository(ctx, root, nil)
	require.NoError(t, err)

	w, err := NewWatcher(env.indexer, root, nil)
	require.NoError(t, err)
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.Remove(filepath.Join(root, "calc.go")))

	require.Eventually(t, func() bool {
		_, err := env.store.GetFile(context.Background(), 1, "calc.go")
		return errors.Is(err, storage.ErrNotFound)
	}, 5*time.Second, 50*time.Millisecond)
}
