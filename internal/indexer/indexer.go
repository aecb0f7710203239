package indexer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hubgrep/hubgrep-mcp/internal/chunker"
	"github.com/hubgrep/hubgrep-mcp/internal/embedder"
	"github.com/hubgrep/hubgrep-mcp/internal/storage"
	"github.com/hubgrep/hubgrep-mcp/internal/vecindex"
	"github.com/hubgrep/hubgrep-mcp/pkg/types"
)

// ErrIndexingInProgress is returned when an indexing run is already active
var ErrIndexingInProgress = errors.New("indexing already in progress")

// ErrEmptySnippet is returned when IndexCode gets whitespace-only input
var ErrEmptySnippet = errors.New("snippet content is empty")

// MaxFileSize skips files larger than this during discovery
const MaxFileSize = 1 << 20 // 1 MiB

// Indexer coordinates the pipeline: discover -> chunk -> embed -> index.
// Snippet rows are written to storage first so their ids can serve as
// vector ids, then embeddings are generated in batches and inserted into
// the in-memory index.
type Indexer struct {
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	store    storage.Storage
	index    *vecindex.Index
	logger   *zap.Logger

	workers    int
	embedBatch int
	lock       IndexLock
}

// Config tunes an indexing run
type Config struct {
	Workers       int              // concurrent file readers (default: runtime.NumCPU())
	EmbedBatch    int              // snippets per embedding call (default: 32)
	Languages     []types.Language // restrict the run to these languages (default: all supported)
	ForceReindex  bool             // ignore content hashes and reprocess every file
	IncludeTests  bool             // index files matching *_test.* and test_* (default: true)
	IncludeVendor bool             // descend into vendor/ and node_modules/ (default: false)
}

// Statistics summarizes an indexing run
type Statistics struct {
	RunID           string
	FilesDiscovered int
	FilesIndexed    int
	FilesSkipped    int
	FilesFailed     int
	SnippetsIndexed int
	SnippetsRemoved int
	Duration        time.Duration
	ErrorMessages   []string
}

// New creates an Indexer
func New(store storage.Storage, emb embedder.Embedder, index *vecindex.Index, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		chunker:  chunker.New(),
		embedder: emb,
		store:    store,
		index:    index,
		logger:   logger,
		workers:  runtime.NumCPU(),
	}
}

// fileWork is the parse/chunk result for one changed file
type fileWork struct {
	relPath string
	file    *storage.File
	chunks  []*chunker.Chunk
	skipped bool
}

// IndexRepository walks rootPath and indexes every supported source file.
// Unchanged files (by content hash) are skipped unless ForceReindex is
// set. Per-file failures are collected into the statistics; only pipeline
// failures (storage, context) abort the run.
func (idx *Indexer) IndexRepository(ctx context.Context, rootPath string, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	if config == nil {
		config = &Config{IncludeTests: true}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = idx.workers
	}
	embedBatch := config.EmbedBatch
	if embedBatch <= 0 {
		embedBatch = 32
	}
	if embedBatch > embedder.MaxBatchSize {
		embedBatch = embedder.MaxBatchSize
	}

	start := time.Now()
	stats := &Statistics{RunID: uuid.NewString()}

	rootPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, err
	}

	repo, err := idx.getOrCreateRepository(ctx, rootPath, stats.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create repository: %w", err)
	}

	files, err := idx.discoverFiles(rootPath, config)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	stats.FilesDiscovered = len(files)

	idx.logger.Info("indexing repository",
		zap.String("root", rootPath),
		zap.String("run_id", stats.RunID),
		zap.Int("files", len(files)),
		zap.Int("workers", workers))

	// Stage 1: read, hash, and chunk files in parallel.
	work, err := idx.chunkFiles(ctx, repo, files, rootPath, workers, config.ForceReindex, stats)
	if err != nil {
		return nil, err
	}

	// Stage 2: persist snippets and feed the vector index serially; the
	// store hands out the row ids the index needs.
	if err := idx.storeAndEmbed(ctx, repo, work, embedBatch, stats); err != nil {
		return nil, err
	}
	idx.index.Flush()

	if err := idx.updateRepositoryStats(ctx, repo, stats.RunID); err != nil {
		return nil, fmt.Errorf("failed to update repository stats: %w", err)
	}

	stats.Duration = time.Since(start)
	idx.logger.Info("indexing complete",
		zap.String("run_id", stats.RunID),
		zap.Int("indexed", stats.FilesIndexed),
		zap.Int("skipped", stats.FilesSkipped),
		zap.Int("failed", stats.FilesFailed),
		zap.Int("snippets", stats.SnippetsIndexed),
		zap.Duration("took", stats.Duration))
	return stats, nil
}

// IndexCode indexes a single ad-hoc snippet and returns its id
func (idx *Indexer) IndexCode(ctx context.Context, code string, md types.CodeMetadata) (int64, error) {
	if strings.TrimSpace(code) == "" {
		return 0, ErrEmptySnippet
	}
	if md.Language == "" {
		md.Language = types.LanguageForPath(md.FilePath)
	}
	if md.SymbolType == "" {
		md.SymbolType = types.SymbolBlock
	}
	if md.StartLine <= 0 {
		md.StartLine = 1
	}
	if md.EndLine < md.StartLine {
		md.EndLine = md.StartLine + strings.Count(code, "\n")
	}
	md.ContentHash = types.HashContent(code)
	if err := md.Validate(); err != nil {
		return 0, err
	}

	snippet := storage.FromMetadata(md, code)
	if err := idx.store.InsertSnippet(ctx, snippet); err != nil {
		return 0, err
	}

	emb, err := idx.embedder.EmbedCode(ctx, code)
	if err != nil {
		// Roll the row back so storage and index stay consistent.
		_ = idx.store.DeleteSnippet(ctx, snippet.ID)
		return 0, fmt.Errorf("failed to embed snippet: %w", err)
	}

	if err := idx.index.Insert(ctx, snippet.ID, emb.Vector); err != nil {
		_ = idx.store.DeleteSnippet(ctx, snippet.ID)
		return 0, fmt.Errorf("failed to index snippet: %w", err)
	}
	return snippet.ID, nil
}

// DeleteSnippet removes a snippet from both storage and the vector index
func (idx *Indexer) DeleteSnippet(ctx context.Context, id int64) error {
	if err := idx.store.DeleteSnippet(ctx, id); err != nil {
		return err
	}
	if err := idx.index.Delete(ctx, id); err != nil && !errors.Is(err, vecindex.ErrNotFound) {
		return err
	}
	return nil
}

// RemoveFile drops a file's snippets from storage and the index. Used by
// the watcher when a file disappears.
func (idx *Indexer) RemoveFile(ctx context.Context, repositoryRoot, relPath string) (int, error) {
	repo, err := idx.store.GetRepository(ctx, repositoryRoot)
	if err != nil {
		return 0, err
	}
	file, err := idx.store.GetFile(ctx, repo.ID, relPath)
	if err != nil {
		return 0, err
	}

	ids, err := idx.store.DeleteSnippetsByFile(ctx, file.ID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := idx.index.Delete(ctx, id); err != nil && !errors.Is(err, vecindex.ErrNotFound) {
			return 0, err
		}
	}
	if err := idx.store.DeleteFile(ctx, file.ID); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// getOrCreateRepository retrieves an existing repository row or creates one
func (idx *Indexer) getOrCreateRepository(ctx context.Context, rootPath, runID string) (*storage.Repository, error) {
	repo, err := idx.store.GetRepository(ctx, rootPath)
	if err == nil {
		repo.LastRunID = runID
		return repo, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	repo = &storage.Repository{
		RootPath:  rootPath,
		Name:      filepath.Base(rootPath),
		LastRunID: runID,
	}
	if err := idx.store.CreateRepository(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// discoverFiles finds all supported source files under rootPath
func (idx *Indexer) discoverFiles(rootPath string, config *Config) ([]string, error) {
	var files []string

	err := filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			name := info.Name()
			if strings.HasPrefix(name, ".") && path != rootPath {
				return filepath.SkipDir
			}
			if !config.IncludeVendor && (name == "vendor" || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Size() > MaxFileSize {
			return nil
		}
		lang := types.LanguageForPath(path)
		if lang == types.LangUnknown {
			return nil
		}
		if len(config.Languages) > 0 && !languageAllowed(config.Languages, lang) {
			return nil
		}
		if !config.IncludeTests && isTestFile(filepath.Base(path)) {
			return nil
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

func languageAllowed(allowed []types.Language, lang types.Language) bool {
	for _, l := range allowed {
		if l == lang {
			return true
		}
	}
	return false
}

func isTestFile(name string) bool {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.HasSuffix(base, "_test") || strings.HasSuffix(base, ".test") ||
		strings.HasSuffix(base, ".spec") || strings.HasPrefix(base, "test_")
}

// chunkFiles runs stage 1 of the pipeline concurrently
func (idx *Indexer) chunkFiles(ctx context.Context, repo *storage.Repository, files []string,
	rootPath string, workers int, force bool, stats *Statistics) ([]*fileWork, error) {

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	work := make([]*fileWork, 0, len(files))

	recordError := func(path string, err error) {
		mu.Lock()
		defer mu.Unlock()
		stats.FilesFailed++
		stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
	}

	for _, filePath := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			w, err := idx.chunkOne(gctx, repo, rootPath, filePath, force)
			if err != nil {
				recordError(filePath, err)
				idx.logger.Warn("failed to chunk file", zap.String("path", filePath), zap.Error(err))
				return nil // per-file failures don't abort the run
			}

			mu.Lock()
			defer mu.Unlock()
			if w.skipped {
				stats.FilesSkipped++
				return nil
			}
			work = append(work, w)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return work, nil
}

// chunkOne reads, hashes, and chunks a single file
func (idx *Indexer) chunkOne(ctx context.Context, repo *storage.Repository, rootPath, filePath string, force bool) (*fileWork, error) {
	relPath, err := filepath.Rel(rootPath, filePath)
	if err != nil {
		return nil, err
	}

	hash, modTime, size, content, err := readAndHash(filePath)
	if err != nil {
		return nil, err
	}

	if !force {
		existing, err := idx.store.GetFile(ctx, repo.ID, relPath)
		if err == nil && existing.ContentHash == hash {
			return &fileWork{relPath: relPath, skipped: true}, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	chunks, err := idx.chunker.ChunkSource(relPath, string(content))
	if err != nil {
		return nil, err
	}

	return &fileWork{
		relPath: relPath,
		file: &storage.File{
			RepositoryID: repo.ID,
			FilePath:     relPath,
			Language:     string(types.LanguageForPath(relPath)),
			ContentHash:  hash,
			ModTime:      modTime,
			SizeBytes:    size,
			SnippetCount: len(chunks),
		},
		chunks: chunks,
	}, nil
}

// storeAndEmbed runs stage 2: persist snippet rows, embed their content in
// batches, and insert the vectors into the index. A failed embedding batch
// marks every file with snippets in it as failed; failed files are rolled
// back at the end of the run (rows, vectors, and the file hash) so the
// next run retries them instead of skipping them as unchanged.
func (idx *Indexer) storeAndEmbed(ctx context.Context, repo *storage.Repository, work []*fileWork, embedBatch int, stats *Statistics) error {
	type fileState struct {
		work    *fileWork
		indexed int
		err     error
	}
	type pending struct {
		id      int64
		content string
		fs      *fileState
	}
	var queue []pending

	flush := func() error {
		if len(queue) == 0 {
			return nil
		}
		texts := make([]string, len(queue))
		for i, p := range queue {
			texts[i] = p.content
		}

		embeddings, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			for _, p := range queue {
				if p.fs.err == nil {
					p.fs.err = err
				}
			}
			queue = queue[:0]
			return nil // affected files are rolled back after the loop
		}

		items := make([]vecindex.Item, len(queue))
		for i, p := range queue {
			items[i] = vecindex.Item{ID: p.id, Vector: embeddings[i].Vector}
		}
		if err := idx.index.InsertBatch(ctx, items); err != nil {
			return fmt.Errorf("failed to insert vectors: %w", err)
		}
		for _, p := range queue {
			p.fs.indexed++
		}
		queue = queue[:0]
		return nil
	}

	states := make([]*fileState, 0, len(work))
	for _, w := range work {
		if err := ctx.Err(); err != nil {
			return err
		}
		fs := &fileState{work: w}
		states = append(states, fs)

		// Replacing a changed file removes its old snippets first.
		if existing, err := idx.store.GetFile(ctx, repo.ID, w.relPath); err == nil {
			removed, err := idx.store.DeleteSnippetsByFile(ctx, existing.ID)
			if err != nil {
				return fmt.Errorf("failed to remove stale snippets: %w", err)
			}
			for _, id := range removed {
				if err := idx.index.Delete(ctx, id); err != nil && !errors.Is(err, vecindex.ErrNotFound) {
					return err
				}
			}
			stats.SnippetsRemoved += len(removed)
		}

		if err := idx.store.UpsertFile(ctx, w.file); err != nil {
			return fmt.Errorf("failed to upsert file: %w", err)
		}

		for _, ch := range w.chunks {
			if fs.err != nil {
				break
			}
			md := ch.Metadata
			md.Repository = repo.RootPath
			snippet := storage.FromMetadata(md, ch.Content)
			snippet.FileID = &w.file.ID
			if err := idx.store.InsertSnippet(ctx, snippet); err != nil {
				return fmt.Errorf("failed to insert snippet: %w", err)
			}
			queue = append(queue, pending{id: snippet.ID, content: ch.Content, fs: fs})

			if len(queue) >= embedBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}

	for _, fs := range states {
		if fs.err == nil {
			stats.FilesIndexed++
			stats.SnippetsIndexed += fs.indexed
			continue
		}
		if err := idx.rollbackFile(ctx, fs.work.file); err != nil {
			return fmt.Errorf("failed to roll back %s: %w", fs.work.relPath, err)
		}
		stats.FilesFailed++
		stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", fs.work.relPath, fs.err))
		idx.logger.Warn("failed to embed file", zap.String("path", fs.work.relPath), zap.Error(fs.err))
	}
	return nil
}

// rollbackFile removes a partially indexed file's snippet rows, vectors,
// and file row, so the next run sees the file as new and retries it
func (idx *Indexer) rollbackFile(ctx context.Context, file *storage.File) error {
	ids, err := idx.store.DeleteSnippetsByFile(ctx, file.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := idx.index.Delete(ctx, id); err != nil && !errors.Is(err, vecindex.ErrNotFound) {
			return err
		}
	}
	return idx.store.DeleteFile(ctx, file.ID)
}

// updateRepositoryStats refreshes the repository row after a run
func (idx *Indexer) updateRepositoryStats(ctx context.Context, repo *storage.Repository, runID string) error {
	files, err := idx.store.ListFiles(ctx, repo.ID)
	if err != nil {
		return err
	}
	total, err := idx.store.CountSnippets(ctx)
	if err != nil {
		return err
	}

	repo.TotalFiles = len(files)
	repo.TotalSnippets = total
	repo.LastRunID = runID
	repo.LastIndexedAt = time.Now()
	return idx.store.UpdateRepository(ctx, repo)
}

// readAndHash reads a file once, returning its hash, mod time, size, and content
func readAndHash(filePath string) ([32]byte, time.Time, int64, []byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return [32]byte{}, time.Time{}, 0, nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return [32]byte{}, time.Time{}, 0, nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return [32]byte{}, time.Time{}, 0, nil, err
	}

	return sha256.Sum256(content), info.ModTime(), info.Size(), content, nil
}
