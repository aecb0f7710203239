package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hubgrep/hubgrep-mcp/pkg/types"
)

// DefaultDebounce batches rapid filesystem events before reindexing
const DefaultDebounce = 500 * time.Millisecond

// Watcher keeps an indexed repository current by reacting to filesystem
// events. Writes and creates trigger a debounced incremental reindex;
// removes and renames drop the file's snippets immediately.
type Watcher struct {
	indexer  *Indexer
	rootPath string
	logger   *zap.Logger
	debounce time.Duration

	fw     *fsnotify.Watcher
	mu     sync.Mutex
	dirty  map[string]struct{}
	timer  *time.Timer
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher over an already-indexed repository root
func NewWatcher(indexer *Indexer, rootPath string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		indexer:  indexer,
		rootPath: rootPath,
		logger:   logger,
		debounce: DefaultDebounce,
		fw:       fw,
		dirty:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	if err := w.addDirs(rootPath); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// addDirs registers rootPath and every non-hidden subdirectory. fsnotify
// watches are not recursive.
func (w *Watcher) addDirs(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		name := info.Name()
		if path != root && (strings.HasPrefix(name, ".") || name == "vendor" || name == "node_modules") {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}

// Start begins processing events until ctx is cancelled or Stop is called
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(ctx)
}

// Stop shuts the watcher down and waits for the event loop to exit
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	_ = w.fw.Close()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirs(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
	}

	if types.LanguageForPath(event.Name) == types.LangUnknown {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		rel, err := filepath.Rel(w.rootPath, event.Name)
		if err != nil {
			return
		}
		removed, err := w.indexer.RemoveFile(ctx, w.rootPath, rel)
		if err != nil {
			w.logger.Warn("failed to remove file snippets", zap.String("path", rel), zap.Error(err))
			return
		}
		w.logger.Info("file removed", zap.String("path", rel), zap.Int("snippets", removed))

	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		w.markDirty(ctx)
	}
}

// markDirty schedules a debounced incremental reindex of the repository
func (w *Watcher) markDirty(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		stats, err := w.indexer.IndexRepository(ctx, w.rootPath, nil)
		if err != nil {
			w.logger.Warn("incremental reindex failed", zap.Error(err))
			return
		}
		w.logger.Info("incremental reindex",
			zap.Int("indexed", stats.FilesIndexed),
			zap.Int("skipped", stats.FilesSkipped),
			zap.Int("snippets", stats.SnippetsIndexed))
	})
}
