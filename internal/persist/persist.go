package persist

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hubgrep/hubgrep-mcp/internal/metrics"
	"github.com/hubgrep/hubgrep-mcp/internal/vecindex"
)

// ErrEmptyIndexGuard is returned when a save would overwrite a non-empty
// snapshot file with an empty in-memory index
var ErrEmptyIndexGuard = errors.New("refusing to overwrite non-empty snapshot with empty index")

// DefaultSaveInterval drives the auto-save scheduler
const DefaultSaveInterval = 5 * time.Minute

// Manager owns snapshot lifecycle for one index: load on startup, periodic
// auto-save, and an explicit save on shutdown. Saves clone the index state
// first and write afterwards, so file I/O never holds the index lock. The
// guard against clobbering a non-empty snapshot with an empty index is the
// only cross-process safety mechanism; a short-lived consumer that never
// indexed anything cannot wipe the snapshot a long-running daemon wrote.
type Manager struct {
	index  *vecindex.Index
	path   string
	logger *zap.Logger

	mu          sync.Mutex
	cron        *cron.Cron
	lastSavedAt time.Time
}

// NewManager creates a persistence manager for the snapshot at path
func NewManager(index *vecindex.Index, path string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		index:  index,
		path:   path,
		logger: logger,
	}
}

// Load restores the index from the snapshot file. A missing file or an
// unreadable/corrupt snapshot degrades to an empty index with a warning;
// startup never fails on snapshot problems.
func (m *Manager) Load() error {
	err := m.index.LoadFile(m.path)
	if err == nil {
		stats := m.index.Stats()
		m.logger.Info("loaded index snapshot",
			zap.String("path", m.path),
			zap.Int("nodes", stats.Nodes),
			zap.Int("hubs", stats.Hubs))
		return nil
	}

	if errors.Is(err, os.ErrNotExist) {
		m.logger.Info("no snapshot found, starting empty", zap.String("path", m.path))
		return nil
	}

	// Corrupt or dimension-mismatched snapshots also start empty. The
	// bad file stays on disk untouched until the next successful save.
	m.logger.Warn("snapshot unusable, starting empty",
		zap.String("path", m.path),
		zap.Error(err))
	return nil
}

// Save writes a point-in-time snapshot to disk. When the in-memory index
// is empty and the file on disk holds data, the save is skipped.
func (m *Manager) Save() error {
	snap := m.index.Snapshot()

	if len(snap.Nodes) == 0 {
		existing, err := vecindex.ReadSnapshotFile(m.path)
		if err == nil && len(existing.Nodes) > 0 {
			metrics.SnapshotSkips.Inc()
			m.logger.Warn("skipping save", zap.String("path", m.path), zap.Error(ErrEmptyIndexGuard))
			return ErrEmptyIndexGuard
		}
	}

	if err := vecindex.WriteSnapshotFile(m.path, snap); err != nil {
		return err
	}
	metrics.SnapshotSaves.Inc()

	m.mu.Lock()
	m.lastSavedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("saved index snapshot",
		zap.String("path", m.path),
		zap.Int("nodes", len(snap.Nodes)))
	return nil
}

// LastSavedAt returns when the last successful save completed, zero if none
func (m *Manager) LastSavedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSavedAt
}

// StartAutoSave schedules periodic saves at the given interval
func (m *Manager) StartAutoSave(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSaveInterval
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc("@every "+interval.String(), func() {
		if err := m.Save(); err != nil && !errors.Is(err, ErrEmptyIndexGuard) {
			m.logger.Error("auto-save failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	m.cron = c
	m.logger.Info("auto-save scheduled", zap.Duration("interval", interval))
	return nil
}

// Stop halts auto-save and performs a final save
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.cron != nil {
		ctx := m.cron.Stop()
		<-ctx.Done()
		m.cron = nil
	}
	m.mu.Unlock()

	err := m.Save()
	if errors.Is(err, ErrEmptyIndexGuard) {
		return nil
	}
	return err
}
