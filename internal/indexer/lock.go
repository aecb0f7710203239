package indexer

import "sync/atomic"

// IndexLock serializes indexing runs without blocking callers. A second
// IndexRepository call fails fast with ErrIndexingInProgress instead of
// queueing behind the active run.
type IndexLock struct {
	held atomic.Int32
}

// TryAcquire attempts to take the lock, returning false if already held
func (l *IndexLock) TryAcquire() bool {
	return l.held.CompareAndSwap(0, 1)
}

// Release frees the lock
func (l *IndexLock) Release() {
	l.held.Store(0)
}

// Held reports whether an indexing run is active
func (l *IndexLock) Held() bool {
	return l.held.Load() == 1
}
