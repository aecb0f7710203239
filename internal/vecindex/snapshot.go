package vecindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SnapshotVersion identifies the on-disk snapshot format
const SnapshotVersion = 1

// SnapshotConfig is the subset of Config persisted with a snapshot
type SnapshotConfig struct {
	BatchSize          int     `json:"batch_size"`
	GraphPruningRatio  float64 `json:"graph_pruning_ratio"`
	HubDegreeThreshold int     `json:"hub_degree_threshold"`
	HubCacheRatio      float64 `json:"hub_cache_ratio"`
	EFSearch           int     `json:"ef_search"`
	EFConstruction     int     `json:"ef_construction"`
	MaxNeighbors       int     `json:"max_neighbors"`
}

// SnapshotEdge is a persisted adjacency entry
type SnapshotEdge struct {
	ID   int64   `json:"id"`
	Dist float32 `json:"dist"`
}

// SnapshotNode is a persisted graph vertex. Embedding is present for hubs
// only; leaf embeddings are recomputed on demand after restore.
type SnapshotNode struct {
	ID        int64          `json:"id"`
	Embedding []float32      `json:"embedding,omitempty"`
	Neighbors []SnapshotEdge `json:"neighbors"`
	IsHub     bool           `json:"is_hub"`
}

// Snapshot is the point-in-time serialized form of an index
type Snapshot struct {
	Version    int            `json:"version"`
	Dimension  int            `json:"dimension"`
	Metric     Metric         `json:"metric"`
	Config     SnapshotConfig `json:"config"`
	Nodes      []SnapshotNode `json:"nodes"`
	Tombstones []int64        `json:"tombstones"`
}

// Snapshot clones the index state under the read lock. Pending staged
// insertions are flushed first so every node has a hub/leaf classification;
// callers then write the clone to disk without holding any index lock.
func (idx *Index) Snapshot() *Snapshot {
	idx.Flush()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	snap := &Snapshot{
		Version:   SnapshotVersion,
		Dimension: idx.cfg.Dimension,
		Metric:    idx.cfg.Metric,
		Config: SnapshotConfig{
			BatchSize:          idx.cfg.BatchSize,
			GraphPruningRatio:  idx.cfg.GraphPruningRatio,
			HubDegreeThreshold: idx.hubThreshold,
			HubCacheRatio:      idx.cfg.HubCacheRatio,
			EFSearch:           idx.cfg.EFSearch,
			EFConstruction:     idx.cfg.EFConstruction,
			MaxNeighbors:       idx.cfg.MaxNeighbors,
		},
		Nodes:      make([]SnapshotNode, 0, len(idx.nodes)),
		Tombstones: make([]int64, 0, len(idx.tombstones)),
	}

	for _, n := range idx.nodes {
		if n.tombstone {
			continue
		}
		sn := SnapshotNode{
			ID:        n.id,
			IsHub:     n.isHub,
			Neighbors: make([]SnapshotEdge, len(n.neighbors)),
		}
		for i, e := range n.neighbors {
			sn.Neighbors[i] = SnapshotEdge{ID: e.id, Dist: e.dist}
		}
		if n.isHub {
			if vec, ok := idx.hubs.Get(n.id); ok {
				emb := make([]float32, len(vec))
				copy(emb, vec)
				sn.Embedding = emb
			}
		}
		snap.Nodes = append(snap.Nodes, sn)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })

	for id := range idx.tombstones {
		snap.Tombstones = append(snap.Tombstones, id)
	}
	sort.Slice(snap.Tombstones, func(i, j int) bool { return snap.Tombstones[i] < snap.Tombstones[j] })

	return snap
}

// Restore replaces the index contents with a snapshot
func (idx *Index) Restore(snap *Snapshot) error {
	if snap == nil {
		return ErrCorruptSnapshot
	}
	if snap.Dimension != idx.cfg.Dimension {
		return fmt.Errorf("%w: snapshot %d, index %d", ErrSnapshotDimension, snap.Dimension, idx.cfg.Dimension)
	}
	if snap.Metric != "" && snap.Metric != idx.cfg.Metric {
		return fmt.Errorf("%w: snapshot metric %s, index metric %s", ErrCorruptSnapshot, snap.Metric, idx.cfg.Metric)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	nodes := make(map[int64]*node, len(snap.Nodes))
	hubs := newHubCache(idx.cfg.CompactHubs)
	var entry []int64

	for i := range snap.Nodes {
		sn := &snap.Nodes[i]
		if _, dup := nodes[sn.ID]; dup {
			return fmt.Errorf("%w: duplicate node %d", ErrCorruptSnapshot, sn.ID)
		}
		n := &node{
			id:        sn.ID,
			isHub:     sn.IsHub,
			neighbors: make([]edge, len(sn.Neighbors)),
		}
		for j, e := range sn.Neighbors {
			n.neighbors[j] = edge{id: e.ID, dist: e.Dist}
		}
		if sn.IsHub {
			if len(sn.Embedding) != idx.cfg.Dimension {
				return fmt.Errorf("%w: hub %d embedding has dimension %d", ErrCorruptSnapshot, sn.ID, len(sn.Embedding))
			}
			hubs.Set(sn.ID, sn.Embedding)
			entry = append(entry, sn.ID)
		}
		nodes[sn.ID] = n
	}

	tombstones := make(map[int64]struct{}, len(snap.Tombstones))
	for _, id := range snap.Tombstones {
		tombstones[id] = struct{}{}
		if _, ok := nodes[id]; !ok {
			nodes[id] = &node{id: id, tombstone: true}
		} else {
			nodes[id].tombstone = true
		}
	}

	// Entry points ordered by degree desc, id asc, same as after a
	// pruning pass.
	sort.Slice(entry, func(i, j int) bool {
		di, dj := nodes[entry[i]].degree(), nodes[entry[j]].degree()
		if di != dj {
			return di > dj
		}
		return entry[i] < entry[j]
	})

	idx.nodes = nodes
	idx.hubs = hubs
	idx.entryHubs = entry
	idx.tombstones = tombstones
	idx.staged = make(map[int64][]float32)
	idx.sincePrune = 0
	if snap.Config.HubDegreeThreshold > 0 {
		idx.hubThreshold = snap.Config.HubDegreeThreshold
	}
	idx.recomputeCache.Purge()
	idx.generation.Add(1)

	return nil
}

// SaveFile writes a snapshot to path atomically (temp file + rename)
func (idx *Index) SaveFile(path string) error {
	snap := idx.Snapshot()
	return WriteSnapshotFile(path, snap)
}

// LoadFile restores the index from a snapshot file
func (idx *Index) LoadFile(path string) error {
	snap, err := ReadSnapshotFile(path)
	if err != nil {
		return err
	}
	return idx.Restore(snap)
}

// WriteSnapshotFile serializes a snapshot to path atomically
func WriteSnapshotFile(path string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".hubgrep-snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadSnapshotFile parses a snapshot file. A malformed file yields
// ErrCorruptSnapshot so callers can degrade to an empty index.
func ReadSnapshotFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if snap.Dimension <= 0 {
		return nil, fmt.Errorf("%w: missing dimension", ErrCorruptSnapshot)
	}
	return &snap, nil
}
