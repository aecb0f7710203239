package vecindex

import (
	"errors"
	"fmt"
	"time"
)

// Metric selects the distance function used by the index
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

// Default configuration values
const (
	DefaultBatchSize          = 128
	DefaultGraphPruningRatio  = 0.5
	DefaultHubDegreeThreshold = 8
	DefaultHubCacheRatio      = 0.2
	DefaultEFSearch           = 64
	DefaultEFConstruction     = 32
	DefaultMaxNeighbors       = 16
	DefaultRecomputeLatency   = 250 * time.Millisecond
	DefaultRecomputeCacheSize = 4096
)

// Common errors
var (
	ErrDimensionRequired = errors.New("dimension must be positive")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrDuplicateID       = errors.New("id already indexed")
	ErrNotFound          = errors.New("id not found")
	ErrInvalidK          = errors.New("k must be positive")
	ErrCorruptSnapshot   = errors.New("corrupt index snapshot")
	ErrSnapshotDimension = errors.New("snapshot dimension does not match index")
	ErrUnsupportedMetric = errors.New("unsupported distance metric")
)

// Config holds the tunable parameters of the hub-aware graph index
type Config struct {
	// Dimension is the fixed embedding dimension. Required.
	Dimension int

	// Metric selects the distance function (default cosine).
	Metric Metric

	// BatchSize is the number of insertions between pruning passes.
	BatchSize int

	// GraphPruningRatio is the fraction of candidate edges each node
	// retains after a pruning pass.
	GraphPruningRatio float64

	// HubDegreeThreshold is the initial post-pruning degree at which a
	// node is classified as a hub. Rebalancing adjusts the effective
	// threshold to keep the hub fraction near HubCacheRatio.
	HubDegreeThreshold int

	// HubCacheRatio is the target fraction of nodes with permanently
	// cached embeddings.
	HubCacheRatio float64

	// EFSearch bounds the candidate frontier during search.
	EFSearch int

	// EFConstruction bounds the candidate frontier during insert linking.
	EFConstruction int

	// MaxNeighbors is the number of edges created per insert before
	// pruning caps them.
	MaxNeighbors int

	// MaxRecomputeLatency is the per-search time budget for on-demand
	// leaf embedding recomputation. Searches can override it per call;
	// a zero per-call budget restricts traversal to hubs.
	MaxRecomputeLatency time.Duration

	// RecomputeCacheSize is the capacity of the LRU cache holding
	// recently recomputed leaf embeddings.
	RecomputeCacheSize int

	// CompactHubs stores hub embeddings as float16 to halve cache
	// memory, at the cost of ~3 decimal digits of similarity precision.
	CompactHubs bool
}

// withDefaults fills zero fields with defaults and validates the config
func (c Config) withDefaults() (Config, error) {
	if c.Dimension <= 0 {
		return c, ErrDimensionRequired
	}

	if c.Metric == "" {
		c.Metric = MetricCosine
	}
	if c.Metric != MetricCosine && c.Metric != MetricDot {
		return c, fmt.Errorf("%w: %s", ErrUnsupportedMetric, c.Metric)
	}

	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.GraphPruningRatio <= 0 || c.GraphPruningRatio > 1 {
		c.GraphPruningRatio = DefaultGraphPruningRatio
	}
	if c.HubDegreeThreshold <= 0 {
		c.HubDegreeThreshold = DefaultHubDegreeThreshold
	}
	if c.HubCacheRatio <= 0 || c.HubCacheRatio > 1 {
		c.HubCacheRatio = DefaultHubCacheRatio
	}
	if c.EFSearch <= 0 {
		c.EFSearch = DefaultEFSearch
	}
	if c.EFConstruction <= 0 {
		c.EFConstruction = DefaultEFConstruction
	}
	if c.MaxNeighbors <= 0 {
		c.MaxNeighbors = DefaultMaxNeighbors
	}
	if c.MaxRecomputeLatency <= 0 {
		c.MaxRecomputeLatency = DefaultRecomputeLatency
	}
	if c.RecomputeCacheSize <= 0 {
		c.RecomputeCacheSize = DefaultRecomputeCacheSize
	}

	return c, nil
}
