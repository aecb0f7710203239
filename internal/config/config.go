package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubgrep/hubgrep-mcp/internal/vecindex"
)

// Environment variable names. Each overrides the corresponding file value.
const (
	EnvConfigPath   = "HUBGREP_CONFIG"
	EnvDBPath       = "HUBGREP_DB_PATH"
	EnvSnapshotPath = "HUBGREP_SNAPSHOT_PATH"
	EnvMetricsAddr  = "HUBGREP_METRICS_ADDR"
	EnvSaveInterval = "HUBGREP_SAVE_INTERVAL"
	EnvLogLevel     = "HUBGREP_LOG_LEVEL"
	EnvWatch        = "HUBGREP_WATCH"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5m"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// IndexConfig mirrors the tunable parameters of the vector index
type IndexConfig struct {
	Dimension          int     `yaml:"dimension"`
	Metric             string  `yaml:"metric"`
	BatchSize          int     `yaml:"batch_size"`
	GraphPruningRatio  float64 `yaml:"graph_pruning_ratio"`
	HubDegreeThreshold int     `yaml:"hub_degree_threshold"`
	HubCacheRatio      float64 `yaml:"hub_cache_ratio"`
	EFSearch           int     `yaml:"ef_search"`
	EFConstruction     int     `yaml:"ef_construction"`
	MaxNeighbors       int     `yaml:"max_neighbors"`
	MaxRecomputeMs     int     `yaml:"max_recompute_latency_ms"`
	RecomputeCacheSize int     `yaml:"recompute_cache_size"`
	CompactHubs        bool    `yaml:"compact_hubs"`
}

// Config is the full server configuration
type Config struct {
	DBPath       string      `yaml:"db_path"`
	SnapshotPath string      `yaml:"snapshot_path"`
	MetricsAddr  string      `yaml:"metrics_addr"`
	SaveInterval Duration    `yaml:"save_interval"`
	LogLevel     string      `yaml:"log_level"`
	Watch        bool        `yaml:"watch"`
	Index        IndexConfig `yaml:"index"`
}

// Default returns the configuration used when no file or overrides exist
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DBPath:       filepath.Join(dataDir, "hubgrep.db"),
		SnapshotPath: filepath.Join(dataDir, "index.json"),
		SaveInterval: Duration(5 * time.Minute),
		LogLevel:     "info",
		Index: IndexConfig{
			Metric:             string(vecindex.MetricCosine),
			BatchSize:          vecindex.DefaultBatchSize,
			GraphPruningRatio:  vecindex.DefaultGraphPruningRatio,
			HubDegreeThreshold: vecindex.DefaultHubDegreeThreshold,
			HubCacheRatio:      vecindex.DefaultHubCacheRatio,
			EFSearch:           vecindex.DefaultEFSearch,
			EFConstruction:     vecindex.DefaultEFConstruction,
			MaxNeighbors:       vecindex.DefaultMaxNeighbors,
			MaxRecomputeMs:     int(vecindex.DefaultRecomputeLatency / time.Millisecond),
			RecomputeCacheSize: vecindex.DefaultRecomputeCacheSize,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (or HUBGREP_CONFIG, or the default location) if one exists, then
// environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = filepath.Join(defaultDataDir(), "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No file is fine; defaults plus env apply.
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvSnapshotPath); v != "" {
		c.SnapshotPath = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv(EnvSaveInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SaveInterval = Duration(d)
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvWatch); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Watch = b
		}
	}
}

func (c *Config) validate() error {
	if c.Index.GraphPruningRatio <= 0 || c.Index.GraphPruningRatio > 1 {
		return fmt.Errorf("graph_pruning_ratio must be in (0,1], got %g", c.Index.GraphPruningRatio)
	}
	if c.Index.HubCacheRatio <= 0 || c.Index.HubCacheRatio > 1 {
		return fmt.Errorf("hub_cache_ratio must be in (0,1], got %g", c.Index.HubCacheRatio)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.Index.BatchSize)
	}
	switch vecindex.Metric(c.Index.Metric) {
	case vecindex.MetricCosine, vecindex.MetricDot:
	default:
		return fmt.Errorf("unknown metric %q", c.Index.Metric)
	}
	return nil
}

// IndexConfigFor converts the file shape to the index's config type. The
// embedding dimension comes from the active provider, not the file, unless
// the file pins one explicitly.
func (c *Config) IndexConfigFor(dimension int) vecindex.Config {
	if c.Index.Dimension > 0 {
		dimension = c.Index.Dimension
	}
	return vecindex.Config{
		Dimension:           dimension,
		Metric:              vecindex.Metric(c.Index.Metric),
		BatchSize:           c.Index.BatchSize,
		GraphPruningRatio:   c.Index.GraphPruningRatio,
		HubDegreeThreshold:  c.Index.HubDegreeThreshold,
		HubCacheRatio:       c.Index.HubCacheRatio,
		EFSearch:            c.Index.EFSearch,
		EFConstruction:      c.Index.EFConstruction,
		MaxNeighbors:        c.Index.MaxNeighbors,
		MaxRecomputeLatency: time.Duration(c.Index.MaxRecomputeMs) * time.Millisecond,
		RecomputeCacheSize:  c.Index.RecomputeCacheSize,
		CompactHubs:         c.Index.CompactHubs,
	}
}

// EnsureDirs creates the directories for the database and snapshot paths
func (c *Config) EnsureDirs() error {
	for _, p := range []string{c.DBPath, c.SnapshotPath} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hubgrep"
	}
	return filepath.Join(home, ".hubgrep")
}
