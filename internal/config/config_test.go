package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubgrep/hubgrep-mcp/internal/vecindex"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvConfigPath, EnvDBPath, EnvSnapshotPath, EnvMetricsAddr, EnvSaveInterval, EnvLogLevel, EnvWatch} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, string(vecindex.MetricCosine), cfg.Index.Metric)
	assert.Equal(t, vecindex.DefaultBatchSize, cfg.Index.BatchSize)
	assert.Equal(t, vecindex.DefaultHubCacheRatio, cfg.Index.HubCacheRatio)
	assert.Equal(t, 250, cfg.Index.MaxRecomputeMs)
	assert.Equal(t, 5*time.Minute, cfg.SaveInterval.Std())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.DBPath)
	assert.NotEmpty(t, cfg.SnapshotPath)
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /data/code.db
snapshot_path: /data/index.json
save_interval: 2m
watch: true
index:
  batch_size: 64
  hub_cache_ratio: 0.3
  max_recompute_latency_ms: 100
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/code.db", cfg.DBPath)
	assert.Equal(t, "/data/index.json", cfg.SnapshotPath)
	assert.Equal(t, 2*time.Minute, cfg.SaveInterval.Std())
	assert.True(t, cfg.Watch)
	assert.Equal(t, 64, cfg.Index.BatchSize)
	assert.Equal(t, 0.3, cfg.Index.HubCacheRatio)
	assert.Equal(t, 100, cfg.Index.MaxRecomputeMs)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, vecindex.DefaultEFSearch, cfg.Index.EFSearch)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: /from/file.db\n"), 0o644))

	t.Setenv(EnvDBPath, "/from/env.db")
	t.Setenv(EnvSaveInterval, "30s")
	t.Setenv(EnvWatch, "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.db", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.SaveInterval.Std())
	assert.True(t, cfg.Watch)
}

func TestMalformedFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cases := map[string]string{
		"bad pruning ratio": "index:\n  graph_pruning_ratio: 1.5\n",
		"bad hub ratio":     "index:\n  hub_cache_ratio: 0\n",
		"bad batch size":    "index:\n  batch_size: -1\n",
		"bad metric":        "index:\n  metric: euclidean\n",
		"bad interval":      "save_interval: soon\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestIndexConfigFor(t *testing.T) {
	clearEnv(t)

	cfg := Default()
	ic := cfg.IndexConfigFor(384)
	assert.Equal(t, 384, ic.Dimension)
	assert.Equal(t, vecindex.MetricCosine, ic.Metric)
	assert.Equal(t, 250*time.Millisecond, ic.MaxRecomputeLatency)

	// A file-pinned dimension wins over the provider's.
	cfg.Index.Dimension = 1024
	assert.Equal(t, 1024, cfg.IndexConfigFor(384).Dimension)
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.DBPath = filepath.Join(dir, "nested", "db", "code.db")
	cfg.SnapshotPath = filepath.Join(dir, "nested", "snap", "index.json")

	require.NoError(t, cfg.EnsureDirs())
	assert.DirExists(t, filepath.Join(dir, "nested", "db"))
	assert.DirExists(t, filepath.Join(dir, "nested", "snap"))
}
