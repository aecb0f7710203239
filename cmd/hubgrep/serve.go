package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hubgrep/hubgrep-mcp/internal/config"
	"github.com/hubgrep/hubgrep-mcp/internal/embedder"
	"github.com/hubgrep/hubgrep-mcp/internal/indexer"
	"github.com/hubgrep/hubgrep-mcp/internal/mcp"
	"github.com/hubgrep/hubgrep-mcp/internal/persist"
	"github.com/hubgrep/hubgrep-mcp/internal/searcher"
	"github.com/hubgrep/hubgrep-mcp/internal/storage"
	"github.com/hubgrep/hubgrep-mcp/internal/vecindex"
)

// runServe assembles the components and serves MCP on stdio until the
// client disconnects or a shutdown signal arrives
func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("sqlite_driver", storage.DriverName))

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create data directories: %w", err)
	}

	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer func() { _ = emb.Close() }()
	logger.Info("embedding provider selected",
		zap.String("provider", emb.Provider()),
		zap.String("model", emb.Model()),
		zap.Int("dimension", emb.Dimension()))

	index, err := vecindex.New(cfg.IndexConfigFor(emb.Dimension()), indexer.NewRecomputer(store, emb))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	pm := persist.NewManager(index, cfg.SnapshotPath, logger)
	if err := pm.Load(); err != nil {
		return err
	}
	if err := pm.StartAutoSave(cfg.SaveInterval.Std()); err != nil {
		return err
	}

	idx := indexer.New(store, emb, index, logger)
	srch := searcher.New(store, emb, index, logger)

	srv, err := mcp.NewServer(mcp.Deps{
		Store:    store,
		Embedder: emb,
		Index:    index,
		Indexer:  idx,
		Searcher: srch,
		Persist:  pm,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Watch {
		stopWatchers, err := startWatchers(ctx, store, idx, logger)
		if err != nil {
			logger.Warn("repository watching disabled", zap.Error(err))
		} else {
			defer stopWatchers()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		if err != nil {
			_ = pm.Stop()
			return fmt.Errorf("server error: %w", err)
		}
	}

	if err := pm.Stop(); err != nil {
		logger.Error("final snapshot save failed", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}

// startWatchers spawns a filesystem watcher per known repository so edits
// keep the index current
func startWatchers(ctx context.Context, store storage.Storage, idx *indexer.Indexer, logger *zap.Logger) (func(), error) {
	repos, err := store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	var watchers []*indexer.Watcher
	for _, repo := range repos {
		w, err := indexer.NewWatcher(idx, repo.RootPath, logger)
		if err != nil {
			logger.Warn("failed to watch repository",
				zap.String("root", repo.RootPath), zap.Error(err))
			continue
		}
		w.Start(ctx)
		watchers = append(watchers, w)
		logger.Info("watching repository", zap.String("root", repo.RootPath))
	}

	return func() {
		for _, w := range watchers {
			w.Stop()
		}
	}, nil
}

// newLogger builds a zap logger writing to stderr; stdout carries the MCP
// protocol
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// serveMetrics exposes Prometheus metrics on addr
func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics listener stopped", zap.Error(err))
	}
}
