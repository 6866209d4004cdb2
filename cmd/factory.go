package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
	"github.com/xkilldash9x/unigraph-cli/internal/config"
	"github.com/xkilldash9x/unigraph-cli/internal/graph"
	"github.com/xkilldash9x/unigraph-cli/internal/observability"
	"github.com/xkilldash9x/unigraph-cli/internal/scan"
	"github.com/xkilldash9x/unigraph-cli/internal/store"
)

// Components holds the initialized services a command needs. It centralizes
// lifecycle management: build with newComponents, release with Shutdown.
type Components struct {
	Persist  *store.Store
	Graph    *graph.Store
	Updater  *graph.Updater
	Query    *graph.Engine
	Analyzer *graph.Analyzer
	Scanner  *scan.Scanner
}

// Shutdown releases resources in reverse initialization order.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	if c.Persist != nil {
		if err := c.Persist.Close(); err != nil {
			logger.Warn("error closing persistent store", zap.Error(err))
		}
	}
	logger.Debug("components shut down")
}

// newComponents performs dependency injection for a command: persistent
// store, in-memory graph warmed from the last snapshot, updater, query
// engine and cycle analyzer, all sharing one logger.
func newComponents(ctx context.Context, cfg *config.Config, progress schemas.ProgressFunc) (*Components, error) {
	logger := observability.GetLogger()

	storePath := cfg.Persistence.StorePath
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(projectRoot, storePath)
	}
	persist, err := store.Open(ctx, storePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistent store: %w", err)
	}

	components := &Components{Persist: persist}

	graphStore := graph.NewStore(logger)
	snapshot, err := persist.LoadGraph(ctx)
	if err != nil {
		components.Shutdown()
		return nil, fmt.Errorf("failed to load graph snapshot: %w", err)
	}
	if len(snapshot.Nodes) > 0 {
		if err := graphStore.Load(snapshot); err != nil {
			components.Shutdown()
			return nil, fmt.Errorf("failed to rebuild graph from snapshot: %w", err)
		}
		logger.Debug("graph warmed from snapshot",
			zap.Int("nodes", snapshot.NodeCount), zap.Int("edges", snapshot.EdgeCount))
	}
	components.Graph = graphStore

	updater := graph.NewUpdater(graphStore, cfg.Graph.RejectNewCycles, logger)
	components.Updater = updater

	query := graph.NewEngine(graphStore, time.Duration(cfg.Query.CacheTTLSeconds)*time.Second, logger)
	components.Query = query

	analyzer := graph.NewAnalyzer(graphStore, cfg.Graph.MaxCycleLength, logger)
	components.Analyzer = analyzer

	// Any commit drops derived results.
	updater.OnCommit(query.Invalidate)
	updater.OnCommit(analyzer.Invalidate)

	components.Scanner = scan.New(cfg, projectRoot, persist, graphStore, updater, progress, logger)

	return components, nil
}

// resolveTarget accepts either a 32-hex GUID or a project-relative path.
func resolveTarget(components *Components, arg string) (string, bool) {
	if guid, err := schemas.NormalizeGUID(arg); err == nil {
		if _, ok := components.Graph.Node(guid); ok {
			return guid, true
		}
		return "", false
	}
	return components.Graph.ResolvePath(schemas.NormalizePath(arg))
}
