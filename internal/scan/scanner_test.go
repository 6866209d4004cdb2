package scan

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
	"github.com/xkilldash9x/unigraph-cli/internal/config"
	"github.com/xkilldash9x/unigraph-cli/internal/graph"
	"github.com/xkilldash9x/unigraph-cli/internal/store"
)

const (
	playerGUID = "0000000000000000000000000000aaaa"
	matGUID    = "0000000000000000000000000000bbbb"
)

func testConfig() *config.Config {
	return &config.Config{
		Scan: config.ScanConfig{
			Paths:             []string{"Assets"},
			FileExtensions:    []string{".meta", ".prefab", ".unity", ".scene", ".asset", ".mat", ".controller", ".anim", ".cs"},
			MaxFileSizeMB:     50,
			IgnoreHiddenFiles: true,
			DeepCheck:         true,
		},
		Performance: config.PerformanceConfig{
			MaxWorkers:      runtime.NumCPU(),
			BatchSize:       64,
			PerFileTimeoutS: 60,
		},
		Graph:       config.GraphConfig{MaxCycleLength: 20},
		Query:       config.QueryConfig{CacheTTLSeconds: 300},
		Persistence: config.PersistenceConfig{StorePath: ".unigraph/unigraph.db"},
	}
}

type harness struct {
	root    string
	cfg     *config.Config
	persist *store.Store
	graph   *graph.Store
	updater *graph.Updater
	scanner *Scanner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := testConfig()

	logger := zaptest.NewLogger(t)
	persist, err := store.Open(context.Background(), filepath.Join(root, cfg.Persistence.StorePath), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = persist.Close() })

	graphStore := graph.NewStore(logger)
	updater := graph.NewUpdater(graphStore, cfg.Graph.RejectNewCycles, logger)

	return &harness{
		root:    root,
		cfg:     cfg,
		persist: persist,
		graph:   graphStore,
		updater: updater,
		scanner: New(cfg, root, persist, graphStore, updater, nil, logger),
	}
}

func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func metaFile(guid string) string {
	return "fileFormatVersion: 2\nguid: " + guid + "\nNativeFormatImporter:\n  mainObjectFileID: 100100000\n"
}

func (h *harness) writePlayerFixture(t *testing.T) {
	t.Helper()
	h.write(t, "Assets/Player.prefab.meta", metaFile(playerGUID))
	h.write(t, "Assets/PlayerMat.mat.meta", metaFile(matGUID))
	h.write(t, "Assets/PlayerMat.mat", "--- !u!21 &2100000\nMaterial:\n  m_Name: PlayerMat\n")
	h.write(t, "Assets/Player.prefab", `--- !u!23 &2300000
MeshRenderer:
  m_Materials:
  - {fileID: 2100000, guid: `+matGUID+`, type: 2}
`)
}

func TestFullScanExtractsDirectReference(t *testing.T) {
	h := newHarness(t)
	h.writePlayerFixture(t)

	report, err := h.scanner.Run(context.Background(), schemas.ScanFull, nil)
	require.NoError(t, err)
	assert.Equal(t, schemas.ScanCompleted, report.Status)
	assert.Equal(t, 4, report.FilesWalked)
	assert.Empty(t, report.ParseErrors)
	assert.Empty(t, report.Unresolved)

	edges := h.graph.NeighborsOut(playerGUID)
	require.Len(t, edges, 1)
	assert.Equal(t, matGUID, edges[0].Target)
	assert.Equal(t, schemas.DepMaterial, edges[0].Kind)
	assert.Equal(t, "MeshRenderer.m_Materials[0]", edges[0].ContextPath)

	node, ok := h.graph.Node(playerGUID)
	require.True(t, ok)
	assert.Equal(t, "Assets/Player.prefab", node.Path)
	assert.Equal(t, schemas.KindPrefab, node.Kind)
	assert.True(t, node.IsAnalyzed)
}

func TestIncrementalScanOnUnchangedTreeCommitsNothing(t *testing.T) {
	h := newHarness(t)
	h.writePlayerFixture(t)

	_, err := h.scanner.Run(context.Background(), schemas.ScanFull, nil)
	require.NoError(t, err)
	version := h.graph.Version()

	report, err := h.scanner.Run(context.Background(), schemas.ScanIncremental, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, report.FilesUnchanged)
	assert.Zero(t, report.TransactionsCommitted, "unchanged tree performs zero mutations")
	assert.Equal(t, version, h.graph.Version())
}

func TestMtimeOnlyTouchWithDeepCheck(t *testing.T) {
	h := newHarness(t)
	h.writePlayerFixture(t)

	_, err := h.scanner.Run(context.Background(), schemas.ScanFull, nil)
	require.NoError(t, err)

	// Semantically empty touch: content identical, mtime bumped.
	metaPath := filepath.Join(h.root, "Assets/Player.prefab.meta")
	future := time.Now().Add(3 * time.Second)
	require.NoError(t, os.Chtimes(metaPath, future, future))

	report, err := h.scanner.Run(context.Background(), schemas.ScanIncremental, nil)
	require.NoError(t, err)
	assert.Zero(t, report.TransactionsCommitted, "deep check proves the content identical")
	assert.Zero(t, report.FilesModified)
}

func TestMtimeOnlyTouchWithoutDeepCheck(t *testing.T) {
	h := newHarness(t)
	h.cfg.Scan.DeepCheck = false
	h.writePlayerFixture(t)

	_, err := h.scanner.Run(context.Background(), schemas.ScanFull, nil)
	require.NoError(t, err)

	metaPath := filepath.Join(h.root, "Assets/Player.prefab.meta")
	future := time.Now().Add(3 * time.Second)
	require.NoError(t, os.Chtimes(metaPath, future, future))

	report, err := h.scanner.Run(context.Background(), schemas.ScanIncremental, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesModified, "shallow check must reparse the touched meta")
	assert.Zero(t, report.NodesUpserted, "reparse of identical content is a net zero")
	assert.Zero(t, report.EdgesAdded)
	assert.Zero(t, report.EdgesRemoved)
}

func TestUnresolvedReferenceIsWarningNotError(t *testing.T) {
	h := newHarness(t)
	h.write(t, "Assets/P.asset.meta", metaFile(playerGUID))
	h.write(t, "Assets/P.asset", `--- !u!114 &11400000
MonoBehaviour:
  m_Target: {fileID: 100, guid: 00000000000000000000000000009999, type: 2}
`)

	report, err := h.scanner.Run(context.Background(), schemas.ScanFull, nil)
	require.NoError(t, err, "an unresolved reference must not fail the scan")
	assert.Equal(t, schemas.ScanCompleted, report.Status)

	require.Len(t, report.Unresolved, 1)
	assert.Equal(t, "00000000000000000000000000009999", report.Unresolved[0].TargetGUID)

	assert.Empty(t, h.graph.NeighborsOut(playerGUID), "the dangling edge is skipped")
}

func TestDeletedMetaDeactivatesNode(t *testing.T) {
	h := newHarness(t)
	h.writePlayerFixture(t)

	_, err := h.scanner.Run(context.Background(), schemas.ScanFull, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(h.root, "Assets/PlayerMat.mat.meta")))
	require.NoError(t, os.Remove(filepath.Join(h.root, "Assets/PlayerMat.mat")))

	report, err := h.scanner.Run(context.Background(), schemas.ScanIncremental, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesDeleted)

	node, ok := h.graph.Node(matGUID)
	require.True(t, ok, "node survives deletion for history")
	assert.False(t, node.Active)

	_, ok = h.graph.ResolvePath("Assets/PlayerMat.mat")
	assert.False(t, ok)
}

func TestColdStartFromPersistedSnapshot(t *testing.T) {
	h := newHarness(t)
	h.writePlayerFixture(t)

	_, err := h.scanner.Run(context.Background(), schemas.ScanFull, nil)
	require.NoError(t, err)

	// A fresh in-memory graph warmed from the snapshot sees the same edges.
	logger := zaptest.NewLogger(t)
	fresh := graph.NewStore(logger)
	snapshot, err := h.persist.LoadGraph(context.Background())
	require.NoError(t, err)
	require.NoError(t, fresh.Load(snapshot))

	edges := fresh.NeighborsOut(playerGUID)
	require.Len(t, edges, 1)
	assert.Equal(t, matGUID, edges[0].Target)
}

func TestScanReportErrorAccumulation(t *testing.T) {
	h := newHarness(t)
	h.write(t, "Assets/broken.meta", "fileFormatVersion: [oops\n")
	h.write(t, "Assets/ok.asset.meta", metaFile(matGUID))
	h.write(t, "Assets/ok.asset", "--- !u!114 &1\nMonoBehaviour:\n  m_Name: ok\n")

	report, err := h.scanner.Run(context.Background(), schemas.ScanFull, nil)
	require.NoError(t, err, "per-file parse errors never abort the scan")
	require.Len(t, report.ParseErrors, 1)
	assert.Equal(t, schemas.ParseMalformedYAML, report.ParseErrors[0].Kind)

	counts := report.ErrorCounts()
	assert.Equal(t, 1, counts["parse.malformed_yaml"])

	_, ok := h.graph.Node(matGUID)
	assert.True(t, ok, "healthy files still land in the graph")
}
