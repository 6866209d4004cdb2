package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unigraph.db")
	s, err := Open(context.Background(), path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoadGraphRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	export := &schemas.GraphExport{
		SchemaVersion: schemas.GraphSchemaVersion,
		Nodes: []schemas.Node{
			{
				GUID: "0123456789abcdef0123456789abcdef", Path: "Assets/A.prefab",
				Kind: schemas.KindPrefab, SizeBytes: 42, LastModified: now,
				ContentHash: "cafe", IsAnalyzed: true,
				ImporterKind:     schemas.ImporterNativeFormat,
				ImporterMetadata: map[string]string{"mainObjectFileID": "100100000"},
				Active:           true,
			},
			{
				GUID: "fedcba9876543210fedcba9876543210", Path: "Assets/B.mat",
				Kind: schemas.KindMaterial, LastModified: now, Active: false,
			},
		},
		Edges: []schemas.Edge{
			{
				Source: "0123456789abcdef0123456789abcdef", Target: "fedcba9876543210fedcba9876543210",
				Kind: schemas.DepMaterial, Strength: schemas.StrengthStrong,
				ContextPath: "MeshRenderer.m_Materials[0]", ComponentType: "MeshRenderer",
				PropertyName: "m_Materials", SourceFileID: 2300000, Active: true,
			},
		},
	}
	export.NodeCount = len(export.Nodes)
	export.EdgeCount = len(export.Edges)

	require.NoError(t, s.SaveGraph(ctx, export))

	loaded, err := s.LoadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Nodes, 2)
	require.Len(t, loaded.Edges, 1)

	assert.Equal(t, export.Nodes[0].GUID, loaded.Nodes[0].GUID)
	assert.Equal(t, export.Nodes[0].Kind, loaded.Nodes[0].Kind)
	assert.Equal(t, export.Nodes[0].ImporterMetadata, loaded.Nodes[0].ImporterMetadata)
	assert.True(t, loaded.Nodes[0].LastModified.Equal(export.Nodes[0].LastModified))
	assert.True(t, loaded.Nodes[0].Active)
	assert.False(t, loaded.Nodes[1].Active)

	assert.Equal(t, export.Edges[0], loaded.Edges[0])
}

func TestSaveGraphIsWholesaleReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &schemas.GraphExport{
		SchemaVersion: schemas.GraphSchemaVersion,
		Nodes:         []schemas.Node{{GUID: "0123456789abcdef0123456789abcdef", Path: "Assets/Old.prefab", Kind: schemas.KindPrefab, Active: true}},
	}
	require.NoError(t, s.SaveGraph(ctx, first))

	second := &schemas.GraphExport{
		SchemaVersion: schemas.GraphSchemaVersion,
		Nodes:         []schemas.Node{{GUID: "fedcba9876543210fedcba9876543210", Path: "Assets/New.prefab", Kind: schemas.KindPrefab, Active: true}},
	}
	require.NoError(t, s.SaveGraph(ctx, second))

	loaded, err := s.LoadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, "Assets/New.prefab", loaded.Nodes[0].Path)
}

func TestSignaturesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sigs := map[string]schemas.Signature{
		"Assets/A.prefab":      {Size: 10, MtimeNS: 111, Hash: "aa"},
		"Assets/A.prefab.meta": {Size: 5, MtimeNS: 222},
	}
	require.NoError(t, s.SaveSignatures(ctx, sigs, "scan-1"))

	loaded, err := s.LoadSignatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, sigs, loaded)

	// A later flush replaces, never merges.
	require.NoError(t, s.SaveSignatures(ctx, map[string]schemas.Signature{
		"Assets/B.mat": {Size: 7, MtimeNS: 333},
	}, "scan-2"))
	loaded, err = s.LoadSignatures(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Contains(t, loaded, "Assets/B.mat")
}

func TestSaveScanReportUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report := &schemas.ScanReport{
		ScanID:      "11111111-2222-3333-4444-555555555555",
		Type:        schemas.ScanFull,
		Status:      schemas.ScanRunning,
		ProjectRoot: "/proj",
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.SaveScanReport(ctx, report))

	report.Status = schemas.ScanCompleted
	report.FinishedAt = time.Now().UTC()
	require.NoError(t, s.SaveScanReport(ctx, report))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unigraph.db")
	ctx := context.Background()

	s1, err := Open(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}
