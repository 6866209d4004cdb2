package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

func sampleExport() *schemas.GraphExport {
	return &schemas.GraphExport{
		SchemaVersion: schemas.GraphSchemaVersion,
		ExportedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		NodeCount:     2,
		EdgeCount:     1,
		Nodes: []schemas.Node{
			{GUID: "0123456789abcdef0123456789abcdef", Path: "Assets/A.prefab", Kind: schemas.KindPrefab, Active: true},
			{GUID: "fedcba9876543210fedcba9876543210", Path: "Assets/B.mat", Kind: schemas.KindMaterial, Active: true},
		},
		Edges: []schemas.Edge{
			{
				Source: "0123456789abcdef0123456789abcdef", Target: "fedcba9876543210fedcba9876543210",
				Kind: schemas.DepMaterial, Strength: schemas.StrengthStrong, Active: true,
			},
		},
	}
}

func TestJSONRoundTripIsIsomorphic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGraph(&buf, sampleExport(), FormatJSON))

	loaded, err := ReadGraph(&buf)
	require.NoError(t, err)
	assert.Equal(t, sampleExport().Nodes, loaded.Nodes)
	assert.Equal(t, sampleExport().Edges, loaded.Edges)
}

func TestJSONExportIsDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, WriteGraph(&a, sampleExport(), FormatJSON))
	require.NoError(t, WriteGraph(&b, sampleExport(), FormatJSON))
	assert.Equal(t, a.String(), b.String())
}

func TestCSVExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGraph(&buf, sampleExport(), FormatCSV))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4, "header + 2 nodes + 1 edge")
	assert.Contains(t, lines[1], "node,0123456789abcdef0123456789abcdef,Assets/A.prefab,prefab")
	assert.Contains(t, lines[3], "edge,")
	assert.Contains(t, lines[3], "strong")
}

func TestDOTExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGraph(&buf, sampleExport(), FormatDOT))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "digraph assets {"))
	assert.Contains(t, out, `"0123456789abcdef0123456789abcdef" -> "fedcba9876543210fedcba9876543210"`)
	assert.Contains(t, out, "label=\"material\"")
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"json": FormatJSON, "CSV": FormatCSV, "dot": FormatDOT} {
		got, err := ParseFormat(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}
