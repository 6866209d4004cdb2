package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// buildQueryFixture commits A -> B, B -> C, B -> D plus E (a scene) -> B for
// query tests.
func buildQueryFixture(t *testing.T) (*Store, *Updater, *Engine) {
	t.Helper()
	store, updater := newTestGraph(t, false)
	engine := NewEngine(store, time.Minute, zaptest.NewLogger(t))
	updater.OnCommit(engine.Invalidate)

	tx := updater.Begin()
	tx.AddNode(testNode(g("a"), "Assets/A.prefab", schemas.KindPrefab))
	tx.AddNode(testNode(g("b"), "Assets/B.mat", schemas.KindMaterial))
	tx.AddNode(testNode(g("c"), "Assets/C.png", schemas.KindTexture))
	tx.AddNode(testNode(g("d"), "Assets/D.shader", schemas.KindShader))
	tx.AddNode(testNode(g("e"), "Assets/X.unity", schemas.KindScene))
	tx.AddEdge(testEdge(g("a"), g("b"), schemas.DepMaterial, schemas.StrengthStrong, "m[0]"))
	tx.AddEdge(testEdge(g("b"), g("c"), schemas.DepTexture, schemas.StrengthMedium, "t"))
	tx.AddEdge(testEdge(g("b"), g("d"), schemas.DepShader, schemas.StrengthStrong, "s"))
	tx.AddEdge(testEdge(g("e"), g("b"), schemas.DepMaterial, schemas.StrengthWeak, "m[1]"))
	mustCommit(t, tx)

	return store, updater, engine
}

func TestDirectDepsAndRefsAreDuals(t *testing.T) {
	_, _, engine := buildQueryFixture(t)
	opts := DefaultOptions()

	deps, err := engine.DirectDeps(g("a"), opts)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, g("b"), deps[0].Target)
	assert.Equal(t, schemas.DepMaterial, deps[0].Kind)

	refs, err := engine.DirectRefs(g("b"), opts)
	require.NoError(t, err)

	var sources []string
	for _, e := range refs {
		sources = append(sources, e.Source)
	}
	assert.Contains(t, sources, g("a"), "b in direct_deps(a) implies a in direct_refs(b)")
	assert.Contains(t, sources, g("e"))
}

func TestAllDepsClosureAndDepths(t *testing.T) {
	_, _, engine := buildQueryFixture(t)
	opts := DefaultOptions()

	closure, err := engine.AllDeps(g("a"), opts)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{g("b"), g("c"), g("d")}, closure.GUIDs)
	assert.Equal(t, 1, closure.DepthMap[g("b")])
	assert.Equal(t, 2, closure.DepthMap[g("c")])
	assert.Equal(t, 2, closure.DepthMap[g("d")])

	direct, err := engine.DirectDeps(g("a"), opts)
	require.NoError(t, err)
	for _, e := range direct {
		assert.Contains(t, closure.GUIDs, e.Target, "all_deps contains direct_deps")
	}

	dist := closure.DepthDistribution()
	assert.Equal(t, map[int]int{1: 1, 2: 2}, dist)
}

func TestAllDepsDepthCap(t *testing.T) {
	_, _, engine := buildQueryFixture(t)
	opts := DefaultOptions()
	opts.MaxDepth = 1

	closure, err := engine.AllDeps(g("a"), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{g("b")}, closure.GUIDs)
}

func TestQueryFilters(t *testing.T) {
	_, _, engine := buildQueryFixture(t)

	opts := DefaultOptions()
	opts.MinStrength = schemas.StrengthStrong
	refs, err := engine.DirectRefs(g("b"), opts)
	require.NoError(t, err)
	require.Len(t, refs, 1, "weak scene edge filtered by min_strength")
	assert.Equal(t, g("a"), refs[0].Source)

	opts = DefaultOptions()
	opts.DepKinds = []schemas.DepKind{schemas.DepTexture}
	deps, err := engine.DirectDeps(g("b"), opts)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, g("c"), deps[0].Target)

	opts = DefaultOptions()
	opts.AssetKinds = []schemas.AssetKind{schemas.KindShader}
	deps, err = engine.DirectDeps(g("b"), opts)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, g("d"), deps[0].Target)
}

func TestShortestPath(t *testing.T) {
	_, _, engine := buildQueryFixture(t)
	opts := DefaultOptions()

	path, err := engine.ShortestPath(g("a"), g("c"), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{g("a"), g("b"), g("c")}, path)

	path, err = engine.ShortestPath(g("c"), g("a"), opts)
	require.NoError(t, err)
	assert.Nil(t, path, "no reverse path in a forward query")

	_, err = engine.ShortestPath(g("a"), g("99"), opts)
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestDepTreeMarksCycles(t *testing.T) {
	_, updater, engine := buildQueryFixture(t)

	tx := updater.Begin()
	tx.AddEdge(testEdge(g("c"), g("a"), schemas.DepIndirect, schemas.StrengthWeak, "loop"))
	mustCommit(t, tx)

	tree, err := engine.DepTree(g("a"), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)

	// a -> b -> {c -> a(circular), d}
	b := tree.Children[0]
	require.Len(t, b.Children, 2)
	var c *TreeNode
	for _, child := range b.Children {
		if child.GUID == g("c") {
			c = child
		}
	}
	require.NotNil(t, c)
	require.Len(t, c.Children, 1)
	assert.True(t, c.Children[0].Circular)
	assert.Empty(t, c.Children[0].Children, "circular nodes are truncated")
}

func TestImpactAnalysis(t *testing.T) {
	store, updater := newTestGraph(t, false)
	engine := NewEngine(store, time.Minute, zaptest.NewLogger(t))

	// B referenced by A, C, D; D referenced by E only.
	tx := updater.Begin()
	for _, n := range []struct{ guid, path string }{
		{g("a"), "Assets/A.prefab"}, {g("b"), "Assets/B.mat"},
		{g("c"), "Assets/C.prefab"}, {g("d"), "Assets/D.prefab"}, {g("e"), "Assets/E.unity"},
	} {
		tx.AddNode(testNode(n.guid, n.path, schemas.KindPrefab))
	}
	tx.AddEdge(testEdge(g("a"), g("b"), schemas.DepMaterial, schemas.StrengthStrong, ""))
	tx.AddEdge(testEdge(g("c"), g("b"), schemas.DepMaterial, schemas.StrengthStrong, ""))
	tx.AddEdge(testEdge(g("d"), g("b"), schemas.DepMaterial, schemas.StrengthStrong, ""))
	tx.AddEdge(testEdge(g("e"), g("d"), schemas.DepPrefabInstance, schemas.StrengthImportant, ""))
	mustCommit(t, tx)

	impact, err := engine.Impact(g("b"), ImpactDelete, DefaultOptions())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{g("a"), g("c"), g("d"), g("e")}, impact.Affected)
	assert.Equal(t, SeverityMedium, impact.Severity)
}

func TestUnused(t *testing.T) {
	_, _, engine := buildQueryFixture(t)

	unused := engine.Unused(DefaultOptions(), true)
	var guids []string
	for _, n := range unused {
		guids = append(guids, n.GUID)
	}
	// a has no inbound references; the scene e is excluded as a root.
	assert.Equal(t, []string{g("a")}, guids)

	withRoots := engine.Unused(DefaultOptions(), false)
	guids = guids[:0]
	for _, n := range withRoots {
		guids = append(guids, n.GUID)
	}
	assert.ElementsMatch(t, []string{g("a"), g("e")}, guids)
}

func TestValidateRefs(t *testing.T) {
	store, updater := newTestGraph(t, false)
	engine := NewEngine(store, time.Minute, zaptest.NewLogger(t))

	tx := updater.Begin()
	tx.AddNode(testNode(g("a"), "Assets/A.prefab", schemas.KindPrefab))
	tx.AddNode(testNode(g("b"), "Assets/B.mat", schemas.KindMaterial))
	tx.AddEdge(testEdge(g("a"), g("b"), schemas.DepMaterial, schemas.StrengthStrong, ""))
	mustCommit(t, tx)

	issues, err := engine.ValidateRefs(g("a"))
	require.NoError(t, err)
	assert.Empty(t, issues)

	tx = updater.Begin()
	tx.DeactivateNode(g("b"))
	mustCommit(t, tx)

	// The cascade marked the edge inactive together with its target, so the
	// surviving record is consistent; validate against an unknown node next.
	_, err = engine.ValidateRefs(g("99"))
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestQueryCacheEvictionOnCommit(t *testing.T) {
	_, updater, engine := buildQueryFixture(t)
	opts := DefaultOptions()

	first, err := engine.AllDeps(g("a"), opts)
	require.NoError(t, err)
	require.Len(t, first.GUIDs, 3)

	// New edge invalidates the cached closure.
	tx := updater.Begin()
	tx.AddNode(testNode(g("f"), "Assets/F.png", schemas.KindTexture))
	tx.AddEdge(testEdge(g("d"), g("f"), schemas.DepTexture, schemas.StrengthMedium, ""))
	mustCommit(t, tx)

	second, err := engine.AllDeps(g("a"), opts)
	require.NoError(t, err)
	assert.Len(t, second.GUIDs, 4)
}
