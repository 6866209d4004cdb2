package sigcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

func TestCacheLifecycle(t *testing.T) {
	seed := map[string]schemas.Signature{
		"a.meta": {Size: 1, MtimeNS: 10},
		"b.meta": {Size: 2, MtimeNS: 20},
	}
	c := New(seed)
	assert.Equal(t, 2, c.Len())

	sig, ok := c.Lookup("a.meta")
	require.True(t, ok)
	assert.Equal(t, int64(1), sig.Size)

	c.MarkVisited("a.meta")
	c.Put("c.meta", schemas.Signature{Size: 3, MtimeNS: 30})

	unvisited := c.Unvisited()
	assert.Equal(t, []string{"b.meta"}, unvisited)

	c.Remove("b.meta")
	assert.Empty(t, c.Unvisited())
	assert.Equal(t, 2, c.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	c := New(map[string]schemas.Signature{"a": {Size: 1}})
	snap := c.Snapshot()
	snap["b"] = schemas.Signature{Size: 2}

	_, ok := c.Lookup("b")
	assert.False(t, ok, "mutating a snapshot must not touch the cache")
}
