package sigcache

import (
	"sync"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// Cache is the signature cache working set: path -> {size, mtime_ns, hash}.
// The change detector owns it exclusively; the persistent copy lives in the
// sqlite store and is loaded at scan start and flushed on successful commit.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]schemas.Signature
	visited map[string]struct{}
}

// New builds a cache seeded from the persisted entries.
func New(seed map[string]schemas.Signature) *Cache {
	entries := make(map[string]schemas.Signature, len(seed))
	for p, sig := range seed {
		entries[p] = sig
	}
	return &Cache{
		entries: entries,
		visited: make(map[string]struct{}),
	}
}

// Lookup returns the stored signature for a path.
func (c *Cache) Lookup(path string) (schemas.Signature, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sig, ok := c.entries[path]
	return sig, ok
}

// MarkVisited records that a path was seen this scan, without changing its
// signature. Unvisited entries become "deleted" in the post-walk sweep.
func (c *Cache) MarkVisited(path string) {
	c.mu.Lock()
	c.visited[path] = struct{}{}
	c.mu.Unlock()
}

// Put stores a fresh signature and marks the path visited.
func (c *Cache) Put(path string, sig schemas.Signature) {
	c.mu.Lock()
	c.entries[path] = sig
	c.visited[path] = struct{}{}
	c.mu.Unlock()
}

// Remove drops a path, used when a deletion is committed.
func (c *Cache) Remove(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	delete(c.visited, path)
	c.mu.Unlock()
}

// Unvisited returns every cached path not seen this scan: the deletion set.
func (c *Cache) Unvisited() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var missing []string
	for p := range c.entries {
		if _, ok := c.visited[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// Snapshot copies the current entries for flushing to the persistent store.
func (c *Cache) Snapshot() map[string]schemas.Signature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]schemas.Signature, len(c.entries))
	for p, sig := range c.entries {
		out[p] = sig
	}
	return out
}

// Len reports the number of cached signatures.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
