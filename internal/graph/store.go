package graph

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// Store owns the node set, the edge multiset and the two indexes
// (guid -> node, path -> guid). It is an arena: nodes live in maps keyed by
// GUID and edges are attribute tuples, so the cyclic graph holds no pointer
// cycles.
//
// All mutation goes through the Updater's transactions; the exported surface
// here is read-only plus the lifecycle entry points the updater drives.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*schemas.Node
	out   map[string]map[schemas.EdgeKey]schemas.Edge
	in    map[string]map[schemas.EdgeKey]schemas.Edge
	paths map[string]string

	// version increments on every committed transaction; dependent caches
	// compare it to decide staleness.
	version uint64

	log *zap.Logger
}

// NewStore creates an empty graph store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		nodes: make(map[string]*schemas.Node),
		out:   make(map[string]map[schemas.EdgeKey]schemas.Edge),
		in:    make(map[string]map[schemas.EdgeKey]schemas.Edge),
		paths: make(map[string]string),
		log:   logger.Named("graphstore"),
	}
}

// Node returns a copy of the node for guid.
func (s *Store) Node(guid string) (schemas.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[guid]
	if !ok {
		return schemas.Node{}, false
	}
	return *n, true
}

// Edge returns the edge identified by the uniqueness tuple.
func (s *Store) Edge(key schemas.EdgeKey) (schemas.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.out[key.Source][key]
	return e, ok
}

// ResolvePath maps a project-relative path to the GUID of its active node.
func (s *Store) ResolvePath(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	guid, ok := s.paths[schemas.NormalizePath(path)]
	return guid, ok
}

// NeighborsOut returns copies of guid's outgoing edges.
func (s *Store) NeighborsOut(guid string) []schemas.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEdges(s.out[guid])
}

// NeighborsIn returns copies of guid's incoming edges.
func (s *Store) NeighborsIn(guid string) []schemas.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEdges(s.in[guid])
}

func copyEdges(m map[schemas.EdgeKey]schemas.Edge) []schemas.Edge {
	if len(m) == 0 {
		return nil
	}
	edges := make([]schemas.Edge, 0, len(m))
	for _, e := range m {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return lessEdge(edges[i], edges[j]) })
	return edges
}

func lessEdge(a, b schemas.Edge) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.Target != b.Target {
		return a.Target < b.Target
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.ContextPath < b.ContextPath
}

// Version returns the commit counter.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// NodeCount returns (total, active) node counts.
func (s *Store) NodeCount() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := 0
	for _, n := range s.nodes {
		if n.Active {
			active++
		}
	}
	return len(s.nodes), active
}

// EdgeCount returns (total, active) edge counts.
func (s *Store) EdgeCount() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total, active := 0, 0
	for _, edges := range s.out {
		for _, e := range edges {
			total++
			if e.Active {
				active++
			}
		}
	}
	return total, active
}

// Stats summarizes the graph for the stats command.
func (s *Store) Stats() schemas.GraphStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := schemas.GraphStats{
		NodesByKind: make(map[string]int),
		EdgesByKind: make(map[string]int),
	}
	for _, n := range s.nodes {
		stats.Nodes++
		if n.Active {
			stats.ActiveNodes++
			stats.NodesByKind[string(n.Kind)]++
		}
	}
	for _, edges := range s.out {
		for _, e := range edges {
			stats.Edges++
			if e.Active {
				stats.ActiveEdges++
				stats.EdgesByKind[string(e.Kind)]++
			}
		}
	}
	return stats
}

// Export snapshots the full graph in stable order for persistence and the
// export command.
func (s *Store) Export() *schemas.GraphExport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]schemas.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, *n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].GUID < nodes[j].GUID })

	var edges []schemas.Edge
	for _, m := range s.out {
		for _, e := range m {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return lessEdge(edges[i], edges[j]) })

	return &schemas.GraphExport{
		SchemaVersion: schemas.GraphSchemaVersion,
		ExportedAt:    time.Now().UTC(),
		NodeCount:     len(nodes),
		EdgeCount:     len(edges),
		Nodes:         nodes,
		Edges:         edges,
	}
}

// Load replaces the store contents from an export, used on cold start.
// It bypasses transactions on purpose: the snapshot was validated when it
// was committed.
func (s *Store) Load(export *schemas.GraphExport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]*schemas.Node, len(export.Nodes))
	s.out = make(map[string]map[schemas.EdgeKey]schemas.Edge)
	s.in = make(map[string]map[schemas.EdgeKey]schemas.Edge)
	s.paths = make(map[string]string, len(export.Nodes))

	for i := range export.Nodes {
		n := export.Nodes[i]
		s.nodes[n.GUID] = &n
		if n.Active {
			s.paths[n.Path] = n.GUID
		}
	}
	for _, e := range export.Edges {
		if _, ok := s.nodes[e.Source]; !ok {
			return &schemas.StateError{Detail: "snapshot edge with unknown source " + e.Source}
		}
		if _, ok := s.nodes[e.Target]; !ok {
			return &schemas.StateError{Detail: "snapshot edge with unknown target " + e.Target}
		}
		s.addEdgeLocked(e)
	}
	s.version++
	return nil
}

// ActiveAdjacency builds a plain adjacency list of the active subgraph for
// the cycle analyzer. The returned maps are private copies.
func (s *Store) ActiveAdjacency() map[string][]schemas.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	adj := make(map[string][]schemas.Edge, len(s.nodes))
	for guid, n := range s.nodes {
		if !n.Active {
			continue
		}
		adj[guid] = nil
	}
	for guid, edges := range s.out {
		if _, ok := adj[guid]; !ok {
			continue
		}
		for _, e := range edges {
			if !e.Active {
				continue
			}
			if _, ok := adj[e.Target]; !ok {
				continue
			}
			adj[guid] = append(adj[guid], e)
		}
		sort.Slice(adj[guid], func(i, j int) bool { return lessEdge(adj[guid][i], adj[guid][j]) })
	}
	return adj
}

// -- internal mutation surface (updater only, store lock held) --

func (s *Store) lock()   { s.mu.Lock() }
func (s *Store) unlock() { s.mu.Unlock() }

func (s *Store) nodeLocked(guid string) (*schemas.Node, bool) {
	n, ok := s.nodes[guid]
	return n, ok
}

func (s *Store) upsertNodeLocked(node schemas.Node) {
	if prev, ok := s.nodes[node.GUID]; ok && prev.Active && prev.Path != node.Path {
		delete(s.paths, prev.Path)
	}
	n := node
	s.nodes[node.GUID] = &n
	if node.Active {
		s.paths[node.Path] = node.GUID
	}
}

func (s *Store) removeNodeLocked(guid string) (schemas.Node, bool) {
	n, ok := s.nodes[guid]
	if !ok {
		return schemas.Node{}, false
	}
	old := *n
	if n.Active {
		delete(s.paths, n.Path)
	}
	n.Active = false
	// Deactivation cascades to the node's edges, both directions.
	for key, e := range s.out[guid] {
		e.Active = false
		s.out[guid][key] = e
		s.in[e.Target][key] = e
	}
	for key, e := range s.in[guid] {
		e.Active = false
		s.in[guid][key] = e
		s.out[e.Source][key] = e
	}
	return old, true
}

func (s *Store) addEdgeLocked(e schemas.Edge) {
	key := e.Key()
	if s.out[e.Source] == nil {
		s.out[e.Source] = make(map[schemas.EdgeKey]schemas.Edge)
	}
	if s.in[e.Target] == nil {
		s.in[e.Target] = make(map[schemas.EdgeKey]schemas.Edge)
	}
	s.out[e.Source][key] = e
	s.in[e.Target][key] = e
}

func (s *Store) removeEdgeLocked(key schemas.EdgeKey) (schemas.Edge, bool) {
	e, ok := s.out[key.Source][key]
	if !ok {
		return schemas.Edge{}, false
	}
	delete(s.out[key.Source], key)
	delete(s.in[key.Target], key)
	return e, true
}

func (s *Store) outEdgesLocked(guid string) []schemas.Edge {
	return copyEdges(s.out[guid])
}

func (s *Store) pathOwnerLocked(path string) (string, bool) {
	guid, ok := s.paths[path]
	return guid, ok
}

func (s *Store) bumpVersionLocked() {
	s.version++
}
