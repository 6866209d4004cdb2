package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// Options filter every query before descent.
type Options struct {
	MaxDepth        int // 0 means unbounded
	AssetKinds      []schemas.AssetKind
	DepKinds        []schemas.DepKind
	MinStrength     schemas.Strength
	IncludeInactive bool
	UseCache        bool
	// Timeout bounds traversal wall-clock time; 0 means no deadline.
	Timeout time.Duration
}

// ErrQueryTimeout is returned when a traversal exceeds Options.Timeout.
var ErrQueryTimeout = errors.New("query deadline exceeded")

// deadline materializes the option into an absolute time, zero when unset.
func (o Options) deadline() time.Time {
	if o.Timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(o.Timeout)
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

// DefaultOptions matches the documented query defaults.
func DefaultOptions() Options {
	return Options{UseCache: true}
}

// normalize renders options into a stable cache key fragment.
func (o Options) normalize() string {
	kinds := make([]string, len(o.AssetKinds))
	for i, k := range o.AssetKinds {
		kinds[i] = string(k)
	}
	sort.Strings(kinds)
	deps := make([]string, len(o.DepKinds))
	for i, k := range o.DepKinds {
		deps[i] = string(k)
	}
	sort.Strings(deps)
	return fmt.Sprintf("d=%d|ak=%s|dk=%s|ms=%d|ii=%t",
		o.MaxDepth, strings.Join(kinds, ","), strings.Join(deps, ","), o.MinStrength, o.IncludeInactive)
}

func (o Options) allowsNode(n schemas.Node) bool {
	if !o.IncludeInactive && !n.Active {
		return false
	}
	if len(o.AssetKinds) == 0 {
		return true
	}
	for _, k := range o.AssetKinds {
		if n.Kind == k {
			return true
		}
	}
	return false
}

func (o Options) allowsEdge(e schemas.Edge) bool {
	if !o.IncludeInactive && !e.Active {
		return false
	}
	if e.Strength < o.MinStrength {
		return false
	}
	if len(o.DepKinds) == 0 {
		return true
	}
	for _, k := range o.DepKinds {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// ClosureResult is the output of the transitive queries: the reached nodes
// and each node's first-seen depth.
type ClosureResult struct {
	GUIDs    []string       `json:"guids"`
	DepthMap map[string]int `json:"depth_map"`
}

// DepthDistribution counts reached nodes per depth level.
func (c *ClosureResult) DepthDistribution() map[int]int {
	dist := make(map[int]int)
	for _, d := range c.DepthMap {
		dist[d]++
	}
	return dist
}

// TreeNode is one level of a dependency or reference tree. Circular marks a
// truncated re-visit.
type TreeNode struct {
	GUID     string            `json:"guid"`
	Path     string            `json:"path,omitempty"`
	Kind     schemas.AssetKind `json:"kind,omitempty"`
	Edge     *schemas.Edge     `json:"edge,omitempty"`
	Circular bool              `json:"circular,omitempty"`
	Children []*TreeNode       `json:"children,omitempty"`
}

// ImpactOp selects the impact-analysis filter.
type ImpactOp string

const (
	ImpactDelete ImpactOp = "delete"
	ImpactModify ImpactOp = "modify"
	ImpactMove   ImpactOp = "move"
)

// Severity grades an impact or cycle result.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ImpactResult is the reverse-closure verdict for a proposed operation.
type ImpactResult struct {
	Target      string           `json:"target"`
	Op          ImpactOp         `json:"op"`
	Affected    []string         `json:"affected"`
	Severity    Severity         `json:"severity"`
	MaxStrength schemas.Strength `json:"max_strength"`
}

// ValidationIssue is one finding from ValidateRefs.
type ValidationIssue struct {
	Edge   schemas.Edge `json:"edge"`
	Reason string       `json:"reason"`
}

// ErrNotFound distinguishes a missing query root from an empty result.
type ErrNotFound struct {
	GUID string
}

func (e *ErrNotFound) Error() string {
	return "node not found: " + e.GUID
}

// Engine provides the read-only traversal surface over a Store, with a
// TTL-bounded result cache evicted wholesale on every commit.
type Engine struct {
	store *Store
	ttl   time.Duration
	log   *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// NewEngine builds a query engine. Wire Invalidate into the updater's
// OnCommit so mutations drop cached results.
func NewEngine(store *Store, ttl time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store: store,
		ttl:   ttl,
		log:   logger.Named("query"),
		cache: make(map[string]cacheEntry),
	}
}

// Invalidate drops every cached result.
func (q *Engine) Invalidate() {
	q.mu.Lock()
	q.cache = make(map[string]cacheEntry)
	q.mu.Unlock()
}

func (q *Engine) cached(key string) (any, bool) {
	q.mu.RLock()
	entry, ok := q.cache[key]
	q.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.value, true
}

func (q *Engine) putCache(key string, value any) {
	if q.ttl <= 0 {
		return
	}
	q.mu.Lock()
	q.cache[key] = cacheEntry{value: value, expires: time.Now().Add(q.ttl)}
	q.mu.Unlock()
}

func (q *Engine) requireNode(guid string, opts Options) (schemas.Node, error) {
	n, ok := q.store.Node(guid)
	if !ok {
		return schemas.Node{}, &ErrNotFound{GUID: guid}
	}
	if !opts.IncludeInactive && !n.Active {
		return schemas.Node{}, &ErrNotFound{GUID: guid}
	}
	return n, nil
}

// edgesFrom returns guid's outgoing or incoming edges filtered by opts, with
// the far endpoint's node filter applied too.
func (q *Engine) edgesFrom(guid string, reverse bool, opts Options) []schemas.Edge {
	var raw []schemas.Edge
	if reverse {
		raw = q.store.NeighborsIn(guid)
	} else {
		raw = q.store.NeighborsOut(guid)
	}
	var out []schemas.Edge
	for _, e := range raw {
		if !opts.allowsEdge(e) {
			continue
		}
		far := e.Target
		if reverse {
			far = e.Source
		}
		n, ok := q.store.Node(far)
		if !ok || !opts.allowsNode(n) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// DirectDeps returns guid's one-hop outgoing edges.
func (q *Engine) DirectDeps(guid string, opts Options) ([]schemas.Edge, error) {
	return q.direct(guid, false, opts)
}

// DirectRefs returns guid's one-hop incoming edges.
func (q *Engine) DirectRefs(guid string, opts Options) ([]schemas.Edge, error) {
	return q.direct(guid, true, opts)
}

func (q *Engine) direct(guid string, reverse bool, opts Options) ([]schemas.Edge, error) {
	op := "direct_deps"
	if reverse {
		op = "direct_refs"
	}
	key := op + "|" + guid + "|" + opts.normalize()
	if opts.UseCache {
		if v, ok := q.cached(key); ok {
			return v.([]schemas.Edge), nil
		}
	}
	if _, err := q.requireNode(guid, opts); err != nil {
		return nil, err
	}
	edges := q.edgesFrom(guid, reverse, opts)
	if opts.UseCache {
		q.putCache(key, edges)
	}
	return edges, nil
}

// AllDeps returns the forward reachability closure with first-seen depths.
func (q *Engine) AllDeps(guid string, opts Options) (*ClosureResult, error) {
	return q.closure(guid, false, opts)
}

// AllRefs returns the reverse reachability closure with first-seen depths.
func (q *Engine) AllRefs(guid string, opts Options) (*ClosureResult, error) {
	return q.closure(guid, true, opts)
}

// closure is a cycle-safe BFS so depths are minimal and the traversal is
// depth-cappable.
func (q *Engine) closure(guid string, reverse bool, opts Options) (*ClosureResult, error) {
	op := "all_deps"
	if reverse {
		op = "all_refs"
	}
	key := op + "|" + guid + "|" + opts.normalize()
	if opts.UseCache {
		if v, ok := q.cached(key); ok {
			return v.(*ClosureResult), nil
		}
	}
	if _, err := q.requireNode(guid, opts); err != nil {
		return nil, err
	}

	deadline := opts.deadline()
	depth := map[string]int{guid: 0}
	queue := []string{guid}
	for len(queue) > 0 {
		if expired(deadline) {
			return nil, ErrQueryTimeout
		}
		current := queue[0]
		queue = queue[1:]
		d := depth[current]
		if opts.MaxDepth > 0 && d >= opts.MaxDepth {
			continue
		}
		for _, e := range q.edgesFrom(current, reverse, opts) {
			far := e.Target
			if reverse {
				far = e.Source
			}
			if _, seen := depth[far]; seen {
				continue
			}
			depth[far] = d + 1
			queue = append(queue, far)
		}
	}

	delete(depth, guid)
	guids := make([]string, 0, len(depth))
	for g := range depth {
		guids = append(guids, g)
	}
	sort.Strings(guids)
	result := &ClosureResult{GUIDs: guids, DepthMap: depth}
	if opts.UseCache {
		q.putCache(key, result)
	}
	return result, nil
}

// ShortestPath finds a forward BFS path from a to b, nil when unreachable.
func (q *Engine) ShortestPath(a, b string, opts Options) ([]string, error) {
	if _, err := q.requireNode(a, opts); err != nil {
		return nil, err
	}
	if _, err := q.requireNode(b, opts); err != nil {
		return nil, err
	}
	if a == b {
		return []string{a}, nil
	}

	deadline := opts.deadline()
	parent := map[string]string{a: ""}
	queue := []string{a}
	depth := map[string]int{a: 0}
	for len(queue) > 0 {
		if expired(deadline) {
			return nil, ErrQueryTimeout
		}
		current := queue[0]
		queue = queue[1:]
		if opts.MaxDepth > 0 && depth[current] >= opts.MaxDepth {
			continue
		}
		for _, e := range q.edgesFrom(current, false, opts) {
			if _, seen := parent[e.Target]; seen {
				continue
			}
			parent[e.Target] = current
			depth[e.Target] = depth[current] + 1
			if e.Target == b {
				return rebuildPath(parent, b), nil
			}
			queue = append(queue, e.Target)
		}
	}
	return nil, nil
}

func rebuildPath(parent map[string]string, end string) []string {
	var rev []string
	for n := end; n != ""; n = parent[n] {
		rev = append(rev, n)
	}
	path := make([]string, len(rev))
	for i, n := range rev {
		path[len(rev)-1-i] = n
	}
	return path
}

// SimplePaths enumerates loop-free forward paths from a to b up to the depth
// cap, capped at maxPaths results.
func (q *Engine) SimplePaths(a, b string, opts Options, maxPaths int) ([][]string, error) {
	if _, err := q.requireNode(a, opts); err != nil {
		return nil, err
	}
	if _, err := q.requireNode(b, opts); err != nil {
		return nil, err
	}
	limit := opts.MaxDepth
	if limit <= 0 {
		limit = 16
	}
	if maxPaths <= 0 {
		maxPaths = 100
	}

	deadline := opts.deadline()
	var (
		paths   [][]string
		onPath  = map[string]bool{a: true}
		current = []string{a}
	)
	var dfs func(node string)
	dfs = func(node string) {
		if len(paths) >= maxPaths || expired(deadline) {
			return
		}
		if node == b && len(current) > 1 {
			paths = append(paths, append([]string(nil), current...))
			return
		}
		if len(current) > limit {
			return
		}
		for _, e := range q.edgesFrom(node, false, opts) {
			if onPath[e.Target] {
				continue
			}
			onPath[e.Target] = true
			current = append(current, e.Target)
			dfs(e.Target)
			current = current[:len(current)-1]
			delete(onPath, e.Target)
		}
	}
	dfs(a)
	return paths, nil
}

// DepTree builds the recursive forward tree with circular truncation marks.
func (q *Engine) DepTree(guid string, opts Options) (*TreeNode, error) {
	return q.tree(guid, false, opts)
}

// RefTree mirrors DepTree on the reverse graph.
func (q *Engine) RefTree(guid string, opts Options) (*TreeNode, error) {
	return q.tree(guid, true, opts)
}

func (q *Engine) tree(guid string, reverse bool, opts Options) (*TreeNode, error) {
	node, err := q.requireNode(guid, opts)
	if err != nil {
		return nil, err
	}

	var build func(g string, edge *schemas.Edge, depth int, onPath map[string]bool) *TreeNode
	build = func(g string, edge *schemas.Edge, depth int, onPath map[string]bool) *TreeNode {
		n, _ := q.store.Node(g)
		tn := &TreeNode{GUID: g, Path: n.Path, Kind: n.Kind, Edge: edge}
		if onPath[g] {
			tn.Circular = true
			return tn
		}
		if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
			return tn
		}
		onPath[g] = true
		for _, e := range q.edgesFrom(g, reverse, opts) {
			far := e.Target
			if reverse {
				far = e.Source
			}
			child := e
			tn.Children = append(tn.Children, build(far, &child, depth+1, onPath))
		}
		delete(onPath, g)
		return tn
	}

	root := build(node.GUID, nil, 0, make(map[string]bool))
	return root, nil
}

// Impact computes the reverse-closure consequence set of deleting, modifying
// or moving an asset.
func (q *Engine) Impact(guid string, op ImpactOp, opts Options) (*ImpactResult, error) {
	base := opts
	base.UseCache = false
	switch op {
	case ImpactDelete:
		// Everything upstream breaks.
	case ImpactModify:
		base.MinStrength = schemas.StrengthStrong
	case ImpactMove:
		base.DepKinds = []schemas.DepKind{schemas.DepPathReference}
	default:
		return nil, fmt.Errorf("unknown impact op %q", op)
	}

	closure, err := q.closure(guid, true, base)
	if err != nil {
		return nil, err
	}

	maxStrength := schemas.StrengthWeak
	for _, affected := range closure.GUIDs {
		for _, e := range q.store.NeighborsOut(affected) {
			if e.Active && e.Strength > maxStrength {
				maxStrength = e.Strength
			}
		}
	}

	result := &ImpactResult{
		Target:      guid,
		Op:          op,
		Affected:    closure.GUIDs,
		Severity:    impactSeverity(len(closure.GUIDs)),
		MaxStrength: maxStrength,
	}
	return result, nil
}

func impactSeverity(affected int) Severity {
	switch {
	case affected >= 10:
		return SeverityHigh
	case affected >= 1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Unused returns active nodes with no active incoming edges, optionally
// excluding root kinds (scenes) that are legitimately unreferenced.
func (q *Engine) Unused(opts Options, excludeRoots bool) []schemas.Node {
	export := q.store.Export()
	var unused []schemas.Node
	for _, n := range export.Nodes {
		if !opts.allowsNode(n) {
			continue
		}
		if excludeRoots && n.Kind == schemas.KindScene {
			continue
		}
		inbound := false
		for _, e := range q.store.NeighborsIn(n.GUID) {
			if opts.allowsEdge(e) {
				inbound = true
				break
			}
		}
		if !inbound {
			unused = append(unused, n)
		}
	}
	sort.Slice(unused, func(i, j int) bool { return unused[i].GUID < unused[j].GUID })
	return unused
}

// ValidateRefs sanity-checks the edges around one node: missing endpoints,
// malformed GUIDs, inactive targets, duplicate identity tuples.
func (q *Engine) ValidateRefs(guid string) ([]ValidationIssue, error) {
	if _, ok := q.store.Node(guid); !ok {
		return nil, &ErrNotFound{GUID: guid}
	}

	var issues []ValidationIssue
	seen := make(map[schemas.EdgeKey]int)
	for _, e := range q.store.NeighborsOut(guid) {
		seen[e.Key()]++
		if !schemas.IsGUID(e.Target) {
			issues = append(issues, ValidationIssue{Edge: e, Reason: "malformed target guid"})
			continue
		}
		target, ok := q.store.Node(e.Target)
		if !ok {
			issues = append(issues, ValidationIssue{Edge: e, Reason: "target node missing"})
			continue
		}
		if e.Active && !target.Active {
			issues = append(issues, ValidationIssue{Edge: e, Reason: "active edge into inactive target"})
		}
	}
	for key, count := range seen {
		if count > 1 {
			e, _ := q.store.Edge(key)
			issues = append(issues, ValidationIssue{Edge: e, Reason: "duplicate edge tuple"})
		}
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Edge.Target != issues[j].Edge.Target {
			return issues[i].Edge.Target < issues[j].Edge.Target
		}
		return issues[i].Reason < issues[j].Reason
	})
	return issues, nil
}
