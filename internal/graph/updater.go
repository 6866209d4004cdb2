package graph

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// OpType names the buffered mutation primitives.
type OpType string

const (
	OpAddNode      OpType = "add_node"
	OpUpdateNode   OpType = "update_node"
	OpRemoveNode   OpType = "remove_node"
	OpAddEdge      OpType = "add_edge"
	OpRemoveEdge   OpType = "remove_edge"
	OpReplaceEdges OpType = "replace_edges"
)

// Operation is one buffered mutation. Which fields are set depends on Type.
type Operation struct {
	Type     OpType
	GUID     string
	Node     *schemas.Node
	Edge     *schemas.Edge
	Key      *schemas.EdgeKey
	NewEdges []schemas.Edge
}

// TxStatus is a transaction's terminal state. FAILED means nothing was ever
// applied; ROLLED_BACK means forward application started and was reversed.
type TxStatus string

const (
	TxCommitted  TxStatus = "COMMITTED"
	TxFailed     TxStatus = "FAILED"
	TxRolledBack TxStatus = "ROLLED_BACK"
)

// TxResult records a transaction's outcome in the updater history.
type TxResult struct {
	TransactionID string             `json:"transaction_id"`
	Status        TxStatus           `json:"status"`
	Conflicts     []schemas.Conflict `json:"conflicts,omitempty"`
	NodesUpserted int                `json:"nodes_upserted"`
	NodesRemoved  int                `json:"nodes_removed"`
	EdgesAdded    int                `json:"edges_added"`
	EdgesRemoved  int                `json:"edges_removed"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
}

// Stats carries the updater's monotonic counters.
type Stats struct {
	TotalOperations      atomic.Int64
	SuccessfulOperations atomic.Int64
	FailedOperations     atomic.Int64
	ConflictsDetected    atomic.Int64
	Rollbacks            atomic.Int64
	CacheInvalidations   atomic.Int64
}

// Snapshot renders the counters as a plain map for reports.
func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"total_operations":      s.TotalOperations.Load(),
		"successful_operations": s.SuccessfulOperations.Load(),
		"failed_operations":     s.FailedOperations.Load(),
		"conflicts_detected":    s.ConflictsDetected.Load(),
		"rollbacks":             s.Rollbacks.Load(),
		"cache_invalidations":   s.CacheInvalidations.Load(),
	}
}

const maxHistory = 100

// Updater is the single mutation path into a Store. It turns buffered
// operation batches into all-or-nothing commits with conflict detection and
// inverse-operation rollback.
type Updater struct {
	store           *Store
	rejectNewCycles bool
	log             *zap.Logger

	mu         sync.Mutex
	history    []*TxResult
	stats      Stats
	invalidate []func()
}

// NewUpdater wires an updater to its store.
func NewUpdater(store *Store, rejectNewCycles bool, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		store:           store,
		rejectNewCycles: rejectNewCycles,
		log:             logger.Named("updater"),
	}
}

// OnCommit registers a callback run after every successful commit. The query
// cache and cycle analyzer use this to drop stale results.
func (u *Updater) OnCommit(fn func()) {
	u.mu.Lock()
	u.invalidate = append(u.invalidate, fn)
	u.mu.Unlock()
}

// Stats exposes the counter block.
func (u *Updater) Stats() *Stats {
	return &u.stats
}

// History returns the recent transaction results, newest last.
func (u *Updater) History() []*TxResult {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*TxResult, len(u.history))
	copy(out, u.history)
	return out
}

// Tx buffers operations until Commit.
type Tx struct {
	updater *Updater
	id      string
	ops     []Operation
	done    bool
}

// Begin opens a new transaction.
func (u *Updater) Begin() *Tx {
	return &Tx{updater: u, id: uuid.NewString()}
}

// ID returns the transaction identifier.
func (t *Tx) ID() string { return t.id }

// AddNode buffers a node upsert. The updater treats AddNode of an existing
// GUID as mergeable only when the paths agree or the old node is inactive.
func (t *Tx) AddNode(node schemas.Node) {
	node.Path = schemas.NormalizePath(node.Path)
	node.Active = true
	t.ops = append(t.ops, Operation{Type: OpAddNode, GUID: node.GUID, Node: &node})
}

// UpdateNode buffers an attribute update of an existing node.
func (t *Tx) UpdateNode(node schemas.Node) {
	node.Path = schemas.NormalizePath(node.Path)
	node.Active = true
	t.ops = append(t.ops, Operation{Type: OpUpdateNode, GUID: node.GUID, Node: &node})
}

// DeactivateNode buffers a soft delete: active=false with edge cascade.
func (t *Tx) DeactivateNode(guid string) {
	t.ops = append(t.ops, Operation{Type: OpRemoveNode, GUID: guid})
}

// AddEdge buffers a single edge insertion.
func (t *Tx) AddEdge(edge schemas.Edge) {
	edge.Active = true
	t.ops = append(t.ops, Operation{Type: OpAddEdge, Edge: &edge})
}

// RemoveEdge buffers an edge deletion by identity tuple.
func (t *Tx) RemoveEdge(key schemas.EdgeKey) {
	t.ops = append(t.ops, Operation{Type: OpRemoveEdge, Key: &key})
}

// ReplaceEdgesFrom buffers a wholesale rebuild of a source's outgoing edge
// set. The delta against the live set is computed inside the commit lock:
// missing edges are removed, new ones added, equal edges untouched.
func (t *Tx) ReplaceEdgesFrom(sourceGUID string, newEdges []schemas.Edge) {
	edges := make([]schemas.Edge, len(newEdges))
	for i, e := range newEdges {
		e.Source = sourceGUID
		e.Active = true
		edges[i] = e
	}
	t.ops = append(t.ops, Operation{Type: OpReplaceEdges, GUID: sourceGUID, NewEdges: edges})
}

// Empty reports whether the transaction has no buffered operations.
func (t *Tx) Empty() bool { return len(t.ops) == 0 }

// Commit runs the conflict passes and applies the batch atomically. On
// conflict the result status is FAILED and the store is untouched; if a
// primitive fails mid-apply, already-applied operations are reversed and the
// status is ROLLED_BACK.
func (t *Tx) Commit() (*TxResult, error) {
	if t.done {
		return nil, &schemas.StateError{Detail: "transaction committed twice"}
	}
	t.done = true

	u := t.updater
	u.mu.Lock()
	defer u.mu.Unlock()

	result := &TxResult{TransactionID: t.id, StartedAt: time.Now().UTC()}
	u.stats.TotalOperations.Add(int64(len(t.ops)))

	u.store.lock()
	ops := u.expandLocked(t.ops)

	conflicts := u.detectConflictsLocked(ops)
	if len(conflicts) > 0 {
		u.store.unlock()
		result.Status = TxFailed
		result.Conflicts = conflicts
		result.FinishedAt = time.Now().UTC()
		u.recordLocked(result)
		u.stats.FailedOperations.Add(int64(len(t.ops)))
		u.stats.ConflictsDetected.Add(int64(len(conflicts)))
		u.log.Warn("transaction rejected",
			zap.String("transaction_id", t.id), zap.Int("conflicts", len(conflicts)))
		return result, &schemas.ConflictError{TransactionID: t.id, Conflicts: conflicts}
	}

	inverse, applyErr := u.applyLocked(ops, result)
	if applyErr != nil {
		u.reverseLocked(inverse)
		u.store.unlock()
		result.Status = TxRolledBack
		result.FinishedAt = time.Now().UTC()
		u.recordLocked(result)
		u.stats.Rollbacks.Add(1)
		u.stats.FailedOperations.Add(int64(len(t.ops)))
		u.log.Error("transaction rolled back", zap.String("transaction_id", t.id), zap.Error(applyErr))
		return result, applyErr
	}

	u.store.bumpVersionLocked()
	u.store.unlock()

	result.Status = TxCommitted
	result.FinishedAt = time.Now().UTC()
	u.recordLocked(result)
	u.stats.SuccessfulOperations.Add(int64(len(t.ops)))

	for _, fn := range u.invalidate {
		fn()
	}
	u.stats.CacheInvalidations.Add(int64(len(u.invalidate)))

	return result, nil
}

// expandLocked rewrites ReplaceEdges into concrete add/remove primitives by
// diffing against the source's current outgoing set. Store lock held.
func (u *Updater) expandLocked(ops []Operation) []Operation {
	expanded := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if op.Type != OpReplaceEdges {
			expanded = append(expanded, op)
			continue
		}

		current := u.store.outEdgesLocked(op.GUID)
		next := make(map[schemas.EdgeKey]schemas.Edge, len(op.NewEdges))
		for _, e := range op.NewEdges {
			next[e.Key()] = e
		}

		for _, old := range current {
			want, keep := next[old.Key()]
			// An inactive survivor from a deactivation cascade is rebuilt,
			// not kept: equality only spares live identical edges.
			if keep && old.Active && old.Equal(want) {
				delete(next, old.Key())
				continue
			}
			key := old.Key()
			expanded = append(expanded, Operation{Type: OpRemoveEdge, Key: &key})
		}
		for _, e := range op.NewEdges {
			if want, ok := next[e.Key()]; ok {
				edge := want
				expanded = append(expanded, Operation{Type: OpAddEdge, Edge: &edge})
			}
		}
	}
	return expanded
}

// detectConflictsLocked runs the four passes — existence, edge validity,
// cycle introduction, data consistency — against the tentative post-batch
// state. Store lock held.
func (u *Updater) detectConflictsLocked(ops []Operation) []schemas.Conflict {
	var conflicts []schemas.Conflict

	// Tentative view of node liveness after the batch.
	tentative := make(map[string]bool)
	nodeAlive := func(guid string) bool {
		if alive, ok := tentative[guid]; ok {
			return alive
		}
		n, ok := u.store.nodeLocked(guid)
		return ok && n.Active
	}
	nodeKnown := func(guid string) bool {
		if _, ok := tentative[guid]; ok {
			return true
		}
		_, ok := u.store.nodeLocked(guid)
		return ok
	}

	// Pass 1: existence.
	for _, op := range ops {
		switch op.Type {
		case OpAddNode:
			if prev, ok := u.store.nodeLocked(op.GUID); ok && prev.Active && prev.Path != op.Node.Path {
				conflicts = append(conflicts, schemas.Conflict{
					Kind:   schemas.ConflictNodeExistence,
					Detail: fmt.Sprintf("node %s exists at %s, cannot re-add at %s", op.GUID, prev.Path, op.Node.Path),
				})
				continue
			}
			tentative[op.GUID] = true
		case OpUpdateNode:
			if !nodeKnown(op.GUID) {
				conflicts = append(conflicts, schemas.Conflict{
					Kind:   schemas.ConflictNodeExistence,
					Detail: "update of absent node " + op.GUID,
				})
				continue
			}
			tentative[op.GUID] = true
		case OpRemoveNode:
			if !nodeKnown(op.GUID) {
				conflicts = append(conflicts, schemas.Conflict{
					Kind:   schemas.ConflictNodeExistence,
					Detail: "removal of absent node " + op.GUID,
				})
				continue
			}
			tentative[op.GUID] = false
		}
	}

	// Pass 2: edge validity.
	for _, op := range ops {
		if op.Type != OpAddEdge {
			continue
		}
		e := op.Edge
		if !nodeAlive(e.Source) {
			conflicts = append(conflicts, schemas.Conflict{
				Kind:   schemas.ConflictEdgeValidity,
				Detail: fmt.Sprintf("edge %s -> %s: source absent or inactive", e.Source, e.Target),
			})
		}
		if !nodeAlive(e.Target) {
			conflicts = append(conflicts, schemas.Conflict{
				Kind:   schemas.ConflictEdgeValidity,
				Detail: fmt.Sprintf("edge %s -> %s: target absent or inactive", e.Source, e.Target),
			})
		}
	}

	// Pass 3: cycle introduction. A new SCC of size >= 2 forming solely
	// because of this batch is a conflict when configured.
	if u.rejectNewCycles {
		conflicts = append(conflicts, u.detectNewCyclesLocked(ops)...)
	}

	// Pass 4: data consistency.
	conflicts = append(conflicts, u.detectConsistencyLocked(ops)...)

	return conflicts
}

func (u *Updater) detectNewCyclesLocked(ops []Operation) []schemas.Conflict {
	adds := make([]schemas.Edge, 0)
	removed := make(map[schemas.EdgeKey]struct{})
	for _, op := range ops {
		switch op.Type {
		case OpAddEdge:
			adds = append(adds, *op.Edge)
		case OpRemoveEdge:
			removed[*op.Key] = struct{}{}
		}
	}
	if len(adds) == 0 {
		return nil
	}

	// Tentative adjacency: live edges minus removals plus additions.
	adj := make(map[string][]string)
	for src, edges := range u.store.out {
		for key, e := range edges {
			if !e.Active {
				continue
			}
			if _, gone := removed[key]; gone {
				continue
			}
			adj[src] = append(adj[src], e.Target)
		}
	}
	for _, e := range adds {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	var conflicts []schemas.Conflict
	for _, e := range adds {
		if e.Source == e.Target {
			// A self-loop is an SCC of size 1; the strict rule targets
			// multi-node components.
			continue
		}
		if !reachable(adj, e.Target, e.Source) {
			continue
		}
		// The cycle exists tentatively. It is new only if the endpoints were
		// not already mutually reachable before the batch.
		if u.mutuallyReachableLocked(e.Source, e.Target) {
			continue
		}
		conflicts = append(conflicts, schemas.Conflict{
			Kind:   schemas.ConflictCycleIntroduced,
			Detail: fmt.Sprintf("edge %s -> %s closes a new cycle", e.Source, e.Target),
		})
	}
	return conflicts
}

func (u *Updater) mutuallyReachableLocked(a, b string) bool {
	adj := make(map[string][]string)
	for src, edges := range u.store.out {
		for _, e := range edges {
			if e.Active {
				adj[src] = append(adj[src], e.Target)
			}
		}
	}
	return reachable(adj, a, b) && reachable(adj, b, a)
}

func reachable(adj map[string][]string, from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]struct{}{from: {}}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[n] {
			if next == to {
				return true
			}
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return false
}

func (u *Updater) detectConsistencyLocked(ops []Operation) []schemas.Conflict {
	var conflicts []schemas.Conflict
	claimedPaths := make(map[string]string)
	removedNodes := make(map[string]struct{})
	for _, op := range ops {
		if op.Type == OpRemoveNode {
			removedNodes[op.GUID] = struct{}{}
		}
	}

	for _, op := range ops {
		switch op.Type {
		case OpAddNode, OpUpdateNode:
			if !schemas.IsGUID(op.GUID) {
				conflicts = append(conflicts, schemas.Conflict{
					Kind:   schemas.ConflictDataConsistency,
					Detail: "malformed guid " + op.GUID,
				})
				continue
			}
			path := op.Node.Path
			if owner, ok := claimedPaths[path]; ok && owner != op.GUID {
				conflicts = append(conflicts, schemas.Conflict{
					Kind:   schemas.ConflictDataConsistency,
					Detail: fmt.Sprintf("path %s claimed by both %s and %s in batch", path, owner, op.GUID),
				})
				continue
			}
			claimedPaths[path] = op.GUID
			if owner, ok := u.store.pathOwnerLocked(path); ok && owner != op.GUID {
				if _, beingRemoved := removedNodes[owner]; !beingRemoved {
					conflicts = append(conflicts, schemas.Conflict{
						Kind:   schemas.ConflictDataConsistency,
						Detail: fmt.Sprintf("path %s already owned by active node %s", path, owner),
					})
				}
			}
		case OpAddEdge:
			if !schemas.IsGUID(op.Edge.Source) || !schemas.IsGUID(op.Edge.Target) {
				conflicts = append(conflicts, schemas.Conflict{
					Kind:   schemas.ConflictDataConsistency,
					Detail: fmt.Sprintf("edge with malformed endpoint %s -> %s", op.Edge.Source, op.Edge.Target),
				})
			}
		}
	}
	return conflicts
}

// inverseOp reverses one applied primitive during rollback.
type inverseOp struct {
	apply func()
}

// applyLocked executes the batch, buffering the inverse of every primitive as
// it lands. Store lock held throughout.
func (u *Updater) applyLocked(ops []Operation, result *TxResult) ([]inverseOp, error) {
	var inverse []inverseOp

	for _, op := range ops {
		switch op.Type {
		case OpAddNode, OpUpdateNode:
			prev, existed := u.store.nodeLocked(op.GUID)
			if existed {
				old := *prev
				inverse = append(inverse, inverseOp{apply: func() { u.store.upsertNodeLocked(old) }})
			} else {
				guid, path := op.GUID, op.Node.Path
				inverse = append(inverse, inverseOp{apply: func() {
					delete(u.store.nodes, guid)
					delete(u.store.paths, path)
				}})
			}
			u.store.upsertNodeLocked(*op.Node)
			result.NodesUpserted++

		case OpRemoveNode:
			// Snapshot the cascade set before deactivation so rollback can
			// restore edge activity exactly.
			guid := op.GUID
			touched := make(map[schemas.EdgeKey]schemas.Edge)
			for key, e := range u.store.out[guid] {
				touched[key] = e
			}
			for key, e := range u.store.in[guid] {
				touched[key] = e
			}
			old, ok := u.store.removeNodeLocked(guid)
			if !ok {
				return inverse, &schemas.StateError{Detail: "remove of absent node " + guid + " passed conflict detection"}
			}
			inverse = append(inverse, inverseOp{apply: func() {
				u.store.upsertNodeLocked(old)
				for _, e := range touched {
					u.store.addEdgeLocked(e)
				}
			}})
			result.NodesRemoved++

		case OpAddEdge:
			key := op.Edge.Key()
			prev, existed := u.store.out[key.Source][key]
			if existed {
				inverse = append(inverse, inverseOp{apply: func() { u.store.addEdgeLocked(prev) }})
			} else {
				inverse = append(inverse, inverseOp{apply: func() { u.store.removeEdgeLocked(key) }})
			}
			u.store.addEdgeLocked(*op.Edge)
			result.EdgesAdded++

		case OpRemoveEdge:
			old, ok := u.store.removeEdgeLocked(*op.Key)
			if !ok {
				return inverse, &schemas.StateError{Detail: fmt.Sprintf("remove of absent edge %v passed conflict detection", *op.Key)}
			}
			inverse = append(inverse, inverseOp{apply: func() { u.store.addEdgeLocked(old) }})
			result.EdgesRemoved++

		default:
			return inverse, &schemas.StateError{Detail: "unexpandable operation " + string(op.Type)}
		}
	}
	return inverse, nil
}

// reverseLocked undoes applied primitives latest-first.
func (u *Updater) reverseLocked(inverse []inverseOp) {
	for i := len(inverse) - 1; i >= 0; i-- {
		inverse[i].apply()
	}
}

func (u *Updater) recordLocked(result *TxResult) {
	u.history = append(u.history, result)
	if len(u.history) > maxHistory {
		u.history = u.history[len(u.history)-maxHistory:]
	}
}
