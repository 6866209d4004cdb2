package graph

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// CycleType buckets cycles by length.
type CycleType string

const (
	CycleSelfLoop CycleType = "self_loop"
	CycleSimple   CycleType = "simple_cycle"
	CycleComplex  CycleType = "complex_cycle"
	CycleNested   CycleType = "nested_cycle"
)

// DefaultMaxCycleLength bounds Johnson's enumeration.
const DefaultMaxCycleLength = 20

// incrementalThreshold is the affected-subgraph fraction above which an
// incremental request degrades to a full re-analysis.
const incrementalThreshold = 0.10

// Cycle is one deduplicated simple cycle in canonical rotation.
type Cycle struct {
	Nodes      []string       `json:"nodes"`
	Length     int            `json:"length"`
	Type       CycleType      `json:"type"`
	Severity   Severity       `json:"severity"`
	BreakEdges []schemas.Edge `json:"break_edges,omitempty"`
}

// Hotspot is a node participating in two or more cycles.
type Hotspot struct {
	GUID  string `json:"guid"`
	Count int    `json:"count"`
}

// Report is the cycle analysis result. Field order is fixed and maps marshal
// with sorted keys, so serialized reports diff cleanly across runs.
type Report struct {
	Cycles            []Cycle        `json:"cycles"`
	SCCs              [][]string     `json:"sccs"`
	CountsByType      map[string]int `json:"counts_by_type"`
	CountsBySeverity  map[string]int `json:"counts_by_severity"`
	AffectedNodes     []string       `json:"affected_nodes"`
	HotspotNodes      []Hotspot      `json:"hotspot_nodes"`
	LargestCycle      *Cycle         `json:"largest_cycle,omitempty"`
	MostCriticalCycle *Cycle         `json:"most_critical_cycle,omitempty"`
	AnalysisTimeMS    int64          `json:"analysis_time_ms"`
	Algorithm         string         `json:"algorithm"`
	AnalyzedAt        time.Time      `json:"analyzed_at"`
}

// Analyzer enumerates and classifies cycles over a store snapshot. It holds
// only read references during analysis and caches the last full report until
// the next commit invalidates it.
type Analyzer struct {
	store          *Store
	maxCycleLength int
	log            *zap.Logger

	mu         sync.Mutex
	lastReport *Report
	lastVersion uint64
}

// NewAnalyzer builds a cycle analyzer.
func NewAnalyzer(store *Store, maxCycleLength int, logger *zap.Logger) *Analyzer {
	if maxCycleLength <= 0 {
		maxCycleLength = DefaultMaxCycleLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		store:          store,
		maxCycleLength: maxCycleLength,
		log:            logger.Named("cycles"),
	}
}

// Invalidate drops the cached report; wire into the updater's OnCommit.
func (a *Analyzer) Invalidate() {
	a.mu.Lock()
	a.lastReport = nil
	a.mu.Unlock()
}

// Analyze runs a full SCC + simple-cycle enumeration over the active graph.
func (a *Analyzer) Analyze() *Report {
	a.mu.Lock()
	if a.lastReport != nil && a.lastVersion == a.store.Version() {
		report := a.lastReport
		a.mu.Unlock()
		return report
	}
	a.mu.Unlock()

	adj := a.store.ActiveAdjacency()
	report := a.analyzeAdjacency(adj, "tarjan+johnson")

	a.mu.Lock()
	a.lastReport = report
	a.lastVersion = a.store.Version()
	a.mu.Unlock()
	return report
}

// AnalyzeIncremental restricts the work to the SCCs touching the changed
// nodes plus a one-hop expansion. A large affected region falls back to the
// full pass.
func (a *Analyzer) AnalyzeIncremental(changed []string) *Report {
	adj := a.store.ActiveAdjacency()
	if len(adj) == 0 {
		return a.analyzeAdjacency(adj, "tarjan+johnson")
	}

	plain := make(map[string][]string, len(adj))
	for n, edges := range adj {
		for _, e := range edges {
			plain[n] = append(plain[n], e.Target)
		}
		if _, ok := plain[n]; !ok {
			plain[n] = nil
		}
	}

	sccs := tarjanSCC(plain)
	inSCC := make(map[string]int)
	for i, scc := range sccs {
		for _, n := range scc {
			inSCC[n] = i
		}
	}

	affected := make(map[string]struct{})
	for _, guid := range changed {
		if idx, ok := inSCC[guid]; ok {
			for _, n := range sccs[idx] {
				affected[n] = struct{}{}
			}
		}
	}
	// One-hop expansion in both directions.
	for _, guid := range changed {
		for _, e := range adj[guid] {
			affected[e.Target] = struct{}{}
		}
	}
	reverse := make(map[string][]string)
	for src, edges := range adj {
		for _, e := range edges {
			reverse[e.Target] = append(reverse[e.Target], src)
		}
	}
	for _, guid := range changed {
		affected[guid] = struct{}{}
		for _, src := range reverse[guid] {
			affected[src] = struct{}{}
		}
	}

	if float64(len(affected)) > incrementalThreshold*float64(len(adj)) {
		a.log.Debug("incremental region too large, running full analysis",
			zap.Int("affected", len(affected)), zap.Int("total", len(adj)))
		return a.Analyze()
	}

	sub := make(map[string][]schemas.Edge, len(affected))
	for n := range affected {
		for _, e := range adj[n] {
			if _, ok := affected[e.Target]; ok {
				sub[n] = append(sub[n], e)
			}
		}
		if _, ok := sub[n]; !ok {
			sub[n] = nil
		}
	}
	return a.analyzeAdjacency(sub, "tarjan+johnson/incremental")
}

func (a *Analyzer) analyzeAdjacency(adj map[string][]schemas.Edge, algorithm string) *Report {
	start := time.Now()
	report := &Report{
		Cycles:           []Cycle{},
		SCCs:             [][]string{},
		CountsByType:     make(map[string]int),
		CountsBySeverity: make(map[string]int),
		AffectedNodes:    []string{},
		HotspotNodes:     []Hotspot{},
		Algorithm:        algorithm,
		AnalyzedAt:       start.UTC(),
	}

	plain := make(map[string][]string, len(adj))
	for n, edges := range adj {
		for _, e := range edges {
			plain[n] = append(plain[n], e.Target)
		}
		if _, ok := plain[n]; !ok {
			plain[n] = nil
		}
	}

	seen := make(map[string]struct{})
	var cycles [][]string

	for _, scc := range tarjanSCC(plain) {
		if len(scc) == 1 {
			n := scc[0]
			if hasSelfLoop(plain, n) {
				report.SCCs = append(report.SCCs, scc)
				cycles = appendCanonical(cycles, seen, []string{n})
			}
			continue
		}
		report.SCCs = append(report.SCCs, scc)
		member := make(map[string]struct{}, len(scc))
		for _, n := range scc {
			member[n] = struct{}{}
		}
		for _, cycle := range johnsonCycles(plain, scc, member, a.maxCycleLength) {
			cycles = appendCanonical(cycles, seen, cycle)
		}
	}

	// Stable report order: shortest first, then lexicographic.
	sort.Slice(cycles, func(i, j int) bool {
		if len(cycles[i]) != len(cycles[j]) {
			return len(cycles[i]) < len(cycles[j])
		}
		return strings.Join(cycles[i], ",") < strings.Join(cycles[j], ",")
	})

	nodeCounts := make(map[string]int)
	for _, nodes := range cycles {
		cycle := a.buildCycle(nodes, adj)
		report.Cycles = append(report.Cycles, cycle)
		report.CountsByType[string(cycle.Type)]++
		report.CountsBySeverity[string(cycle.Severity)]++
		for _, n := range nodes {
			nodeCounts[n]++
		}
		if report.LargestCycle == nil || cycle.Length > report.LargestCycle.Length {
			c := cycle
			report.LargestCycle = &c
		}
		if report.MostCriticalCycle == nil || severityRank(cycle.Severity) > severityRank(report.MostCriticalCycle.Severity) {
			c := cycle
			report.MostCriticalCycle = &c
		}
	}

	for n, count := range nodeCounts {
		report.AffectedNodes = append(report.AffectedNodes, n)
		if count >= 2 {
			report.HotspotNodes = append(report.HotspotNodes, Hotspot{GUID: n, Count: count})
		}
	}
	sort.Strings(report.AffectedNodes)
	sort.Slice(report.HotspotNodes, func(i, j int) bool {
		if report.HotspotNodes[i].Count != report.HotspotNodes[j].Count {
			return report.HotspotNodes[i].Count > report.HotspotNodes[j].Count
		}
		return report.HotspotNodes[i].GUID < report.HotspotNodes[j].GUID
	})

	sort.Slice(report.SCCs, func(i, j int) bool { return report.SCCs[i][0] < report.SCCs[j][0] })

	report.AnalysisTimeMS = time.Since(start).Milliseconds()
	return report
}

func (a *Analyzer) buildCycle(nodes []string, adj map[string][]schemas.Edge) Cycle {
	cycle := Cycle{
		Nodes:  nodes,
		Length: len(nodes),
		Type:   classifyCycle(len(nodes)),
	}

	edges := cycleEdges(nodes, adj)
	cycle.Severity = a.scoreSeverity(nodes, edges)
	cycle.BreakEdges = breakEdges(edges)
	return cycle
}

// cycleEdges resolves each hop of the cycle to the concrete lowest-strength
// edge between its endpoints.
func cycleEdges(nodes []string, adj map[string][]schemas.Edge) []schemas.Edge {
	edges := make([]schemas.Edge, 0, len(nodes))
	for i, src := range nodes {
		dst := nodes[(i+1)%len(nodes)]
		var best *schemas.Edge
		for _, e := range adj[src] {
			if e.Target != dst {
				continue
			}
			if best == nil || e.Strength < best.Strength {
				b := e
				best = &b
			}
		}
		if best != nil {
			edges = append(edges, *best)
		}
	}
	return edges
}

func classifyCycle(length int) CycleType {
	switch {
	case length == 1:
		return CycleSelfLoop
	case length <= 3:
		return CycleSimple
	case length <= 8:
		return CycleComplex
	default:
		return CycleNested
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

func rankSeverity(rank int) Severity {
	switch {
	case rank <= 0:
		return SeverityLow
	case rank == 1:
		return SeverityMedium
	case rank == 2:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// scoreSeverity applies the base-by-length scale, then bumps one level for a
// critical-strength edge and one more for scene/prefab/script membership.
func (a *Analyzer) scoreSeverity(nodes []string, edges []schemas.Edge) Severity {
	var rank int
	switch {
	case len(nodes) == 1:
		rank = 0
	case len(nodes) <= 3:
		rank = 1
	case len(nodes) <= 7:
		rank = 2
	default:
		rank = 3
	}

	for _, e := range edges {
		if e.Strength >= schemas.StrengthCritical {
			rank++
			break
		}
	}
	for _, guid := range nodes {
		if n, ok := a.store.Node(guid); ok {
			if n.Kind == schemas.KindScene || n.Kind == schemas.KindPrefab || n.Kind == schemas.KindScript {
				rank++
				break
			}
		}
	}
	if rank > 3 {
		rank = 3
	}
	return rankSeverity(rank)
}

// breakEdges proposes the cheapest disruptions: every weak or indirect edge,
// or failing that the single lowest-strength edge.
func breakEdges(edges []schemas.Edge) []schemas.Edge {
	var candidates []schemas.Edge
	for _, e := range edges {
		if e.Strength <= schemas.StrengthWeak || e.Kind == schemas.DepIndirect {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) > 0 {
		return candidates
	}
	if len(edges) == 0 {
		return nil
	}
	lowest := edges[0]
	for _, e := range edges[1:] {
		if e.Strength < lowest.Strength {
			lowest = e
		}
	}
	return []schemas.Edge{lowest}
}

func hasSelfLoop(adj map[string][]string, n string) bool {
	for _, t := range adj[n] {
		if t == n {
			return true
		}
	}
	return false
}

// appendCanonical dedups by canonical rotation before recording.
func appendCanonical(cycles [][]string, seen map[string]struct{}, cycle []string) [][]string {
	canonical := canonicalizeCycle(cycle)
	key := strings.Join(canonical, ",")
	if _, ok := seen[key]; ok {
		return cycles
	}
	seen[key] = struct{}{}
	return append(cycles, canonical)
}

// canonicalizeCycle rotates the cycle to start at its lexicographically
// smallest node, then picks the orientation producing the smaller sequence,
// so every enumeration of the same node ring maps to one form.
func canonicalizeCycle(cycle []string) []string {
	if len(cycle) <= 1 {
		return append([]string(nil), cycle...)
	}

	smallest := 0
	for i, n := range cycle {
		if n < cycle[smallest] {
			smallest = i
		}
	}

	n := len(cycle)
	forward := make([]string, n)
	for i := 0; i < n; i++ {
		forward[i] = cycle[(smallest+i)%n]
	}
	backward := make([]string, n)
	for i := 0; i < n; i++ {
		backward[i] = cycle[((smallest-i)%n+n)%n]
	}

	for i := 0; i < n; i++ {
		if forward[i] != backward[i] {
			if forward[i] < backward[i] {
				return forward
			}
			return backward
		}
	}
	return forward
}

// -- Tarjan's strongly connected components, iterative form --

type tarjanFrame struct {
	node string
	edge int
}

func tarjanSCC(adj map[string][]string) [][]string {
	nodes := make([]string, 0, len(adj))
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	index := make(map[string]int, len(adj))
	lowlink := make(map[string]int, len(adj))
	onStack := make(map[string]bool, len(adj))
	var stack []string
	var sccs [][]string
	counter := 0

	for _, start := range nodes {
		if _, visited := index[start]; visited {
			continue
		}

		frames := []tarjanFrame{{node: start}}
		index[start] = counter
		lowlink[start] = counter
		counter++
		stack = append(stack, start)
		onStack[start] = true

		for len(frames) > 0 {
			frame := &frames[len(frames)-1]
			targets := adj[frame.node]

			if frame.edge < len(targets) {
				next := targets[frame.edge]
				frame.edge++
				if _, visited := index[next]; !visited {
					index[next] = counter
					lowlink[next] = counter
					counter++
					stack = append(stack, next)
					onStack[next] = true
					frames = append(frames, tarjanFrame{node: next})
				} else if onStack[next] {
					if index[next] < lowlink[frame.node] {
						lowlink[frame.node] = index[next]
					}
				}
				continue
			}

			// Node exhausted: close the component if this is a root.
			if lowlink[frame.node] == index[frame.node] {
				var scc []string
				for {
					top := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[top] = false
					scc = append(scc, top)
					if top == frame.node {
						break
					}
				}
				sort.Strings(scc)
				sccs = append(sccs, scc)
			}

			finished := frame.node
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := &frames[len(frames)-1]
				if lowlink[finished] < lowlink[parent.node] {
					lowlink[parent.node] = lowlink[finished]
				}
			}
		}
	}
	return sccs
}

// -- Johnson's simple cycle enumeration, bounded by maxLen --

type johnsonState struct {
	adj      map[string][]string
	member   map[string]struct{}
	maxLen   int
	blocked  map[string]bool
	blockMap map[string][]string
	stack    []string
	start    string
	cycles   [][]string
}

func johnsonCycles(adj map[string][]string, scc []string, member map[string]struct{}, maxLen int) [][]string {
	var all [][]string

	// Process start vertices in sorted order; each start only explores nodes
	// that sort at or after it, the standard Johnson subgraph restriction.
	for i, start := range scc {
		allowed := make(map[string]struct{}, len(scc)-i)
		for _, n := range scc[i:] {
			allowed[n] = struct{}{}
		}
		st := &johnsonState{
			adj:      adj,
			member:   allowed,
			maxLen:   maxLen,
			blocked:  make(map[string]bool),
			blockMap: make(map[string][]string),
			start:    start,
		}
		st.circuit(start)
		all = append(all, st.cycles...)
	}
	return all
}

func (st *johnsonState) circuit(v string) bool {
	found := false
	st.stack = append(st.stack, v)
	st.blocked[v] = true

	for _, w := range st.adj[v] {
		if _, ok := st.member[w]; !ok {
			continue
		}
		if w == st.start {
			if len(st.stack) <= st.maxLen {
				st.cycles = append(st.cycles, append([]string(nil), st.stack...))
				found = true
			}
			continue
		}
		if len(st.stack) >= st.maxLen {
			// Pruned by the length cap. Treat as found so the blocked set
			// does not suppress shorter cycles through these nodes.
			found = true
			continue
		}
		if st.blocked[w] {
			continue
		}
		if st.circuit(w) {
			found = true
		}
	}

	if found {
		st.unblock(v)
	} else {
		for _, w := range st.adj[v] {
			if _, ok := st.member[w]; !ok {
				continue
			}
			st.blockMap[w] = append(st.blockMap[w], v)
		}
	}

	st.stack = st.stack[:len(st.stack)-1]
	return found
}

func (st *johnsonState) unblock(v string) {
	st.blocked[v] = false
	for _, w := range st.blockMap[v] {
		if st.blocked[w] {
			st.unblock(w)
		}
	}
	st.blockMap[v] = nil
}
