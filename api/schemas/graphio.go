package schemas

import "time"

// GraphSchemaVersion is the persisted graph schema. Readers must accept the
// previous major version as well.
const GraphSchemaVersion = 2

// GraphExport is the durable representation of the graph: sufficient for
// cold-start reconstruction and for the export command. Nodes and edges are
// sorted by GUID / edge key before serialization so repeated exports diff
// cleanly.
type GraphExport struct {
	SchemaVersion int       `json:"schema_version"`
	ExportedAt    time.Time `json:"exported_at"`
	NodeCount     int       `json:"node_count"`
	EdgeCount     int       `json:"edge_count"`
	Nodes         []Node    `json:"nodes"`
	Edges         []Edge    `json:"edges"`
}

// GraphStats is the summary surfaced by the stats command.
type GraphStats struct {
	Nodes        int              `json:"nodes"`
	ActiveNodes  int              `json:"active_nodes"`
	Edges        int              `json:"edges"`
	ActiveEdges  int              `json:"active_edges"`
	NodesByKind  map[string]int   `json:"nodes_by_kind"`
	EdgesByKind  map[string]int   `json:"edges_by_kind"`
	UpdaterStats map[string]int64 `json:"updater_stats,omitempty"`
}
