package schemas

import "fmt"

// -- Error Model --
// Every failure the pipeline can produce is a typed value. I/O and parse
// errors accumulate in the scan report; they never abort a scan. StateError
// is the one fatal kind.

// IoError is a per-entry filesystem failure.
type IoError struct {
	Path  string `json:"path"`
	Cause error  `json:"-"`
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error at %s: %v", e.Path, e.Cause)
}

func (e *IoError) Unwrap() error { return e.Cause }

// ParseErrorKind enumerates per-file parse failures.
type ParseErrorKind string

const (
	ParseMalformedYAML   ParseErrorKind = "malformed_yaml"
	ParseMissingGUID     ParseErrorKind = "missing_guid"
	ParseBadGUID         ParseErrorKind = "bad_guid"
	ParseUnknownImporter ParseErrorKind = "unknown_importer"
	ParseTimeout         ParseErrorKind = "timeout"
	ParseTooLarge        ParseErrorKind = "too_large"
)

// ParseError is a per-file parse failure; batch parsing continues past it.
type ParseError struct {
	Path   string         `json:"path"`
	Kind   ParseErrorKind `json:"kind"`
	Detail string         `json:"detail,omitempty"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s) at %s: %s", e.Kind, e.Path, e.Detail)
}

// ResolveError records a reference whose target GUID is unknown. The edge is
// skipped and the warning surfaces in the scan report.
type ResolveError struct {
	SourceGUID string `json:"source_guid"`
	TargetGUID string `json:"target_guid"`
	Reason     string `json:"reason"`
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("unresolved reference %s -> %s: %s", e.SourceGUID, e.TargetGUID, e.Reason)
}

// ConflictKind enumerates the transaction conflict detection passes.
type ConflictKind string

const (
	ConflictNodeExistence   ConflictKind = "node_existence"
	ConflictEdgeValidity    ConflictKind = "edge_validity"
	ConflictCycleIntroduced ConflictKind = "cycle_introduced"
	ConflictDataConsistency ConflictKind = "data_consistency"
)

// Conflict is one rejected aspect of a transaction.
type Conflict struct {
	Kind   ConflictKind `json:"kind"`
	Detail string       `json:"detail"`
}

// ConflictError aborts a transaction; nothing in the batch is applied.
type ConflictError struct {
	TransactionID string     `json:"transaction_id"`
	Conflicts     []Conflict `json:"conflicts"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("transaction %s rejected with %d conflict(s)", e.TransactionID, len(e.Conflicts))
}

// StateError is an invariant violation, i.e. a bug. Fatal.
type StateError struct {
	Detail string `json:"detail"`
}

func (e *StateError) Error() string {
	return "state error: " + e.Detail
}

// CancelledError signals cooperative cancellation at a record boundary.
type CancelledError struct {
	Stage string `json:"stage"`
}

func (e *CancelledError) Error() string {
	return "cancelled during " + e.Stage
}
