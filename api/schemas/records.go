package schemas

import (
	"strconv"
	"time"
)

// -- Pipeline Records --
// Everything that flows between the walker, the change detector, the parser
// pool and the graph updater is defined here so the stages only share DTOs.

// Signature is a file's change-detection fingerprint.
type Signature struct {
	Size    int64  `json:"size"`
	MtimeNS int64  `json:"mtime_ns"`
	Hash    string `json:"hash,omitempty"`
}

// FormatHash renders a 64-bit content hash the way signatures store it.
func FormatHash(sum uint64) string {
	return strconv.FormatUint(sum, 16)
}

// ChangeKind classifies a path against the signature cache.
type ChangeKind string

const (
	ChangeNew       ChangeKind = "new"
	ChangeModified  ChangeKind = "modified"
	ChangeUnchanged ChangeKind = "unchanged"
	ChangeDeleted   ChangeKind = "deleted"
)

// ChangeRecord is one classified path from a scan.
type ChangeRecord struct {
	Path   string     `json:"path"`
	Kind   ChangeKind `json:"kind"`
	OldSig *Signature `json:"old_sig,omitempty"`
	NewSig *Signature `json:"new_sig,omitempty"`
}

// FileEntry is one candidate emitted by the walker: a project-relative
// normalized path plus the stat fields the detector needs.
type FileEntry struct {
	Path    string
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Reference is a single extracted cross-asset pointer, pre-resolution.
// TargetGUID is set for {fileID, guid, type} scalars; internal references
// never leave the parser.
type Reference struct {
	TargetGUID    string   `json:"target_guid"`
	Kind          DepKind  `json:"dep_kind"`
	Strength      Strength `json:"strength"`
	ContextPath   string   `json:"context_path,omitempty"`
	ComponentType string   `json:"component_type,omitempty"`
	PropertyName  string   `json:"property_name,omitempty"`
	SourceFileID  int64    `json:"source_file_id,omitempty"`
}

// MetaInfo is the typed result of parsing a .meta file.
type MetaInfo struct {
	FileFormatVersion int               `json:"file_format_version"`
	GUID              string            `json:"guid"`
	Importer          ImporterKind      `json:"importer"`
	ImporterMetadata  map[string]string `json:"importer_metadata,omitempty"`
}

// RecordKind discriminates the ParsedRecord union.
type RecordKind string

const (
	RecordMeta    RecordKind = "meta"
	RecordAsset   RecordKind = "asset"
	RecordScript  RecordKind = "script"
	RecordDeleted RecordKind = "deleted"
)

// ParsedRecord is the parser pool's output, consumed by the graph updater.
// Exactly one of Meta / References is populated depending on Kind; a deleted
// record carries only the path.
type ParsedRecord struct {
	Kind       RecordKind  `json:"kind"`
	Path       string      `json:"path"`
	Signature  *Signature  `json:"signature,omitempty"`
	Meta       *MetaInfo   `json:"meta,omitempty"`
	SourceGUID string      `json:"source_guid,omitempty"`
	References []Reference `json:"references,omitempty"`

	// CreateAssetMenu marks scripts declaring a [CreateAssetMenu] attribute,
	// i.e. ScriptableObject factories worth surfacing in queries.
	CreateAssetMenu string `json:"create_asset_menu,omitempty"`
}
