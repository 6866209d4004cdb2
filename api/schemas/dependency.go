package schemas

import "fmt"

// DepKind classifies what a reference points at.
type DepKind string

const (
	DepScript           DepKind = "script"
	DepMaterial         DepKind = "material"
	DepTexture          DepKind = "texture"
	DepMesh             DepKind = "mesh"
	DepAudio            DepKind = "audio"
	DepAnimation        DepKind = "animation"
	DepPrefabInstance   DepKind = "prefab_instance"
	DepSceneInstance    DepKind = "scene_instance"
	DepShader           DepKind = "shader"
	DepScriptableObject DepKind = "scriptable_object"
	DepPathReference    DepKind = "path_reference"
	DepIndirect         DepKind = "indirect"
)

// Strength grades how load-bearing an edge is. The ordering matters: queries
// filter on "strength >= X" and the cycle analyzer picks break edges by the
// lowest strength in a cycle.
type Strength int

const (
	StrengthWeak Strength = iota
	StrengthMedium
	StrengthStrong
	StrengthImportant
	StrengthCritical
)

var strengthNames = [...]string{"weak", "medium", "strong", "important", "critical"}

func (s Strength) String() string {
	if s < StrengthWeak || s > StrengthCritical {
		return fmt.Sprintf("strength(%d)", int(s))
	}
	return strengthNames[s]
}

// MarshalText implements encoding.TextMarshaler so exports carry names, not ints.
func (s Strength) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strength) UnmarshalText(text []byte) error {
	parsed, err := ParseStrength(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStrength resolves a strength name back to its ordered value.
func ParseStrength(name string) (Strength, error) {
	for i, n := range strengthNames {
		if n == name {
			return Strength(i), nil
		}
	}
	return StrengthWeak, fmt.Errorf("unknown strength %q", name)
}

// Edge is a directed, typed dependency between two asset nodes.
type Edge struct {
	Source        string   `json:"source"`
	Target        string   `json:"target"`
	Kind          DepKind  `json:"dep_kind"`
	Strength      Strength `json:"strength"`
	ContextPath   string   `json:"context_path,omitempty"`
	ComponentType string   `json:"component_type,omitempty"`
	PropertyName  string   `json:"property_name,omitempty"`
	SourceFileID  int64    `json:"source_file_id,omitempty"`
	Active        bool     `json:"active"`
}

// EdgeKey is the uniqueness tuple for edges. Two references from the same
// property chain to the same target collapse into one edge.
type EdgeKey struct {
	Source      string
	Target      string
	Kind        DepKind
	ContextPath string
}

// Key returns the edge's identity tuple.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Kind: e.Kind, ContextPath: e.ContextPath}
}

// Equal reports whether two edges match on identity and attributes, ignoring
// the Active flag. The updater uses this to leave untouched edges alone when
// diffing a reparse against the current edge set.
func (e Edge) Equal(other Edge) bool {
	return e.Key() == other.Key() &&
		e.Strength == other.Strength &&
		e.ComponentType == other.ComponentType &&
		e.PropertyName == other.PropertyName &&
		e.SourceFileID == other.SourceFileID
}
