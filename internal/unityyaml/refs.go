package unityyaml

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// LocalRef is an internal {fileID: N} reference. It never becomes a graph
// edge; the parser keeps it to model the file's own component wiring.
type LocalRef struct {
	SourceFileID int64
	TargetFileID int64
	ContextPath  string
}

// extractFromDocument walks one document's YAML tree collecting external
// references (fileID+guid+type) and internal ones (fileID only). On a YAML
// parse failure it falls back to a raw-text regex sweep, which loses context
// paths but keeps the reference set complete.
func extractFromDocument(doc Document) (refs []schemas.Reference, locals []LocalRef, malformed bool) {
	var root yaml.Node
	if err := yaml.Unmarshal(doc.Body, &root); err != nil {
		return regexFallback(doc), nil, true
	}

	mapping := unwrapDocument(&root)
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return regexFallback(doc), nil, true
	}

	component := ClassName(doc.ClassID)
	walker := refWalker{doc: doc, component: component}

	// The root mapping has a single key naming the component; descend into
	// its value with the component name as the context root.
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		rootKey := mapping.Content[i].Value
		ctxRoot := rootKey
		if component != "" && component != rootKey {
			ctxRoot = component
		}
		walker.walk(mapping.Content[i+1], ctxRoot, rootKey)
	}
	return walker.refs, walker.locals, false
}

type refWalker struct {
	doc       Document
	component string
	refs      []schemas.Reference
	locals    []LocalRef
}

// walk descends the tree carrying the dotted context path and the nearest
// named property key.
func (w *refWalker) walk(n *yaml.Node, ctxPath, prop string) {
	switch n.Kind {
	case yaml.MappingNode:
		if ref, isRef := referenceScalar(n); isRef {
			w.record(ref, ctxPath, prop)
			return
		}
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			w.walk(n.Content[i+1], ctxPath+"."+key, key)
		}
	case yaml.SequenceNode:
		for i, item := range n.Content {
			w.walk(item, fmt.Sprintf("%s[%d]", ctxPath, i), prop)
		}
	case yaml.AliasNode:
		if n.Alias != nil {
			w.walk(n.Alias, ctxPath, prop)
		}
	}
}

// parsedRef is the raw shape of a {fileID, guid?, type?} mapping.
type parsedRef struct {
	fileID  int64
	guid    string
	hasGUID bool
}

// referenceScalar recognizes the Unity reference grammar in a mapping node:
// it must contain a fileID key, optionally guid and type, and nothing else.
func referenceScalar(n *yaml.Node) (parsedRef, bool) {
	var (
		ref      parsedRef
		sawFile  bool
		badShape bool
	)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "fileID":
			id, err := strconv.ParseInt(value.Value, 10, 64)
			if err != nil {
				badShape = true
			}
			ref.fileID = id
			sawFile = true
		case "guid":
			ref.guid = value.Value
			ref.hasGUID = true
		case "type":
			// Carried by the grammar; the class of the target is recovered
			// from its own meta file, so the value is not needed here.
		default:
			badShape = true
		}
	}
	return ref, sawFile && !badShape
}

func (w *refWalker) record(ref parsedRef, ctxPath, prop string) {
	if !ref.hasGUID {
		// {fileID: 0} is Unity's null reference.
		if ref.fileID != 0 {
			w.locals = append(w.locals, LocalRef{
				SourceFileID: w.doc.FileID,
				TargetFileID: ref.fileID,
				ContextPath:  ctxPath,
			})
		}
		return
	}

	guid, err := schemas.NormalizeGUID(ref.guid)
	if err != nil {
		return
	}
	kind, strength := ClassifyReference(w.doc.ClassID, nearestProperty(ctxPath, prop))
	w.refs = append(w.refs, schemas.Reference{
		TargetGUID:    guid,
		Kind:          kind,
		Strength:      strength,
		ContextPath:   ctxPath,
		ComponentType: w.component,
		PropertyName:  prop,
		SourceFileID:  w.doc.FileID,
	})
}

// nearestProperty prefers the innermost named key; sequence hops keep the
// property of the owning key ("m_Materials[0]" classifies as m_Materials).
func nearestProperty(ctxPath, prop string) string {
	if prop != "" {
		return prop
	}
	parts := strings.Split(ctxPath, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if idx := strings.IndexByte(p, '['); idx >= 0 {
			p = p[:idx]
		}
		if p != "" {
			return p
		}
	}
	return ""
}

// refScalarPattern is the fallback for malformed YAML, tolerant of Unity's
// whitespace variants.
var refScalarPattern = regexp.MustCompile(`\{\s*fileID:\s*(-?\d+)\s*,\s*guid:\s*([0-9a-fA-F]{32})\s*(?:,\s*type:\s*\d+\s*)?\}`)

func regexFallback(doc Document) []schemas.Reference {
	matches := refScalarPattern.FindAllSubmatch(doc.Body, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]schemas.Reference, 0, len(matches))
	for _, m := range matches {
		guid, err := schemas.NormalizeGUID(string(m[2]))
		if err != nil {
			continue
		}
		kind, strength := ClassifyReference(doc.ClassID, "")
		refs = append(refs, schemas.Reference{
			TargetGUID:    guid,
			Kind:          kind,
			Strength:      strength,
			ComponentType: ClassName(doc.ClassID),
			SourceFileID:  doc.FileID,
		})
	}
	return refs
}
