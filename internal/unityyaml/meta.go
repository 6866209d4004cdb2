package unityyaml

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// MetaParser reads the side-car .meta files: a plain YAML root mapping with
// fileFormatVersion, guid and exactly one importer key.
type MetaParser struct{}

// NewMetaParser returns a stateless meta parser.
func NewMetaParser() *MetaParser {
	return &MetaParser{}
}

// Parse reads a .meta file into a MetaInfo. A missing guid or
// fileFormatVersion, malformed YAML or a bad GUID shape fail with a
// ParseError; an importer outside the enumerated set degrades to
// ImporterUnknown and is reported through the warning return, not an error.
func (p *MetaParser) Parse(path string, r io.Reader) (*schemas.MetaInfo, *schemas.ParseError, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		return nil, nil, &schemas.ParseError{Path: path, Kind: schemas.ParseMalformedYAML, Detail: err.Error()}
	}

	mapping := unwrapDocument(&root)
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil, nil, &schemas.ParseError{Path: path, Kind: schemas.ParseMalformedYAML, Detail: "meta root is not a mapping"}
	}

	info := &schemas.MetaInfo{FileFormatVersion: -1, Importer: schemas.ImporterUnknown}
	var warning *schemas.ParseError

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i]
		value := mapping.Content[i+1]

		switch key.Value {
		case "fileFormatVersion":
			v, err := strconv.Atoi(value.Value)
			if err != nil {
				return nil, nil, &schemas.ParseError{Path: path, Kind: schemas.ParseMalformedYAML, Detail: "fileFormatVersion is not an integer"}
			}
			info.FileFormatVersion = v
		case "guid":
			guid, err := schemas.NormalizeGUID(value.Value)
			if err != nil {
				return nil, nil, &schemas.ParseError{Path: path, Kind: schemas.ParseBadGUID, Detail: err.Error()}
			}
			info.GUID = guid
		case "folderAsset", "timeCreated", "licenseType", "labels":
			// Bookkeeping keys Unity writes alongside the importer; not an importer.
		default:
			if value.Kind != yaml.MappingNode && value.Kind != yaml.ScalarNode {
				continue
			}
			importer, known := schemas.LookupImporter(key.Value)
			if !known {
				if looksLikeImporter(key.Value) {
					warning = &schemas.ParseError{Path: path, Kind: schemas.ParseUnknownImporter, Detail: key.Value}
					info.Importer = schemas.ImporterUnknown
					info.ImporterMetadata = flattenSubtree(value)
				}
				continue
			}
			info.Importer = importer
			info.ImporterMetadata = flattenSubtree(value)
		}
	}

	if info.GUID == "" {
		return nil, nil, &schemas.ParseError{Path: path, Kind: schemas.ParseMissingGUID, Detail: "meta file has no guid key"}
	}
	if info.FileFormatVersion < 0 {
		return nil, nil, &schemas.ParseError{Path: path, Kind: schemas.ParseMalformedYAML, Detail: "meta file has no fileFormatVersion key"}
	}
	return info, warning, nil
}

// ParseFile opens and parses a meta file from disk.
func (p *MetaParser) ParseFile(path string) (*schemas.MetaInfo, *schemas.ParseError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &schemas.IoError{Path: path, Cause: err}
	}
	defer f.Close()
	return p.Parse(path, bufio.NewReader(f))
}

var guidKeyPrefix = []byte("guid:")

// ExtractGUIDOnly is the bulk-index fast path: a line-oriented scan that
// stops at the first guid key. Lines are read with ReadSlice into the
// reader's own buffer, so the loop allocates nothing per line.
func ExtractGUIDOnly(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &schemas.IoError{Path: path, Cause: err}
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 4096)
	for {
		line, err := br.ReadSlice('\n')
		if len(line) > 0 {
			trimmed := bytes.TrimLeft(line, " \t")
			if bytes.HasPrefix(trimmed, guidKeyPrefix) {
				raw := string(bytes.TrimSpace(trimmed[len(guidKeyPrefix):]))
				guid, gerr := schemas.NormalizeGUID(raw)
				if gerr != nil {
					return "", &schemas.ParseError{Path: path, Kind: schemas.ParseBadGUID, Detail: gerr.Error()}
				}
				return guid, nil
			}
		}
		if err == io.EOF {
			return "", &schemas.ParseError{Path: path, Kind: schemas.ParseMissingGUID, Detail: "no guid line"}
		}
		if err == bufio.ErrBufferFull {
			// Over-long line that is not the guid line; drain it.
			if _, derr := br.ReadBytes('\n'); derr == io.EOF {
				return "", &schemas.ParseError{Path: path, Kind: schemas.ParseMissingGUID, Detail: "no guid line"}
			} else if derr != nil {
				return "", &schemas.IoError{Path: path, Cause: derr}
			}
			continue
		}
		if err != nil {
			return "", &schemas.IoError{Path: path, Cause: err}
		}
	}
}

// looksLikeImporter reports whether an unrecognized meta key is plausibly an
// importer block rather than Unity bookkeeping.
func looksLikeImporter(key string) bool {
	return len(key) > len("Importer") && key[len(key)-len("Importer"):] == "Importer" ||
		key == "ScriptedImporter"
}

// unwrapDocument descends through the DocumentNode wrapper yaml.v3 adds.
func unwrapDocument(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		return n.Content[0]
	}
	return n
}

// flattenSubtree renders an importer subtree into the opaque string map the
// graph stores as importer_metadata. Nested keys are dotted; sequences are
// indexed. Values are scalars only, so the map can never smuggle anything
// executable.
func flattenSubtree(n *yaml.Node) map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", n)
	return out
}

func flattenInto(out map[string]string, prefix string, n *yaml.Node) {
	switch n.Kind {
	case yaml.ScalarNode:
		if prefix != "" {
			out[prefix] = n.Value
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			flattenInto(out, key, n.Content[i+1])
		}
	case yaml.SequenceNode:
		for i, item := range n.Content {
			flattenInto(out, fmt.Sprintf("%s[%d]", prefix, i), item)
		}
	case yaml.AliasNode:
		if n.Alias != nil {
			flattenInto(out, prefix, n.Alias)
		}
	}
}
