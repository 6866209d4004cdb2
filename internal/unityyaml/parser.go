package unityyaml

import (
	"bufio"
	"context"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// readerPool recycles the per-file read buffers across parses; workers churn
// through thousands of files and the 64 KiB buffers are the hot allocation.
var readerPool = sync.Pool{
	New: func() any { return bufio.NewReaderSize(nil, 64*1024) },
}

// DefaultStreamThreshold is the file size above which whole-file parsing is
// forbidden. The document splitter streams every file document by document
// whatever its size, and nothing in the parser consults this value.
const DefaultStreamThreshold = 16 * 1024 * 1024

// AssetParser extracts cross-asset references from Unity's multi-document
// YAML flavor (.prefab, .unity, .scene, .asset, .mat, .controller, .anim).
type AssetParser struct {
	log *zap.Logger
}

// NewAssetParser builds the parser.
func NewAssetParser(logger *zap.Logger) *AssetParser {
	return &AssetParser{log: logger.Named("unityyaml")}
}

// ParseResult is the outcome of parsing one asset file.
type ParseResult struct {
	References []schemas.Reference
	Locals     []LocalRef
	Documents  int
	// MalformedDocs counts documents recovered via the regex fallback.
	MalformedDocs int
}

// ParseFile streams the file document-at-a-time and returns the sorted,
// deduplicated reference set. Parsing is idempotent: the output order is
// fixed by (target_guid, dep_kind, context_path).
func (p *AssetParser) ParseFile(ctx context.Context, path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &schemas.IoError{Path: path, Cause: err}
	}
	defer f.Close()

	br := readerPool.Get().(*bufio.Reader)
	br.Reset(f)
	defer readerPool.Put(br)

	result := &ParseResult{}
	err = SplitDocuments(br, func(doc Document) error {
		if cerr := ctx.Err(); cerr != nil {
			return &schemas.CancelledError{Stage: string(schemas.StageParse)}
		}
		refs, locals, malformed := extractFromDocument(doc)
		result.Documents++
		if malformed {
			result.MalformedDocs++
			p.log.Debug("document fell back to regex extraction",
				zap.String("path", path), zap.Int("class_id", doc.ClassID), zap.Int64("file_id", doc.FileID))
		}
		result.References = append(result.References, refs...)
		result.Locals = append(result.Locals, locals...)
		return nil
	})
	if err != nil {
		if _, ok := err.(*schemas.CancelledError); ok {
			return nil, err
		}
		return nil, &schemas.IoError{Path: path, Cause: err}
	}

	result.References = StabilizeReferences(result.References)
	return result, nil
}

// StabilizeReferences sorts by (target_guid, dep_kind, context_path) and
// drops duplicates of the edge identity tuple, making repeated parses of the
// same bytes byte-identical.
func StabilizeReferences(refs []schemas.Reference) []schemas.Reference {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.TargetGUID != b.TargetGUID {
			return a.TargetGUID < b.TargetGUID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ContextPath < b.ContextPath
	})

	out := refs[:0]
	var last schemas.Reference
	for i, r := range refs {
		if i > 0 && r.TargetGUID == last.TargetGUID && r.Kind == last.Kind && r.ContextPath == last.ContextPath {
			continue
		}
		out = append(out, r)
		last = r
	}
	return out
}
