package walker

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// Options configures a single walk. Paths and globs are project-relative;
// exclusion globs are matched against '/'-normalized relative paths.
type Options struct {
	Roots          []string
	IncludeExts    []string
	ExcludeGlobs   []string
	FollowSymlinks bool
	IgnoreHidden   bool
	MaxFileSize    int64
}

// Visitor receives walk output. Exactly one of the fields is set per call.
// Returning a non-nil error aborts the walk; the walker itself never aborts
// on a per-entry failure.
type Visitor struct {
	File    func(schemas.FileEntry) error
	Skipped func(schemas.SkippedFile)
	IoError func(*schemas.IoError)
}

// Walker lazily enumerates candidate asset files under the project root.
// A walk is finite and non-restartable; to rescan, call Walk again.
type Walker struct {
	projectRoot string
	opts        Options
	includeSet  map[string]struct{}
	log         *zap.Logger
}

// New builds a walker rooted at projectRoot.
func New(projectRoot string, opts Options, logger *zap.Logger) *Walker {
	includes := make(map[string]struct{}, len(opts.IncludeExts))
	for _, ext := range opts.IncludeExts {
		includes[strings.ToLower(ext)] = struct{}{}
	}
	return &Walker{
		projectRoot: projectRoot,
		opts:        opts,
		includeSet:  includes,
		log:         logger.Named("walker"),
	}
}

// Walk traverses every configured root, applying directory pruning, extension
// and glob filters, and reports files, skips and per-entry errors through the
// visitor. Cancellation is checked before every directory entry.
func (w *Walker) Walk(ctx context.Context, visit Visitor) error {
	for _, root := range w.opts.Roots {
		absRoot := filepath.Join(w.projectRoot, filepath.FromSlash(root))
		info, err := os.Stat(absRoot)
		if err != nil {
			w.reportIoError(visit, root, err)
			continue
		}
		if !info.IsDir() {
			w.reportIoError(visit, root, fs.ErrInvalid)
			continue
		}
		if err := w.walkRoot(ctx, absRoot, visit); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) walkRoot(ctx context.Context, absRoot string, visit Visitor) error {
	return filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, relErr := filepath.Rel(w.projectRoot, p)
		if relErr != nil {
			rel = p
		}
		rel = schemas.NormalizePath(rel)

		if walkErr != nil {
			w.reportIoError(visit, rel, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if p != absRoot && w.opts.IgnoreHidden && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if w.excludedDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if w.opts.IgnoreHidden && strings.HasPrefix(name, ".") && !strings.HasSuffix(name, ".meta") {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !w.opts.FollowSymlinks {
				return nil
			}
			resolved, err := filepath.EvalSymlinks(p)
			if err != nil {
				w.reportIoError(visit, rel, err)
				return nil
			}
			p = resolved
		}

		if !w.included(name) || w.excluded(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			w.reportIoError(visit, rel, err)
			return nil
		}

		if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
			if visit.Skipped != nil {
				visit.Skipped(schemas.SkippedFile{Path: rel, Size: info.Size(), Reason: "exceeds max_file_size"})
			}
			return nil
		}

		if visit.File != nil {
			return visit.File(schemas.FileEntry{
				Path:    rel,
				AbsPath: p,
				Size:    info.Size(),
				ModTime: info.ModTime().UTC(),
			})
		}
		return nil
	})
}

// included checks the file extension against the configured include set.
// .meta is matched on the inner extension's behalf: Player.prefab.meta is a
// candidate whenever .meta itself is.
func (w *Walker) included(name string) bool {
	if len(w.includeSet) == 0 {
		return true
	}
	_, ok := w.includeSet[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (w *Walker) excluded(rel string) bool {
	for _, glob := range w.opts.ExcludeGlobs {
		if ok, err := doublestar.Match(glob, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// excludedDir prunes a directory when a glob matches the directory itself or
// names it as a prefix ("Library/**" prunes "Library").
func (w *Walker) excludedDir(rel string) bool {
	for _, glob := range w.opts.ExcludeGlobs {
		if ok, err := doublestar.Match(glob, rel); err == nil && ok {
			return true
		}
		trimmed := strings.TrimSuffix(strings.TrimSuffix(glob, "**"), "/")
		if trimmed != glob && trimmed != "" {
			if ok, err := doublestar.Match(trimmed, rel); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func (w *Walker) reportIoError(visit Visitor, path string, cause error) {
	ioErr := &schemas.IoError{Path: path, Cause: cause}
	w.log.Debug("walk entry failed", zap.String("path", path), zap.Error(cause))
	if visit.IoError != nil {
		visit.IoError(ioErr)
	}
}
