package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

func writeFile(t *testing.T, root, rel string, size int) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, make([]byte, size), 0o644))
}

func collect(t *testing.T, root string, opts Options) (files []string, skipped []schemas.SkippedFile, ioErrs []*schemas.IoError) {
	t.Helper()
	w := New(root, opts, zaptest.NewLogger(t))
	err := w.Walk(context.Background(), Visitor{
		File: func(e schemas.FileEntry) error {
			files = append(files, e.Path)
			return nil
		},
		Skipped: func(f schemas.SkippedFile) { skipped = append(skipped, f) },
		IoError: func(e *schemas.IoError) { ioErrs = append(ioErrs, e) },
	})
	require.NoError(t, err)
	return files, skipped, ioErrs
}

func TestWalkFiltersExtensionsAndGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Assets/Player.prefab", 10)
	writeFile(t, root, "Assets/Player.prefab.meta", 10)
	writeFile(t, root, "Assets/readme.txt", 10)
	writeFile(t, root, "Library/cache.prefab", 10)
	writeFile(t, root, "Assets/Plugins/skip.prefab", 10)

	files, _, _ := collect(t, root, Options{
		Roots:        []string{"."},
		IncludeExts:  []string{".prefab", ".meta"},
		ExcludeGlobs: []string{"Library/**", "Assets/Plugins/**"},
		IgnoreHidden: true,
	})

	assert.ElementsMatch(t, []string{"Assets/Player.prefab", "Assets/Player.prefab.meta"}, files)
}

func TestWalkHiddenFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Assets/.hidden.prefab", 10)
	writeFile(t, root, "Assets/.git/blob.prefab", 10)
	writeFile(t, root, "Assets/visible.prefab", 10)

	files, _, _ := collect(t, root, Options{
		Roots:        []string{"Assets"},
		IncludeExts:  []string{".prefab"},
		IgnoreHidden: true,
	})
	assert.ElementsMatch(t, []string{"Assets/visible.prefab"}, files)

	files, _, _ = collect(t, root, Options{
		Roots:       []string{"Assets"},
		IncludeExts: []string{".prefab"},
	})
	assert.Len(t, files, 3)
}

func TestWalkMaxFileSizeBoundary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Assets/exact.prefab", 100)
	writeFile(t, root, "Assets/over.prefab", 101)

	files, skipped, _ := collect(t, root, Options{
		Roots:       []string{"Assets"},
		IncludeExts: []string{".prefab"},
		MaxFileSize: 100,
	})

	assert.Equal(t, []string{"Assets/exact.prefab"}, files, "file exactly at the limit is parsed")
	require.Len(t, skipped, 1)
	assert.Equal(t, "Assets/over.prefab", skipped[0].Path)
	assert.Equal(t, int64(101), skipped[0].Size)
}

func TestWalkMissingRootReportsIoError(t *testing.T) {
	root := t.TempDir()
	files, _, ioErrs := collect(t, root, Options{
		Roots:       []string{"DoesNotExist"},
		IncludeExts: []string{".prefab"},
	})
	assert.Empty(t, files)
	require.Len(t, ioErrs, 1)
	assert.Equal(t, "DoesNotExist", ioErrs[0].Path)
}

func TestWalkCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Assets/a.prefab", 1)
	writeFile(t, root, "Assets/b.prefab", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := New(root, Options{Roots: []string{"Assets"}, IncludeExts: []string{".prefab"}}, zaptest.NewLogger(t))
	err := w.Walk(ctx, Visitor{File: func(schemas.FileEntry) error { return nil }})
	assert.ErrorIs(t, err, context.Canceled)
}
