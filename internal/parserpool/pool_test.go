package parserpool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

type memSink struct {
	mu     sync.Mutex
	parse  []*schemas.ParseError
	ioErrs []*schemas.IoError
}

func (s *memSink) ParseError(e *schemas.ParseError) {
	s.mu.Lock()
	s.parse = append(s.parse, e)
	s.mu.Unlock()
}

func (s *memSink) IoError(e *schemas.IoError) {
	s.mu.Lock()
	s.ioErrs = append(s.ioErrs, e)
	s.mu.Unlock()
}

func runPool(t *testing.T, root string, changes []schemas.ChangeRecord) ([]schemas.ParsedRecord, *memSink) {
	t.Helper()
	pool := New(root, 4, 30*time.Second, zaptest.NewLogger(t))
	sink := &memSink{}

	in := make(chan schemas.ChangeRecord, len(changes))
	for _, c := range changes {
		in <- c
	}
	close(in)
	out := make(chan schemas.ParsedRecord, len(changes)+1)

	require.NoError(t, pool.Run(context.Background(), in, out, sink))

	var records []schemas.ParsedRecord
	for r := range out {
		records = append(records, r)
	}
	return records, sink
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestPoolDispatchesByExtension(t *testing.T) {
	root := t.TempDir()
	write(t, root, "Assets/A.prefab.meta", "fileFormatVersion: 2\nguid: 0123456789abcdef0123456789abcdef\nNativeFormatImporter: {}\n")
	write(t, root, "Assets/A.prefab", "--- !u!1 &100\nGameObject:\n  m_Name: A\n")
	write(t, root, "Assets/B.cs", "[CreateAssetMenu(menuName = \"X/Y\")]\nclass B {}\n")

	records, sink := runPool(t, root, []schemas.ChangeRecord{
		{Path: "Assets/A.prefab.meta", Kind: schemas.ChangeNew},
		{Path: "Assets/A.prefab", Kind: schemas.ChangeNew},
		{Path: "Assets/B.cs", Kind: schemas.ChangeNew},
		{Path: "Assets/gone.mat", Kind: schemas.ChangeDeleted},
	})

	assert.Empty(t, sink.parse)
	assert.Empty(t, sink.ioErrs)
	require.Len(t, records, 4)

	byKind := make(map[schemas.RecordKind]schemas.ParsedRecord)
	for _, r := range records {
		byKind[r.Kind] = r
	}
	assert.Equal(t, "0123456789abcdef0123456789abcdef", byKind[schemas.RecordMeta].Meta.GUID)
	assert.Equal(t, "Assets/A.prefab", byKind[schemas.RecordAsset].Path)
	assert.Equal(t, "X/Y", byKind[schemas.RecordScript].CreateAssetMenu)
	assert.Equal(t, "Assets/gone.mat", byKind[schemas.RecordDeleted].Path)
}

func TestPoolContinuesPastFailures(t *testing.T) {
	root := t.TempDir()
	write(t, root, "Assets/bad.meta", "fileFormatVersion: 2\nDefaultImporter: {}\n")
	write(t, root, "Assets/good.meta", "fileFormatVersion: 2\nguid: 0123456789abcdef0123456789abcdef\nDefaultImporter: {}\n")

	records, sink := runPool(t, root, []schemas.ChangeRecord{
		{Path: "Assets/bad.meta", Kind: schemas.ChangeNew},
		{Path: "Assets/good.meta", Kind: schemas.ChangeNew},
		{Path: "Assets/missing.meta", Kind: schemas.ChangeModified},
	})

	require.Len(t, records, 1, "only the healthy file produces a record")
	assert.Equal(t, schemas.RecordMeta, records[0].Kind)

	require.Len(t, sink.parse, 1)
	assert.Equal(t, schemas.ParseMissingGUID, sink.parse[0].Kind)
}

func TestPoolSkipsUnknownExtensions(t *testing.T) {
	root := t.TempDir()
	write(t, root, "Assets/readme.txt", "hi")

	records, sink := runPool(t, root, []schemas.ChangeRecord{
		{Path: "Assets/readme.txt", Kind: schemas.ChangeNew},
	})
	assert.Empty(t, records)
	assert.Empty(t, sink.parse)
	assert.Empty(t, sink.ioErrs)
}
