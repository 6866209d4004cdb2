package unityyaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

const validMeta = `fileFormatVersion: 2
guid: 0000000000000000000000000000AAAA
NativeFormatImporter:
  externalObjects: {}
  mainObjectFileID: 100100000
  userData:
  assetBundleName:
`

func TestMetaParserParse(t *testing.T) {
	p := NewMetaParser()

	info, warning, err := p.Parse("Player.prefab.meta", strings.NewReader(validMeta))
	require.NoError(t, err)
	assert.Nil(t, warning)
	assert.Equal(t, 2, info.FileFormatVersion)
	assert.Equal(t, "0000000000000000000000000000aaaa", info.GUID, "GUID must be lowercased")
	assert.Equal(t, schemas.ImporterNativeFormat, info.Importer)
	assert.Equal(t, "100100000", info.ImporterMetadata["mainObjectFileID"])
}

func TestMetaParserFailures(t *testing.T) {
	p := NewMetaParser()

	testCases := []struct {
		name     string
		content  string
		wantKind schemas.ParseErrorKind
	}{
		{
			name:     "missing guid",
			content:  "fileFormatVersion: 2\nDefaultImporter: {}\n",
			wantKind: schemas.ParseMissingGUID,
		},
		{
			name:     "bad guid shape",
			content:  "fileFormatVersion: 2\nguid: nothex\nDefaultImporter: {}\n",
			wantKind: schemas.ParseBadGUID,
		},
		{
			name:     "missing file format version",
			content:  "guid: 0123456789abcdef0123456789abcdef\nDefaultImporter: {}\n",
			wantKind: schemas.ParseMalformedYAML,
		},
		{
			name:     "malformed yaml",
			content:  "fileFormatVersion: [unclosed\n",
			wantKind: schemas.ParseMalformedYAML,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := p.Parse("bad.meta", strings.NewReader(tc.content))
			require.Error(t, err)
			parseErr, ok := err.(*schemas.ParseError)
			require.True(t, ok, "want *schemas.ParseError, got %T", err)
			assert.Equal(t, tc.wantKind, parseErr.Kind)
		})
	}
}

func TestMetaParserUnknownImporterIsWarning(t *testing.T) {
	p := NewMetaParser()
	content := "fileFormatVersion: 2\nguid: 0123456789abcdef0123456789abcdef\nFancyNewImporter:\n  setting: 1\n"

	info, warning, err := p.Parse("odd.meta", strings.NewReader(content))
	require.NoError(t, err)
	require.NotNil(t, warning)
	assert.Equal(t, schemas.ParseUnknownImporter, warning.Kind)
	assert.Equal(t, schemas.ImporterUnknown, info.Importer)
	assert.Equal(t, "1", info.ImporterMetadata["setting"], "unknown importer subtree is still preserved")
}

func TestExtractGUIDOnlyMatchesFullParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Player.prefab.meta")
	require.NoError(t, os.WriteFile(path, []byte(validMeta), 0o644))

	fast, err := ExtractGUIDOnly(path)
	require.NoError(t, err)

	p := NewMetaParser()
	info, _, err := p.ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, info.GUID, fast)
}

func TestExtractGUIDOnlyMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.meta")
	require.NoError(t, os.WriteFile(path, []byte("fileFormatVersion: 2\n"), 0o644))

	_, err := ExtractGUIDOnly(path)
	require.Error(t, err)
	parseErr, ok := err.(*schemas.ParseError)
	require.True(t, ok)
	assert.Equal(t, schemas.ParseMissingGUID, parseErr.Kind)
}
