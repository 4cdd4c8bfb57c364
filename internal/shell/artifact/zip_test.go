package artifact

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Zip Tests
// =============================================================================

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func zipNames(t *testing.T, blob []byte) map[string]string {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	require.NoError(t, err)

	entries := make(map[string]string, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		rc.Close()
		require.NoError(t, err)
		entries[f.Name] = buf.String()
	}
	return entries
}

func TestZipDir_PreservesTreeRelativeToRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/main.py", "handler = 1")
	writeFile(t, root, "app/routes/cv.py", "routes")

	blob, err := ZipDir(root, "")
	require.NoError(t, err)

	entries := zipNames(t, blob)
	assert.Equal(t, "handler = 1", entries["app/main.py"])
	assert.Equal(t, "routes", entries["app/routes/cv.py"])
}

func TestZipDir_PrefixNestsEntries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "requests/__init__.py", "")

	blob, err := ZipDir(root, "python")
	require.NoError(t, err)

	entries := zipNames(t, blob)
	assert.Contains(t, entries, "python/requests/__init__.py")
}

func TestZipDir_SkipsBuildArtifacts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/main.py", "x")
	writeFile(t, root, "app/__pycache__/main.cpython-311.pyc", "bytecode")
	writeFile(t, root, ".git/HEAD", "ref")
	writeFile(t, root, "app/old.pyc", "bytecode")

	blob, err := ZipDir(root, "")
	require.NoError(t, err)

	entries := zipNames(t, blob)
	assert.Contains(t, entries, "app/main.py")
	assert.Len(t, entries, 1)
}

func TestBuilder_RequiresSourceDir(t *testing.T) {
	b := NewBuilder("", nil, nil, testLogger())
	_, err := b.Build(t.Context())
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestBuilder_NoLayersBuildsCodeOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/main.py", "x")

	b := NewBuilder(root, nil, nil, testLogger())
	bundle, err := b.Build(t.Context())
	require.NoError(t, err)

	assert.NotEmpty(t, bundle.Code)
	assert.Empty(t, bundle.Layers)
}

func TestBuilder_LayerWithoutBuilderFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/main.py", "x")

	b := NewBuilder(root, []LayerSource{{Name: "deps", Requirements: "requirements.txt"}}, nil, testLogger())
	_, err := b.Build(t.Context())
	assert.Error(t, err)
}
