// Package artifact builds the deployable bundles: the function code zip
// and the dependency-layer zips. Packaging is deliberately simple I/O;
// all provisioning decisions live elsewhere.
package artifact

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// Zip Packaging
// =============================================================================

// skipNames are directory entries never shipped in a bundle.
var skipNames = map[string]bool{
	"__pycache__":   true,
	".git":          true,
	".pytest_cache": true,
	".venv":         true,
	"node_modules":  true,
}

// ZipDir packages a directory tree into a zip suitable for the compute
// API. Entries are stored relative to root, optionally under prefix
// (layer bundles nest their content under a runtime-specific directory).
func ZipDir(root, prefix string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipNames[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".pyc") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if prefix != "" {
			name = prefix + "/" + name
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		dst, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to zip %s: %w", root, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}
