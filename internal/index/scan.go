package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// scanImages lists the supported image files directly inside folder (not
// recursive, matching what the index covers). os.ReadDir returns entries
// sorted by filename, which gives the diff a stable scan order.
func scanImages(folder string, extensions []string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("scan folder: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !extensionAllowed(filepath.Ext(e.Name()), extensions) {
			continue
		}
		path := filepath.Join(folder, e.Name())
		// Resolve symlinks so only regular files are indexed.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
