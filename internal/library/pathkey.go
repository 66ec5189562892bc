package library

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Key maps a filesystem path inside root to its canonical catalog key:
// root-relative, cleaned, forward-slash separated. The same file yields the
// same key on every host OS as long as the library root is the same tree.
// Distinct files never collide (no case folding; see DESIGN.md).
func Key(root, path string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes library root %q", path, root)
	}
	return filepath.ToSlash(rel), nil
}

// Path converts a catalog key back to a host path under root.
func Path(root, key string) string {
	return filepath.Join(filepath.Clean(root), filepath.FromSlash(key))
}
