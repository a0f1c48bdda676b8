package tools

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscapesRoot is returned when a tool's path argument resolves
// outside of the session's working directory.
var ErrPathEscapesRoot = errors.New("path escapes session working directory")

// ResolveConfined resolves path against root (the session cwd), following
// symlinks, and enforces that the result remains a descendant of root per
// the path-confinement invariant (SPEC_FULL.md §4.1, design note "Path
// confinement"). Absolute input paths are rejected unless they already
// resolve inside root.
func ResolveConfined(root, path string) (string, error) {
	root = filepath.Clean(root)
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		// Root itself may not exist yet on a fresh session; fall back to
		// the cleaned, non-symlink-resolved form.
		resolvedRoot = root
	}

	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Join(resolvedRoot, path)
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// Target may not exist yet (e.g. write_file creating a new file);
		// confine based on its parent directory instead.
		parent := filepath.Dir(candidate)
		resolvedParent, perr := filepath.EvalSymlinks(parent)
		if perr != nil {
			resolvedParent = parent
		}
		if !isDescendant(resolvedRoot, resolvedParent) {
			return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, path)
		}
		return filepath.Join(resolvedParent, filepath.Base(candidate)), nil
	}

	if !isDescendant(resolvedRoot, resolved) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, path)
	}
	return resolved, nil
}

func isDescendant(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if root == candidate {
		return true
	}
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
