// Package validation checks names and paths that come from the drive before
// they touch the local filesystem.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateRemoteName validates a drive file name before it is used as a local
// file name. It rejects empty names, null bytes, path separators of either
// platform and the "." and ".." entries.
func ValidateRemoteName(name string) error {
	if name == "" {
		return fmt.Errorf("remote file name cannot be empty")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("remote file name contains null byte: %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("remote file name cannot contain path separators: %q", name)
	}
	// "foo..bar" is a legitimate name; only the literal entries are rejected
	if name == "." || name == ".." {
		return fmt.Errorf("remote file name cannot be %q", name)
	}
	return nil
}

// ValidatePathInDirectory validates that path, once resolved against baseDir,
// stays within baseDir.
//
//	ValidatePathInDirectory("../../etc/passwd", "/tmp/restore") // error
//	ValidatePathInDirectory("photos/a.jpg", "/tmp/restore")     // ok
func ValidatePathInDirectory(path string, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	base, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}
	return nil
}
