// Package diskspace checks free space on the filesystem that will receive a download.
package diskspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cryptdrive/cdrive/internal/cloud"
	"github.com/cryptdrive/cdrive/internal/cloud/storage"
	"github.com/cryptdrive/cdrive/internal/constants"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space for %s: need %s, have %s available",
		e.Path, cloud.FormatBytes(e.RequiredBytes), cloud.FormatBytes(e.AvailableBytes))
}

// Unwrap lets callers match the failure with errors.Is(err, storage.ErrInsufficientSpace).
func (e *InsufficientSpaceError) Unwrap() error { return storage.ErrInsufficientSpace }

// CheckAvailableSpace checks if there is sufficient disk space for a file of requiredBytes
// at targetPath. The target may not exist yet; the nearest existing ancestor directory
// is inspected instead.
//
// safetyMargin multiplies requiredBytes (1.1 asks for a 10% buffer). When the filesystem
// cannot be inspected the check passes and the write is left to fail on its own.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	if requiredBytes <= 0 {
		return nil
	}
	if safetyMargin < 1 {
		safetyMargin = 1
	}

	available, ok := availableBytes(existingDir(targetPath))
	if !ok {
		return nil
	}

	requiredWithMargin := int64(float64(requiredBytes) * safetyMargin)
	if available < requiredWithMargin {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  requiredWithMargin,
			AvailableBytes: available,
		}
	}
	return nil
}

// CheckDownload runs the download preflight with the default safety margin.
func CheckDownload(targetPath string, size int64) error {
	return CheckAvailableSpace(targetPath, size, constants.DiskSpaceSafetyMargin)
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing the given path. Returns 0 if unable to determine.
func GetAvailableSpace(path string) int64 {
	available, ok := availableBytes(existingDir(path))
	if !ok {
		return 0
	}
	return available
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	_, ok := err.(*InsufficientSpaceError)
	return ok
}

// existingDir returns the closest directory at or above filepath.Dir(path) that exists.
func existingDir(path string) string {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
