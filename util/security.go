package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal indicates a path traversal attempt was detected
var ErrPathTraversal = errors.New("path traversal attempt detected")

// ErrSymlinkNotAllowed indicates a symlink was detected and is not allowed
var ErrSymlinkNotAllowed = errors.New("symlink not allowed")

// ErrPathOutsideAllowedDir indicates the path is outside the allowed directory
var ErrPathOutsideAllowedDir = errors.New("path outside allowed directory")

// ValidateFilePath resolves path inside allowedDir and rejects traversal,
// null bytes and, when checkSymlinks is set, symlinks. Relative paths are
// joined to allowedDir. The absolute path is returned.
func ValidateFilePath(path, allowedDir string, checkSymlinks bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}
	if allowedDir == "" {
		return "", fmt.Errorf("allowed directory cannot be empty")
	}

	// filepath.Clean would hide ".." so check before cleaning
	if strings.Contains(path, "..") {
		return "", ErrPathTraversal
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "\x00") {
		return "", fmt.Errorf("null bytes not allowed in path")
	}

	absAllowedDir, err := filepath.Abs(allowedDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve allowed directory: %w", err)
	}

	var absPath string
	if filepath.IsAbs(cleanPath) {
		absPath = cleanPath
	} else {
		absPath = filepath.Join(absAllowedDir, cleanPath)
	}

	rel, err := filepath.Rel(absAllowedDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathOutsideAllowedDir
	}

	if checkSymlinks {
		if err := rejectSymlink(absPath); err != nil {
			return "", err
		}
	}

	return absPath, nil
}

// ValidateFilePathRelaxed validates the format of a user supplied path
// without restricting it to a directory, so ".." segments are resolved
// rather than rejected. Input files named on the command line go through
// this check.
func ValidateFilePathRelaxed(path string, checkSymlinks bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}
	if len(path) > 2048 {
		return "", fmt.Errorf("file path exceeds 2048 characters")
	}
	if strings.Contains(path, "\x00") {
		return "", fmt.Errorf("null bytes not allowed in path")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}

	if checkSymlinks {
		if err := rejectSymlink(absPath); err != nil {
			return "", err
		}
	}
	return absPath, nil
}

func rejectSymlink(absPath string) error {
	fi, err := os.Lstat(absPath)
	if err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return ErrSymlinkNotAllowed
		}
		return nil
	}
	// Not created yet: the parent must not be a symlink either
	parentFi, err := os.Lstat(filepath.Dir(absPath))
	if err != nil {
		return fmt.Errorf("failed to check parent directory: %w", err)
	}
	if parentFi.Mode()&os.ModeSymlink != 0 {
		return ErrSymlinkNotAllowed
	}
	return nil
}
