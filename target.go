// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// errUnsafePath is returned if an output path leaves the destination or passes a symlink.
var errUnsafePath = errors.New("unsafe path")

// Target specifies all function that are needed to be implemented to persist recovered payloads
type Target interface {
	// CreateFile creates a file at the specified path with src as content. The mode parameter is the file mode that
	// should be set on the file. If the file already exists and overwrite is false, an error wrapping
	// [fs.ErrExist] should be returned. If the file does not exist, it should be created. The size of the file
	// should not exceed maxSize. If the file is created successfully, the number of bytes written should be
	// returned. If an error occurs, the number of bytes written should be returned along with the error.
	// If maxSize < 0, the file size is not limited.
	CreateFile(path string, src io.Reader, mode fs.FileMode, overwrite bool, maxSize int64) (int64, error)

	// CreateDir creates at the specified path with the specified mode. If the directory already exists, nothing is done.
	// The function returns an error if there's a problem creating the directory. If the function completes successfully,
	// it returns nil.
	CreateDir(path string, mode fs.FileMode) error

	// Lstat see docs for os.Lstat. Main purpose is to check for symlinks in the output path
	// and for path traversal.
	Lstat(path string) (fs.FileInfo, error)

	// Stat see docs for os.Stat.
	Stat(path string) (fs.FileInfo, error)
}

// createFile is a wrapper around the CreateFile function
//
// If the name is empty, the function returns an error.
//
// If the directory for the file does not exist, it will be created with the config.CustomCreateDirMode().
//
// If the path contains path traversal or a symlink, the function returns an error wrapping errUnsafePath.
//
// If the file is created successfully, the function returns the number of bytes written and nil.
func createFile(t Target, dst string, name string, src io.Reader, mode fs.FileMode, maxSize int64, cfg *Config) (int64, error) {
	// check if a name is provided
	if len(name) == 0 {
		return 0, fmt.Errorf("cannot create file without name")
	}

	// adjust path to by os specific
	parts := strings.Split(name, "/")
	name = filepath.Join(parts...)

	// ensures that the directory exists and is safe to write to
	fDir := filepath.Dir(name)
	if err := createDir(t, dst, fDir, cfg.CustomCreateDirMode(), cfg); err != nil {
		return 0, fmt.Errorf("cannot create directory: %w", err)
	}

	// ensure that if the file exist that it is not a symlink
	if err := securityCheck(t, dst, name); err != nil {
		return 0, fmt.Errorf("security check path failed: %w", err)
	}
	path := filepath.Join(dst, name)
	return t.CreateFile(path, src, mode, cfg.Overwrite(), maxSize)
}

// createDir is a wrapper around the CreateDir function
//
// If the destination does not exist, it is created if config.CreateDestination() is set.
//
// If the path contains path traversal or a symlink, the function returns an error.
//
// If the directory is created successfully, the function returns nil.
func createDir(t Target, dst string, name string, mode fs.FileMode, cfg *Config) error {
	// check if dst exists
	if len(dst) > 0 {
		if _, err := t.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
			if cfg.CreateDestination() {
				if err := t.CreateDir(dst, cfg.CustomCreateDirMode()); err != nil {
					return fmt.Errorf("failed to create destination directory %w", err)
				}
				cfg.Logger().Info("created destination directory", "path", dst)
			} else {
				return fmt.Errorf("destination does not exist")
			}
		}
	}

	// no action needed
	if name == "." {
		return nil
	}

	// perform security check to ensure that the path is safe to write to
	if err := securityCheck(t, dst, name); err != nil {
		return fmt.Errorf("security check path failed: %w", err)
	}

	// combine the path
	parts := strings.Split(name, "/")
	path := filepath.Join(dst, filepath.Join(parts...))
	return t.CreateDir(path, mode)
}

// securityCheck checks if the path contains path traversal or a symlink.
//
// Archive entry names are attacker controlled, so both cases are rejected with errUnsafePath.
func securityCheck(t Target, dst string, path string) error {
	// check if dstBase is empty, then targetDirectory should not be an absolute path
	if len(dst) == 0 {
		if filepath.IsAbs(path) {
			return fmt.Errorf("%w: absolute path detected", errUnsafePath)
		}
	}

	// clean the target
	parts := strings.Split(path, "/")
	path = filepath.Join(parts...)

	// get relative path from base to new directory target
	rel, err := filepath.Rel(dst, filepath.Join(dst, path))
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}
	// check if the relative path is local
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: path traversal detected", errUnsafePath)
	}

	// check each dir in path
	targetPathElements := strings.Split(path, string(os.PathSeparator))
	for i := 0; i < len(targetPathElements); i++ {

		// assemble path
		subDirs := filepath.Join(targetPathElements[0 : i+1]...)
		checkDir := filepath.Join(dst, subDirs)

		// check if its a proper path
		if len(checkDir) == 0 || checkDir == "." {
			continue
		}

		// check for symlink
		isSymlink, err := isSymlink(t, checkDir)
		if err != nil {
			return fmt.Errorf("failed to check symlink: %w", err)
		}
		if isSymlink {
			return fmt.Errorf("%w: symlink in path", errUnsafePath)
		}
	}

	return nil
}

// isSymlink checks if path is a symlink
//
// The function returns true if the path is a symlink, otherwise false.
func isSymlink(t Target, path string) (bool, error) {
	stat, err := t.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check path: %w", err)
	}

	// check if we got stats
	if stat == nil {
		return false, fmt.Errorf("failed to get stats")
	}

	return stat.Mode()&os.ModeSymlink == os.ModeSymlink, nil
}
