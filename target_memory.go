// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"sync"
	"time"
)

// TargetMemory is an in-memory output tree. It is a map of slash separated paths to
// MemoryEntry values and is safe for concurrent use. Paths are relative and must be valid
// according to [fs.ValidPath], so the destination passed to [UnpackFS] has to be empty or
// a relative path.
type TargetMemory struct {
	files sync.Map // map[string]*MemoryEntry
}

// NewTargetMemory creates a new in-memory output tree.
func NewTargetMemory() *TargetMemory {
	return &TargetMemory{}
}

// CreateFile creates a new file with the given mode. If the overwrite flag is set to false
// and the file already exists, an error wrapping [fs.ErrExist] is returned. The maxSize
// parameter limits the size of the file. If the file is created successfully, the number
// of bytes written is returned.
func (m *TargetMemory) CreateFile(p string, src io.Reader, mode fs.FileMode, overwrite bool, maxSize int64) (int64, error) {
	if !fs.ValidPath(p) {
		return 0, fmt.Errorf("%w: %s", fs.ErrInvalid, p)
	}
	if !overwrite {
		if _, ok := m.files.Load(p); ok {
			return 0, fmt.Errorf("%w: %s", fs.ErrExist, p)
		}
	}

	// create byte buffered writer
	var buf bytes.Buffer
	w := limitWriter(&buf, maxSize)

	// write to buffer
	n, err := io.Copy(w, src)
	if err != nil {
		return n, err
	}

	entry := &MemoryEntry{
		FileInfo: &MemoryFileInfo{name: path.Base(p), size: n, mode: mode.Perm(), modTime: time.Now()},
		Data:     buf.Bytes(),
	}
	if !overwrite {
		if _, loaded := m.files.LoadOrStore(p, entry); loaded {
			return 0, fmt.Errorf("%w: %s", fs.ErrExist, p)
		}
		return n, nil
	}
	m.files.Store(p, entry)
	return n, nil
}

// CreateDir creates a directory and all missing parents. Existing entries are left untouched.
func (m *TargetMemory) CreateDir(p string, mode fs.FileMode) error {
	if !fs.ValidPath(p) {
		return fmt.Errorf("%w: %s", fs.ErrInvalid, p)
	}
	for ; p != "."; p = path.Dir(p) {
		m.files.LoadOrStore(p, &MemoryEntry{
			FileInfo: &MemoryFileInfo{name: path.Base(p), mode: mode.Perm() | fs.ModeDir, modTime: time.Now()},
		})
	}
	return nil
}

// Open opens the named file for reading. Directories cannot be opened.
func (m *TargetMemory) Open(p string) (fs.File, error) {
	if !fs.ValidPath(p) {
		return nil, fmt.Errorf("%w: %s", fs.ErrInvalid, p)
	}
	e, ok := m.files.Load(p)
	if !ok {
		return nil, fmt.Errorf("%w: %s", fs.ErrNotExist, p)
	}
	me := e.(*MemoryEntry)
	if me.IsDir() {
		return nil, fmt.Errorf("cannot open directory")
	}

	// create copy of entry
	return &MemoryEntry{FileInfo: me.FileInfo, Data: me.Data}, nil
}

// Lstat returns the FileInfo for the given path. If the path does not exist, an error
// wrapping [fs.ErrNotExist] is returned.
func (m *TargetMemory) Lstat(p string) (fs.FileInfo, error) {
	if !fs.ValidPath(p) {
		return nil, fmt.Errorf("%w: %s", fs.ErrInvalid, p)
	}
	if e, ok := m.files.Load(p); ok {
		return e.(*MemoryEntry).FileInfo, nil
	}
	return nil, fmt.Errorf("%w: %s", fs.ErrNotExist, p)
}

// Stat is equal to Lstat, the in-memory tree holds no symlinks.
func (m *TargetMemory) Stat(p string) (fs.FileInfo, error) {
	return m.Lstat(p)
}

// ReadFile returns the content of the file at path.
func (m *TargetMemory) ReadFile(p string) ([]byte, error) {
	if !fs.ValidPath(p) {
		return nil, fmt.Errorf("%w: %s", fs.ErrInvalid, p)
	}
	if e, ok := m.files.Load(p); ok {
		me := e.(*MemoryEntry)
		if me.IsDir() {
			return nil, fmt.Errorf("cannot read directory")
		}
		return me.Data, nil
	}
	return nil, fmt.Errorf("%w: %s", fs.ErrNotExist, p)
}

// Files returns the sorted paths of all files.
func (m *TargetMemory) Files() []string {
	var paths []string
	m.files.Range(func(p, e any) bool {
		if !e.(*MemoryEntry).IsDir() {
			paths = append(paths, p.(string))
		}
		return true
	})
	sort.Strings(paths)
	return paths
}

// MemoryEntry is an entry in the in-memory output tree
type MemoryEntry struct {
	FileInfo fs.FileInfo
	Data     []byte
}

func (me *MemoryEntry) Stat() (fs.FileInfo, error) {
	return me.FileInfo, nil
}

func (me *MemoryEntry) Read(p []byte) (int, error) {
	n := copy(p, me.Data)
	if n == 0 {
		return 0, io.EOF
	}
	me.Data = me.Data[n:]
	return n, nil
}

func (me *MemoryEntry) Close() error {
	return nil
}

func (me *MemoryEntry) IsDir() bool {
	return me.FileInfo.IsDir()
}

// MemoryFileInfo is a FileInfo implementation for the in-memory output tree
type MemoryFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

// Name returns the name of the file
func (fi *MemoryFileInfo) Name() string {
	return fi.name
}

// Size returns the size of the file
func (fi *MemoryFileInfo) Size() int64 {
	return fi.size
}

// Mode returns the mode of the file
func (fi *MemoryFileInfo) Mode() fs.FileMode {
	return fi.mode
}

// ModTime returns the modification time of the file
func (fi *MemoryFileInfo) ModTime() time.Time {
	return fi.modTime
}

// IsDir returns true if the file is a directory
func (fi *MemoryFileInfo) IsDir() bool {
	return fi.mode.IsDir()
}

// Sys returns the underlying data source (nil for in-memory output tree)
func (fi *MemoryFileInfo) Sys() any {
	return nil
}
