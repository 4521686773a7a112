// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package archive models the content of a parsed container as a tree of
// directories and files and provides the parsers that build such trees.
//
// File payloads are bounded views into the parent stream wherever the format stores
// them uncompressed, so that nested archives can be unwrapped without copying.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

var (
	// ErrFormatMismatch is returned by [Parser.Read] if the stream is not an instance of the format.
	ErrFormatMismatch = errors.New("format mismatch")

	// ErrMalformedArchive is returned if a required structure of the archive is missing or broken.
	ErrMalformedArchive = errors.New("malformed archive")
)

// Stream is an independently seekable byte stream.
type Stream interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Parser reads one container format into an [Archive].
type Parser interface {
	// Name returns the display name of the format.
	Name() string

	// IsMatch reports if s is an instance of the format. Implementations only use
	// ReadAt and never move the cursor of s.
	IsMatch(s Stream, ext string) bool

	// Read parses s. The returned archive may reference s, so s must stay open until
	// the archive is closed.
	Read(s Stream) (*Archive, error)
}

// Archive is a parsed container.
type Archive struct {
	// Format is the name of the parser that produced the archive.
	Format string

	// Root is the top level directory.
	Root *Directory

	// Errors holds the errors of members that were skipped while reading. A broken
	// member does not fail the whole archive.
	Errors []error
}

// New creates an empty archive of the named format.
func New(format string) *Archive {
	a := &Archive{Format: format}
	a.Root = newDirectory("", nil, a)
	return a
}

// skip records a member that could not be read.
func (a *Archive) skip(name string, err error) {
	a.Errors = append(a.Errors, fmt.Errorf("%s: member %s: %w", a.Format, name, err))
}

// Close releases the payloads of all files. Payloads that hold resources of their own
// are closed.
func (a *Archive) Close() error {
	return a.Root.release()
}

// Node is either a [*Directory] or a [*File].
type Node interface {
	Name() string
	Parent() *Directory
}

// Directory is an insertion ordered set of uniquely named nodes.
type Directory struct {
	name   string
	parent *Directory
	owner  *Archive
	order  []string
	items  map[string]Node
}

func newDirectory(name string, parent *Directory, owner *Archive) *Directory {
	return &Directory{name: name, parent: parent, owner: owner, items: map[string]Node{}}
}

func (d *Directory) Name() string       { return d.name }
func (d *Directory) Parent() *Directory { return d.parent }

// Owner returns the archive the directory belongs to.
func (d *Directory) Owner() *Archive { return d.owner }

// Len returns the number of direct children.
func (d *Directory) Len() int { return len(d.order) }

// Get returns the child with the given name.
func (d *Directory) Get(name string) (Node, bool) {
	n, ok := d.items[name]
	return n, ok
}

// Items returns the children in insertion order.
func (d *Directory) Items() []Node {
	nodes := make([]Node, 0, len(d.order))
	for _, name := range d.order {
		nodes = append(nodes, d.items[name])
	}
	return nodes
}

// FileCount returns the number of files in the directory and all subdirectories.
func (d *Directory) FileCount() int {
	var n int
	for _, item := range d.items {
		switch v := item.(type) {
		case *File:
			n++
		case *Directory:
			n += v.FileCount()
		}
	}
	return n
}

func (d *Directory) release() error {
	var errs []error
	for _, item := range d.items {
		switch v := item.(type) {
		case *File:
			if c, ok := v.data.(io.Closer); ok {
				errs = append(errs, c.Close())
			}
			v.data = nil
		case *Directory:
			errs = append(errs, v.release())
		}
	}
	return errors.Join(errs...)
}

// Dir returns the subdirectory name, creating it if needed. If a file occupies the
// name, the directory is added under a disambiguated name.
func (d *Directory) Dir(name string) *Directory {
	if n, ok := d.items[name]; ok {
		if sub, ok := n.(*Directory); ok {
			return sub
		}
	}
	sub := newDirectory("", d, d.owner)
	sub.name = d.insert(name, len(d.order), sub)
	return sub
}

// AddFile adds a file with payload data. The ordinal is the index of the entry in its
// container and is used as name prefix if a sibling already carries the name.
func (d *Directory) AddFile(name string, ordinal int, data Stream) *File {
	f := &File{parent: d, data: data}
	f.name = d.insert(name, ordinal, f)
	f.ext = strings.ToLower(path.Ext(f.name))
	return f
}

// AddPath adds a file below d, creating the directories of a slash separated path.
func (d *Directory) AddPath(p string, ordinal int, data Stream) *File {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	parts := strings.Split(p, "/")
	dir := d
	for _, part := range parts[:len(parts)-1] {
		if part == "" || part == "." {
			continue
		}
		dir = dir.Dir(part)
	}
	return dir.AddFile(parts[len(parts)-1], ordinal, data)
}

func (d *Directory) insert(name string, ordinal int, n Node) string {
	unique := name
	for prefix := ordinal; ; prefix++ {
		if _, exists := d.items[unique]; !exists {
			break
		}
		unique = fmt.Sprintf("%d%s", prefix, name)
	}
	d.items[unique] = n
	d.order = append(d.order, unique)
	return unique
}

// Attribute is a single metadata token of an entry. Tokens without a key carry an empty Key.
type Attribute struct {
	Key   string
	Value string
}

// File is a leaf of the archive tree.
type File struct {
	name     string
	ext      string
	parent   *Directory
	data     Stream
	Metadata []Attribute
}

func (f *File) Name() string       { return f.name }
func (f *File) Parent() *Directory { return f.parent }

// Extension returns the lower case extension of the file name, including the dot.
func (f *File) Extension() string { return f.ext }

// Data returns the payload of the file, positioned at the start.
func (f *File) Data() (Stream, error) {
	if f.data == nil {
		return nil, fmt.Errorf("%s: %w", f.name, os.ErrClosed)
	}
	if _, err := f.data.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("cannot rewind %s: %w", f.name, err)
	}
	return f.data, nil
}

// Size returns the size of a stream without moving its cursor.
func Size(s Stream) (int64, error) {
	if sz, ok := s.(interface{ Size() int64 }); ok {
		return sz.Size(), nil
	}
	if f, ok := s.(*os.File); ok {
		fi, err := f.Stat()
		if err != nil {
			return 0, err
		}
		return fi.Size(), nil
	}
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

// View returns a bounded stream over n bytes of s starting at off.
func View(s io.ReaderAt, off int64, n int64) *io.SectionReader {
	return io.NewSectionReader(s, off, n)
}

// readAt reads exactly len(buf) bytes at off.
func readAt(s io.ReaderAt, buf []byte, off int64) error {
	n, err := s.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// hasMagic checks if s carries magic at offset off.
func hasMagic(s io.ReaderAt, off int64, magic []byte) bool {
	buf := make([]byte, len(magic))
	if err := readAt(s, buf, off); err != nil {
		return false
	}
	return string(buf) == string(magic)
}

// cString returns the bytes up to the first NUL.
func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// readCString reads a NUL terminated string at off, at most limit bytes.
func readCString(s io.ReaderAt, off int64, limit int) string {
	buf := make([]byte, limit)
	n, _ := s.ReadAt(buf, off)
	return cString(buf[:n])
}

// malformed wraps ErrMalformedArchive with a reason.
func malformed(format string, reason string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", format, ErrMalformedArchive, fmt.Sprintf(reason, args...))
}

// mismatch wraps ErrFormatMismatch.
func mismatch(format string) error {
	return fmt.Errorf("%s: %w", format, ErrFormatMismatch)
}
