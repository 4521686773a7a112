// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/zip"
)

// magicBytesZip contains the magic bytes for a zip archive.
// reference: https://golang.org/pkg/archive/zip/
var magicBytesZip = []byte{0x50, 0x4B, 0x03, 0x04}

// ErrMaxSizeExceeded is returned if a compressed member is larger than the configured limit.
var ErrMaxSizeExceeded = errors.New("maximum size exceeded")

// Zip reads zip archives. Stored members stay views into the archive, compressed members
// are inflated into memory up to MaxSize bytes each.
type Zip struct {
	// MaxSize limits the size of a single inflated member. -1 disables the check.
	MaxSize int64
}

func (Zip) Name() string { return "ZIP" }

func (Zip) IsMatch(s Stream, ext string) bool {
	return hasMagic(s, 0, magicBytesZip)
}

func (p Zip) Read(s Stream) (*Archive, error) {
	if !hasMagic(s, 0, magicBytesZip) {
		return nil, mismatch(p.Name())
	}
	size, err := Size(s)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(s, size)
	if err != nil {
		return nil, malformed(p.Name(), "%v", err)
	}

	a := New(p.Name())
	for i, f := range zr.File {
		// links and directories carry no payload
		if !f.FileInfo().Mode().IsRegular() {
			continue
		}
		data, err := p.member(s, f)
		if err != nil {
			a.skip(f.Name, err)
			continue
		}
		a.Root.AddPath(f.Name, i, data)
	}
	return a, nil
}

func (p Zip) member(s Stream, f *zip.File) (Stream, error) {
	if f.Method == zip.Store {
		off, err := f.DataOffset()
		if err != nil {
			return nil, err
		}
		return View(s, off, int64(f.CompressedSize64)), nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return materialize(rc, p.MaxSize)
}

// materialize reads r into memory, at most maxSize bytes (-1 disables the check).
func materialize(r io.Reader, maxSize int64) (*bytes.Reader, error) {
	if maxSize < 0 {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(b), nil
	}
	b, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > maxSize {
		return nil, ErrMaxSizeExceeded
	}
	return bytes.NewReader(b), nil
}
