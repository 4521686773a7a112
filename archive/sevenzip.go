// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package archive

import "github.com/bodgit/sevenzip"

// magicBytes7zip are the magic bytes for 7zip files.
// reference: https://py7zr.readthedocs.io/en/latest/archive_format.html
var magicBytes7zip = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}

// SevenZip reads 7z archives. Members are decompressed into memory, each up to MaxSize bytes.
type SevenZip struct {
	// MaxSize limits the size of a single member. -1 disables the check.
	MaxSize int64
}

func (SevenZip) Name() string { return "7Z" }

func (SevenZip) IsMatch(s Stream, ext string) bool {
	return hasMagic(s, 0, magicBytes7zip)
}

func (p SevenZip) Read(s Stream) (*Archive, error) {
	if !hasMagic(s, 0, magicBytes7zip) {
		return nil, mismatch(p.Name())
	}
	size, err := Size(s)
	if err != nil {
		return nil, err
	}
	zr, err := sevenzip.NewReader(s, size)
	if err != nil {
		return nil, malformed(p.Name(), "%v", err)
	}

	a := New(p.Name())
	for i, f := range zr.File {
		// links and directories carry no payload
		if !f.FileInfo().Mode().IsRegular() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			a.skip(f.Name, err)
			continue
		}
		data, err := materialize(rc, p.MaxSize)
		rc.Close()
		if err != nil {
			a.skip(f.Name, err)
			continue
		}
		a.Root.AddPath(f.Name, i, data)
	}
	return a, nil
}
