// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"encoding/binary"
	"fmt"
)

// magicBytesAFS is the identifier of an AFS container.
var magicBytesAFS = []byte{'A', 'F', 'S', 0x00}

const (
	afsMaxEntries     = 0x10000
	afsDirEntryLength = 0x30
)

// AFS reads the CRI container used by many Dreamcast, PlayStation 2 and GameCube titles.
//
// A little endian table of offset and size pairs follows the entry count. The pair
// after the table points to an optional name directory with 0x30 byte records. Some
// writers leave that pair empty and store it right before the first payload instead.
type AFS struct{}

func (AFS) Name() string { return "AFS" }

func (AFS) IsMatch(s Stream, ext string) bool {
	return hasMagic(s, 0, magicBytesAFS)
}

func (p AFS) Read(s Stream) (*Archive, error) {
	if !hasMagic(s, 0, magicBytesAFS) {
		return nil, mismatch(p.Name())
	}
	size, err := Size(s)
	if err != nil {
		return nil, err
	}

	hdr := make([]byte, 8)
	if err := readAt(s, hdr, 0); err != nil {
		return nil, malformed(p.Name(), "truncated header")
	}
	count := int64(binary.LittleEndian.Uint32(hdr[4:]))
	if count > afsMaxEntries || 8+count*8+8 > size {
		return nil, malformed(p.Name(), "implausible entry count %d", count)
	}

	table := make([]byte, count*8+8)
	if err := readAt(s, table, 8); err != nil {
		return nil, malformed(p.Name(), "truncated entry table")
	}
	names := p.names(s, table, count, size)

	a := New(p.Name())
	for i := int64(0); i < count; i++ {
		off := int64(binary.LittleEndian.Uint32(table[i*8:]))
		n := int64(binary.LittleEndian.Uint32(table[i*8+4:]))
		if n == 0 {
			continue
		}
		if off+n > size {
			return nil, malformed(p.Name(), "entry %d exceeds stream", i)
		}
		name := fmt.Sprintf("%05d.bin", i)
		if int(i) < len(names) && names[i] != "" {
			name = names[i]
		}
		a.Root.AddFile(name, int(i), View(s, off, n))
	}
	return a, nil
}

// names reads the optional name directory. It returns nil if there is none.
func (p AFS) names(s Stream, table []byte, count int64, size int64) []string {
	dirOff := int64(binary.LittleEndian.Uint32(table[count*8:]))
	dirLen := int64(binary.LittleEndian.Uint32(table[count*8+4:]))
	if dirOff == 0 && count > 0 {
		first := int64(binary.LittleEndian.Uint32(table[0:]))
		ptr := make([]byte, 8)
		if first >= 8 && readAt(s, ptr, first-8) == nil {
			dirOff = int64(binary.LittleEndian.Uint32(ptr))
			dirLen = int64(binary.LittleEndian.Uint32(ptr[4:]))
		}
	}
	if dirOff == 0 || dirLen < count*afsDirEntryLength || dirOff+count*afsDirEntryLength > size {
		return nil
	}

	dir := make([]byte, count*afsDirEntryLength)
	if err := readAt(s, dir, dirOff); err != nil {
		return nil
	}
	names := make([]string, count)
	for i := range names {
		names[i] = cString(dir[i*afsDirEntryLength : i*afsDirEntryLength+0x20])
	}
	return names
}
