// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"encoding/binary"
)

// magicBytesRTDP is the identifier of an RTDP container.
var magicBytesRTDP = []byte("RTDP")

const (
	rtdpTableOffset = 0x20
	rtdpEntryLength = 0x28
	rtdpKey         = 0x55
)

// RTDP reads the flat container whose payloads are obfuscated with a single byte XOR key.
//
// The big endian header holds the end of the header, the entry count and the data size.
// Entries start at 0x20 and carry a 32 byte name, the size and the offset relative to the
// end of the header.
type RTDP struct{}

func (RTDP) Name() string { return "RTDP" }

func (RTDP) IsMatch(s Stream, ext string) bool {
	return hasMagic(s, 0, magicBytesRTDP)
}

func (p RTDP) Read(s Stream) (*Archive, error) {
	if !hasMagic(s, 0, magicBytesRTDP) {
		return nil, mismatch(p.Name())
	}
	size, err := Size(s)
	if err != nil {
		return nil, err
	}

	hdr := make([]byte, 0x10)
	if err := readAt(s, hdr, 0); err != nil {
		return nil, malformed(p.Name(), "truncated header")
	}
	eoh := int64(binary.BigEndian.Uint32(hdr[4:]))
	count := int64(binary.BigEndian.Uint32(hdr[8:]))
	if rtdpTableOffset+count*rtdpEntryLength > size {
		return nil, malformed(p.Name(), "entry table of %d entries exceeds stream", count)
	}

	a := New(p.Name())
	record := make([]byte, rtdpEntryLength)
	for i := int64(0); i < count; i++ {
		if err := readAt(s, record, rtdpTableOffset+i*rtdpEntryLength); err != nil {
			return nil, malformed(p.Name(), "cannot read entry %d", i)
		}
		name := cString(record[:0x20])
		n := int64(binary.BigEndian.Uint32(record[0x20:]))
		off := int64(binary.BigEndian.Uint32(record[0x24:])) + eoh
		if off+n > size {
			return nil, malformed(p.Name(), "entry %q exceeds stream", name)
		}
		a.Root.AddFile(name, int(i), newXorView(s, off, n, rtdpKey))
	}
	return a, nil
}
