// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap_test

import (
	"encoding/binary"
	"testing"

	"github.com/hashicorp/go-unwrap/archive"
	"github.com/hashicorp/go-unwrap/codec"
)

// fps4Entry is a named payload of a synthetic FPS4 table.
type fps4Entry struct {
	name string
	data []byte
}

// createFPS4 builds a big endian FPS4 table with start offset, exact size and name
// fields. Payloads follow the entry table.
func createFPS4(entries ...fps4Entry) []byte {
	const (
		headerSize = 0x1C
		entrySize  = 4 + 4 + 0x20
	)
	off := headerSize + len(entries)*entrySize
	buf := make([]byte, off)
	copy(buf, "FPS4")
	binary.BigEndian.PutUint32(buf[0x04:], uint32(len(entries)))
	binary.BigEndian.PutUint32(buf[0x08:], headerSize)
	binary.BigEndian.PutUint32(buf[0x0C:], uint32(off))
	binary.BigEndian.PutUint16(buf[0x10:], entrySize)
	binary.BigEndian.PutUint16(buf[0x12:], archive.FPS4HasLocation|archive.FPS4HasFileSize|archive.FPS4HasName)

	for i, e := range entries {
		rec := buf[headerSize+i*entrySize:]
		binary.BigEndian.PutUint32(rec[0:], uint32(len(buf)))
		binary.BigEndian.PutUint32(rec[4:], uint32(len(e.data)))
		copy(rec[8:8+0x20], e.name)
		buf = append(buf, e.data...)
	}
	return buf
}

// tplBytes returns a minimal TPL texture.
func tplBytes() []byte {
	b := make([]byte, 0x40)
	copy(b, []byte{0x00, 0x20, 0xAF, 0x30})
	binary.BigEndian.PutUint32(b[4:], 1)
	binary.BigEndian.PutUint32(b[8:], 0x0C)
	binary.BigEndian.PutUint32(b[0x0C:], 0x14)
	binary.BigEndian.PutUint16(b[0x14:], 8)
	binary.BigEndian.PutUint16(b[0x16:], 8)
	binary.BigEndian.PutUint32(b[0x18:], 0xE)
	return b
}

// btiBytes returns a minimal BTI texture.
func btiBytes() []byte {
	b := make([]byte, 0x40)
	b[0] = 0x0E
	binary.BigEndian.PutUint16(b[2:], 64)
	binary.BigEndian.PutUint16(b[4:], 64)
	b[0x18] = 1
	return b
}

// filler returns n bytes that contain no known signature.
func filler(n int, seed int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*131 + seed) % 251)
	}
	return b
}

// compress encodes data with c.
func compress(t *testing.T, c codec.Compressor, data []byte) []byte {
	t.Helper()
	out, err := c.Compress(data)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	return out
}
