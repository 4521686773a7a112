// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// magicBytesGCLZ is the four byte identifier of a GCLZ stream.
var magicBytesGCLZ = []byte("GCLZ")

// ErrTooLarge is returned by [GCLZ.Compress] for payloads that do not fit the 24 bit size field.
var ErrTooLarge = errors.New("payload too large for format")

// GCLZ wraps an LZ10 stream with a "GCLZ" identifier. The identifier is followed by the
// 0x10 type byte and the decompressed size as 24 bit little endian value.
type GCLZ struct {
	maxSize int64
}

// NewGCLZ creates a GCLZ codec limited to maxSize decompressed bytes (-1 disables the check).
func NewGCLZ(maxSize int64) *GCLZ {
	return &GCLZ{maxSize: maxSize}
}

func (c *GCLZ) Name() string      { return "GCLZ" }
func (c *GCLZ) Extension() string { return ".gclz" }

// Matches requires more than 0x10 bytes, the identifier and the LZ10 type byte.
func (c *GCLZ) Matches(s io.ReaderAt, ext string) bool {
	b := peek(s, 0, 0x11)
	if b == nil {
		return false
	}
	return bytes.Equal(b[:4], magicBytesGCLZ) && b[4] == 0x10
}

func (c *GCLZ) Decompress(src io.Reader) (*bytes.Reader, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, decodeError(c.Name(), err)
	}
	if len(raw) < 8 || !bytes.Equal(raw[:4], magicBytesGCLZ) {
		return nil, decodeError(c.Name(), errors.New("missing identifier"))
	}
	size := uint24(raw[5:8])
	if err := checkSize(int64(size), c.maxSize); err != nil {
		return nil, decodeError(c.Name(), err)
	}
	out, err := lz10Decode(raw[8:], int(size))
	if err != nil {
		return nil, decodeError(c.Name(), err)
	}
	return bytes.NewReader(out), nil
}

// Compress encodes data. Payloads larger than 0xFFFFFF bytes are rejected with ErrTooLarge.
func (c *GCLZ) Compress(data []byte) ([]byte, error) {
	if len(data) > lz10MaxLength {
		return nil, fmt.Errorf("gclz: %w: %d bytes", ErrTooLarge, len(data))
	}
	out := make([]byte, 8, 8+len(data))
	copy(out, magicBytesGCLZ)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(data))<<8|0x10)
	return append(out, lz10Encode(data)...), nil
}
