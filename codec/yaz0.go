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

const (
	yazHeaderSize = 0x10
	yazMaxMatch   = 0xFF + 0x12

	// a flag byte and eight long back references (25 bytes) produce at most 8*273 bytes
	yazMaxExpansion = 88
)

// Yaz is the Yaz0 run length encoding used on GameCube and Wii. Yaz1 is the same
// stream under a different identifier.
//
// The header holds the identifier, the decompressed size as big endian uint32 and
// eight reserved bytes.
type Yaz struct {
	magic   []byte
	maxSize int64
}

// NewYaz0 creates a Yaz0 codec limited to maxSize decompressed bytes (-1 disables the check).
func NewYaz0(maxSize int64) *Yaz {
	return &Yaz{magic: []byte("Yaz0"), maxSize: maxSize}
}

// NewYaz1 creates a Yaz1 codec limited to maxSize decompressed bytes (-1 disables the check).
func NewYaz1(maxSize int64) *Yaz {
	return &Yaz{magic: []byte("Yaz1"), maxSize: maxSize}
}

func (c *Yaz) Name() string { return string(c.magic) }

func (c *Yaz) Extension() string {
	if c.magic[3] == '1' {
		return ".yaz1"
	}
	return ".szs"
}

func (c *Yaz) Matches(s io.ReaderAt, ext string) bool {
	b := peek(s, 0, yazHeaderSize)
	return b != nil && bytes.Equal(b[:4], c.magic)
}

func (c *Yaz) Decompress(src io.Reader) (*bytes.Reader, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, decodeError(c.Name(), err)
	}
	if len(raw) < yazHeaderSize || !bytes.Equal(raw[:4], c.magic) {
		return nil, decodeError(c.Name(), errors.New("missing identifier"))
	}
	size := binary.BigEndian.Uint32(raw[4:8])
	if err := checkSize(int64(size), c.maxSize); err != nil {
		return nil, decodeError(c.Name(), err)
	}
	out, err := yazDecode(raw[yazHeaderSize:], int(size))
	if err != nil {
		return nil, decodeError(c.Name(), err)
	}
	return bytes.NewReader(out), nil
}

// Compress encodes data with a greedy match search.
func (c *Yaz) Compress(data []byte) ([]byte, error) {
	if uint64(len(data)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("%s: %w", c.Name(), ErrTooLarge)
	}
	out := make([]byte, yazHeaderSize, yazHeaderSize+len(data))
	copy(out, c.magic)
	binary.BigEndian.PutUint32(out[4:], uint32(len(data)))
	return append(out, yazEncode(data)...), nil
}

func yazDecode(src []byte, size int) ([]byte, error) {
	if err := checkExpansion(int64(size), len(src), yazMaxExpansion); err != nil {
		return nil, err
	}
	dst := make([]byte, 0, initialCapacity(size, len(src)))
	pos := 0
	for len(dst) < size {
		if pos >= len(src) {
			return nil, errTruncated
		}
		flags := src[pos]
		pos++
		for bit := 0; bit < 8 && len(dst) < size; bit++ {
			if flags&(0x80>>bit) != 0 {
				if pos >= len(src) {
					return nil, errTruncated
				}
				dst = append(dst, src[pos])
				pos++
				continue
			}
			if pos+1 >= len(src) {
				return nil, errTruncated
			}
			b1, b2 := src[pos], src[pos+1]
			pos += 2
			dist := (int(b1&0x0F)<<8 | int(b2)) + 1
			n := int(b1 >> 4)
			if n == 0 {
				if pos >= len(src) {
					return nil, errTruncated
				}
				n = int(src[pos]) + 0x12
				pos++
			} else {
				n += 2
			}
			if dist > len(dst) {
				return nil, fmt.Errorf("back reference %d beyond output %d", dist, len(dst))
			}
			for i := 0; i < n && len(dst) < size; i++ {
				dst = append(dst, dst[len(dst)-dist])
			}
		}
	}
	return dst, nil
}

func yazEncode(data []byte) []byte {
	var out bytes.Buffer
	pos := 0
	for pos < len(data) {
		flagPos := out.Len()
		out.WriteByte(0)
		var flags byte
		for bit := 0; bit < 8 && pos < len(data); bit++ {
			n, dist := yazMatch(data, pos)
			if n < 3 {
				flags |= 0x80 >> bit
				out.WriteByte(data[pos])
				pos++
				continue
			}
			d := dist - 1
			if n >= 0x12 {
				out.WriteByte(byte(d >> 8))
				out.WriteByte(byte(d))
				out.WriteByte(byte(n - 0x12))
			} else {
				out.WriteByte(byte((n-2)<<4) | byte(d>>8))
				out.WriteByte(byte(d))
			}
			pos += n
		}
		out.Bytes()[flagPos] = flags
	}
	return out.Bytes()
}

func yazMatch(data []byte, pos int) (int, int) {
	start := pos - lz10Window
	if start < 0 {
		start = 0
	}
	maxLen := len(data) - pos
	if maxLen > yazMaxMatch {
		maxLen = yazMaxMatch
	}
	bestLen, bestDist := 0, 0
	for i := pos - 1; i >= start; i-- {
		n := 0
		for n < maxLen && data[i+n] == data[pos+n] {
			n++
		}
		if n > bestLen {
			bestLen, bestDist = n, pos-i
			if n == maxLen {
				break
			}
		}
	}
	return bestLen, bestDist
}
