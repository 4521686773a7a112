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
	lz10Window    = 0x1000
	lz10MinMatch  = 3
	lz10MaxMatch  = 0x12
	lz10MaxLength = 0xFFFFFF
)

var errTruncated = errors.New("truncated input")

// lz10MaxExpansion bounds the output per input byte: a flag byte and eight back
// references (17 bytes) produce at most 144 bytes.
const lz10MaxExpansion = 9

// lz10Alignment is the slack for streams padded to a four byte boundary.
const lz10Alignment = 3

// lz10Decode expands the LZ10 token stream in src into exactly size bytes.
//
// Every flag byte announces eight tokens, most significant bit first. A set bit is a
// two byte back reference, a cleared bit a literal byte.
func lz10Decode(src []byte, size int) ([]byte, error) {
	if err := checkExpansion(int64(size), len(src), lz10MaxExpansion); err != nil {
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
			if flags&(0x80>>bit) == 0 {
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
			n := int(b1>>4) + lz10MinMatch
			disp := (int(b1&0x0F)<<8 | int(b2)) + 1
			if disp > len(dst) {
				return nil, fmt.Errorf("back reference %d beyond output %d", disp, len(dst))
			}
			for i := 0; i < n && len(dst) < size; i++ {
				dst = append(dst, dst[len(dst)-disp])
			}
		}
	}
	return dst, nil
}

// lz10Encode produces an LZ10 token stream for data using a greedy search over the window.
func lz10Encode(data []byte) []byte {
	var out bytes.Buffer
	pos := 0
	for pos < len(data) {
		flagPos := out.Len()
		out.WriteByte(0)
		var flags byte
		for bit := 0; bit < 8 && pos < len(data); bit++ {
			n, disp := lz10Match(data, pos)
			if n < lz10MinMatch {
				out.WriteByte(data[pos])
				pos++
				continue
			}
			flags |= 0x80 >> bit
			d := disp - 1
			out.WriteByte(byte((n-lz10MinMatch)<<4) | byte(d>>8))
			out.WriteByte(byte(d))
			pos += n
		}
		out.Bytes()[flagPos] = flags
	}
	return out.Bytes()
}

// lz10Match finds the longest match for data[pos:] in the preceding window.
func lz10Match(data []byte, pos int) (int, int) {
	start := pos - lz10Window
	if start < 0 {
		start = 0
	}
	maxLen := len(data) - pos
	if maxLen > lz10MaxMatch {
		maxLen = lz10MaxMatch
	}
	bestLen, bestDisp := 0, 0
	for i := pos - 1; i >= start; i-- {
		n := 0
		for n < maxLen && data[i+n] == data[pos+n] {
			n++
		}
		if n > bestLen {
			bestLen, bestDisp = n, pos-i
			if n == maxLen {
				break
			}
		}
	}
	return bestLen, bestDisp
}

// LZ10 is the raw Nintendo LZ10 stream: a 0x10 type byte, a 24 bit little endian
// output size and the token stream. It carries no magic and is only tried when
// generic decompression is attempted.
type LZ10 struct {
	maxSize int64
}

// NewLZ10 creates an LZ10 codec limited to maxSize decompressed bytes (-1 disables the check).
func NewLZ10(maxSize int64) *LZ10 {
	return &LZ10{maxSize: maxSize}
}

func (c *LZ10) Name() string      { return "LZ10" }
func (c *LZ10) Extension() string { return ".lz" }

// Matches checks the type byte and requires a non empty output size.
func (c *LZ10) Matches(s io.ReaderAt, ext string) bool {
	b := peek(s, 0, 8)
	if b == nil || b[0] != 0x10 {
		return false
	}
	return uint24(b[1:4]) > 0
}

func (c *LZ10) Decompress(src io.Reader) (*bytes.Reader, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, decodeError(c.Name(), err)
	}
	if len(raw) < 4 || raw[0] != 0x10 {
		return nil, decodeError(c.Name(), errors.New("missing type byte"))
	}
	size := uint24(raw[1:4])
	if err := checkSize(int64(size), c.maxSize); err != nil {
		return nil, decodeError(c.Name(), err)
	}
	if err := lz10Plausible(raw[4:], int(size)); err != nil {
		return nil, decodeError(c.Name(), err)
	}
	out, err := lz10Decode(raw[4:], int(size))
	if err != nil {
		return nil, decodeError(c.Name(), err)
	}
	return bytes.NewReader(out), nil
}

// lz10Plausible rejects a token stream longer than an all literal encoding of size bytes,
// which takes one flag byte per eight literals. Trailing zero padding is ignored.
func lz10Plausible(src []byte, size int) error {
	n := len(bytes.TrimRight(src, "\x00"))
	if n > size+(size+7)/8+lz10Alignment {
		return fmt.Errorf("%d token bytes cannot encode %d bytes", n, size)
	}
	return nil
}

// Compress encodes data as a raw LZ10 stream.
func (c *LZ10) Compress(data []byte) ([]byte, error) {
	if len(data) > lz10MaxLength {
		return nil, fmt.Errorf("lz10 cannot encode %d bytes", len(data))
	}
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, uint32(len(data))<<8|0x10)
	return append(hdr, lz10Encode(data)...), nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
