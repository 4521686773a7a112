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

// magicBytesCRILAYLA is the eight byte tag of a CRILAYLA chunk.
var magicBytesCRILAYLA = []byte("CRILAYLA")

const (
	crilaylaHeaderSize = 0x10
	crilaylaRawPrefix  = 0x100

	// a maximal match continues with 255 bytes for every eight further bits
	crilaylaMaxExpansion = 256
)

// crilaylaLevels are the bit widths of the variable length match size levels.
var crilaylaLevels = [...]uint{2, 3, 5, 8}

// CRILAYLA is the CRI Middleware chunk compression found in CPK containers.
//
// A chunk starts with the tag, the decompressed body size and the offset of a raw
// 0x100 byte prefix, both little endian uint32. The compressed body is a bit stream
// that is consumed from its last byte towards the first and fills the output from the
// end. The raw prefix is emitted in front of the body. Input without the tag is
// returned unchanged.
type CRILAYLA struct {
	maxSize int64
}

// NewCRILAYLA creates a CRILAYLA codec limited to maxSize decompressed bytes (-1 disables the check).
func NewCRILAYLA(maxSize int64) *CRILAYLA {
	return &CRILAYLA{maxSize: maxSize}
}

func (c *CRILAYLA) Name() string      { return "CRILAYLA" }
func (c *CRILAYLA) Extension() string { return ".crilayla" }

func (c *CRILAYLA) Matches(s io.ReaderAt, ext string) bool {
	return hasMagic(s, 0, magicBytesCRILAYLA)
}

func (c *CRILAYLA) Decompress(src io.Reader) (*bytes.Reader, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, decodeError(c.Name(), err)
	}
	if len(raw) < len(magicBytesCRILAYLA) || !bytes.Equal(raw[:len(magicBytesCRILAYLA)], magicBytesCRILAYLA) {
		return bytes.NewReader(raw), nil
	}
	out, err := c.decode(raw)
	if err != nil {
		return nil, decodeError(c.Name(), err)
	}
	return bytes.NewReader(out), nil
}

func (c *CRILAYLA) decode(raw []byte) ([]byte, error) {
	if len(raw) < crilaylaHeaderSize+crilaylaRawPrefix {
		return nil, errTruncated
	}
	size := int64(binary.LittleEndian.Uint32(raw[8:12]))
	prefixAt := int64(binary.LittleEndian.Uint32(raw[12:16])) + crilaylaHeaderSize
	if err := checkSize(size+crilaylaRawPrefix, c.maxSize); err != nil {
		return nil, err
	}
	if err := checkExpansion(size, len(raw), crilaylaMaxExpansion); err != nil {
		return nil, err
	}
	if prefixAt+crilaylaRawPrefix > int64(len(raw)) {
		return nil, fmt.Errorf("raw prefix at 0x%X beyond input", prefixAt)
	}

	out := make([]byte, crilaylaRawPrefix+size)
	copy(out, raw[prefixAt:prefixAt+crilaylaRawPrefix])

	br := &reverseBitReader{src: raw, pos: len(raw) - crilaylaRawPrefix - 1, floor: crilaylaHeaderSize}
	end := int64(len(out)) - 1
	var written int64
	for written < size {
		flag, err := br.bits(1)
		if err != nil {
			return nil, err
		}
		if flag == 0 {
			v, err := br.bits(8)
			if err != nil {
				return nil, err
			}
			out[end-written] = byte(v)
			written++
			continue
		}

		off, err := br.bits(13)
		if err != nil {
			return nil, err
		}
		from := end - written + int64(off) + 3
		n, err := crilaylaMatchLength(br)
		if err != nil {
			return nil, err
		}
		if from > end {
			return nil, fmt.Errorf("back reference 0x%X beyond output", from)
		}
		for i := 0; i < n && written < size; i++ {
			out[end-written] = out[from]
			from--
			written++
		}
	}
	return out, nil
}

func crilaylaMatchLength(br *reverseBitReader) (int, error) {
	n := 3
	for _, width := range crilaylaLevels {
		v, err := br.bits(width)
		if err != nil {
			return 0, err
		}
		n += int(v)
		if v != 1<<width-1 {
			return n, nil
		}
	}
	for {
		v, err := br.bits(8)
		if err != nil {
			return 0, err
		}
		n += int(v)
		if v != 0xFF {
			return n, nil
		}
	}
}

// Compress produces a literal only CRILAYLA chunk. The first 0x100 bytes of data become the
// raw prefix, so data must hold at least 0x100 bytes.
func (c *CRILAYLA) Compress(data []byte) ([]byte, error) {
	if len(data) < crilaylaRawPrefix {
		return nil, fmt.Errorf("crilayla: input of %d bytes is shorter than the raw prefix", len(data))
	}
	body := data[crilaylaRawPrefix:]

	var bw bitWriter
	for i := len(body) - 1; i >= 0; i-- {
		bw.write(0, 1)
		bw.write(uint16(body[i]), 8)
	}
	packed := bw.bytes()

	out := make([]byte, crilaylaHeaderSize, crilaylaHeaderSize+len(packed)+crilaylaRawPrefix)
	copy(out, magicBytesCRILAYLA)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(packed)))
	for i := len(packed) - 1; i >= 0; i-- {
		out = append(out, packed[i])
	}
	return append(out, data[:crilaylaRawPrefix]...), nil
}

// reverseBitReader reads bits most significant first from bytes consumed towards lower offsets.
type reverseBitReader struct {
	src   []byte
	pos   int
	floor int
	pool  byte
	left  uint
}

func (r *reverseBitReader) bits(n uint) (uint16, error) {
	var v uint16
	for n > 0 {
		if r.left == 0 {
			if r.pos < r.floor {
				return 0, errors.New("bit stream exhausted")
			}
			r.pool = r.src[r.pos]
			r.pos--
			r.left = 8
		}
		take := n
		if r.left < take {
			take = r.left
		}
		v = v<<take | uint16(r.pool>>(r.left-take))&(1<<take-1)
		r.left -= take
		n -= take
	}
	return v, nil
}

// bitWriter packs bits most significant first.
type bitWriter struct {
	buf  []byte
	used uint
}

func (w *bitWriter) write(v uint16, n uint) {
	for i := int(n) - 1; i >= 0; i-- {
		if w.used == 0 {
			w.buf = append(w.buf, 0)
			w.used = 8
		}
		w.used--
		if v>>uint(i)&1 == 1 {
			w.buf[len(w.buf)-1] |= 1 << w.used
		}
	}
}

func (w *bitWriter) bytes() []byte {
	return w.buf
}
