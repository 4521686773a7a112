// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package codec

import (
	"bytes"
	"errors"
	"hash/adler32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// Zlib decodes RFC 1950 streams. The header is looked up at offset 0 and after a four byte
// size prefix. If neither position holds a valid header the data is inflated as raw
// deflate. The adler-32 checksum of the decompressed payload is reported by
// [Zlib.DecompressChecksum].
// reference: https://www.ietf.org/rfc/rfc1950.txt
type Zlib struct {
	maxSize  int64
	noHeader bool
}

// NewZlib creates a zlib codec limited to maxSize decompressed bytes (-1 disables the check).
func NewZlib(maxSize int64) *Zlib {
	return &Zlib{maxSize: maxSize}
}

// NewZlibHeaderless creates a codec for raw deflate streams that carry no zlib header.
func NewZlibHeaderless(maxSize int64) *Zlib {
	return &Zlib{maxSize: maxSize, noHeader: true}
}

func (c *Zlib) Name() string {
	if c.noHeader {
		return "DEFLATE"
	}
	return "ZLIB"
}

func (c *Zlib) Extension() string {
	if c.noHeader {
		return ".deflate"
	}
	return ".zlib"
}

// Matches looks for a valid zlib header at offset 0 or 4. Headerless streams carry no
// signature and are only matched by the ".deflate" extension hint.
func (c *Zlib) Matches(s io.ReaderAt, ext string) bool {
	if c.noHeader {
		return hasExtension(ext, c.Extension())
	}
	return zlibHeaderAt(s, 0) || zlibHeaderAt(s, 4)
}

func (c *Zlib) Decompress(src io.Reader) (*bytes.Reader, error) {
	out, _, err := c.DecompressChecksum(src)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(out), nil
}

// DecompressChecksum decodes src and returns the payload with its adler-32 checksum.
func (c *Zlib) DecompressChecksum(src io.Reader) ([]byte, uint32, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, 0, decodeError(c.Name(), err)
	}

	var r io.ReadCloser
	switch {
	case c.noHeader:
		r = flate.NewReader(bytes.NewReader(raw))
	case isZlibHeader(raw):
		r, err = zlib.NewReader(bytes.NewReader(raw))
	case len(raw) > 4 && isZlibHeader(raw[4:]):
		r, err = zlib.NewReader(bytes.NewReader(raw[4:]))
	default:
		r = flate.NewReader(bytes.NewReader(raw))
	}
	if err != nil {
		return nil, 0, decodeError(c.Name(), err)
	}
	defer r.Close()

	out, err := readAll(r, c.maxSize)
	if err != nil {
		return nil, 0, decodeError(c.Name(), err)
	}
	if len(out) == 0 {
		return nil, 0, decodeError(c.Name(), errors.New("empty payload"))
	}
	return out, adler32.Checksum(out), nil
}

// Compress encodes data with a zlib header, or as raw deflate for headerless codecs.
func (c *Zlib) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	if c.noHeader {
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		w = fw
	} else {
		w = zlib.NewWriter(&buf)
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zlibHeaderAt(s io.ReaderAt, off int64) bool {
	return isZlibHeader(peek(s, off, 2))
}

// isZlibHeader validates compression method, window size and the header check bits.
func isZlibHeader(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	cmf, flg := b[0], b[1]
	if cmf&0x0F != 8 || cmf>>4 > 7 {
		return false
	}
	return (uint16(cmf)<<8|uint16(flg))%31 == 0
}
