// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package codec

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Standard is a general purpose compression format that is handled by a library decoder.
// Game data sometimes ships these streams unchanged inside vendor containers.
type Standard struct {
	name      string
	ext       string
	magic     []byte
	extOnly   bool
	check     func(header []byte) bool
	newReader func(io.Reader) (io.ReadCloser, error)
	newWriter func(io.Writer) (io.WriteCloser, error)
	maxSize   int64
}

func (c *Standard) Name() string      { return c.name }
func (c *Standard) Extension() string { return c.ext }

// Magic returns the identifying bytes at offset 0, or nil for formats without a magic.
func (c *Standard) Magic() []byte { return c.magic }

// Matches checks the magic bytes. Formats without magic bytes only match their extension.
func (c *Standard) Matches(s io.ReaderAt, ext string) bool {
	if c.extOnly && !hasExtension(ext, c.ext) {
		return false
	}
	if len(c.magic) > 0 && !hasMagic(s, 0, c.magic) {
		return false
	}
	if c.check != nil {
		return c.check(peek(s, 0, 16))
	}
	return true
}

func (c *Standard) Decompress(src io.Reader) (*bytes.Reader, error) {
	r, err := c.newReader(src)
	if err != nil {
		return nil, decodeError(c.name, err)
	}
	defer r.Close()
	out, err := readAll(r, c.maxSize)
	if err != nil {
		return nil, decodeError(c.name, err)
	}
	return bytes.NewReader(out), nil
}

func (c *Standard) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.newWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NewGzip creates a gzip codec.
// reference: https://www.rfc-editor.org/rfc/rfc1952.html
func NewGzip(maxSize int64) *Standard {
	return &Standard{
		name:  "GZIP",
		ext:   ".gz",
		magic: []byte{0x1f, 0x8b},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriter(w), nil
		},
		maxSize: maxSize,
	}
}

// NewZstd creates a zstandard codec.
// reference: https://www.rfc-editor.org/rfc/rfc8878.html
func NewZstd(maxSize int64) *Standard {
	return &Standard{
		name:  "ZSTD",
		ext:   ".zst",
		magic: []byte{0x28, 0xb5, 0x2f, 0xfd},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		},
		maxSize: maxSize,
	}
}

// NewLZ4 creates an lz4 frame codec.
// reference: https://github.com/lz4/lz4/blob/dev/doc/lz4_Frame_format.md
func NewLZ4(maxSize int64) *Standard {
	return &Standard{
		name:  "LZ4",
		ext:   ".lz4",
		magic: []byte{0x04, 0x22, 0x4d, 0x18},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(lz4.NewReader(r)), nil
		},
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return lz4.NewWriter(w), nil
		},
		maxSize: maxSize,
	}
}

// NewXZ creates an xz codec.
// reference: https://tukaani.org/xz/xz-file-format.txt
func NewXZ(maxSize int64) *Standard {
	return &Standard{
		name:  "XZ",
		ext:   ".xz",
		magic: []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(xr), nil
		},
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return xz.NewWriter(w)
		},
		maxSize: maxSize,
	}
}

// NewLZMA creates a codec for the classic .lzma format. It has no magic bytes, so the
// extension hint and the default properties byte are required.
func NewLZMA(maxSize int64) *Standard {
	return &Standard{
		name:    "LZMA",
		ext:     ".lzma",
		extOnly: true,
		check: func(header []byte) bool {
			return len(header) >= 13 && header[0] == 0x5d
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			lr, err := lzma.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(lr), nil
		},
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return lzma.NewWriter(w)
		},
		maxSize: maxSize,
	}
}

// NewBzip2 creates a bzip2 codec.
// reference: https://github.com/dsnet/compress/blob/master/doc/bzip2-format.pdf
func NewBzip2(maxSize int64) *Standard {
	return &Standard{
		name:  "BZIP2",
		ext:   ".bz2",
		magic: []byte{0x42, 0x5a, 0x68},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return bzip2.NewReader(r, nil)
		},
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		},
		maxSize: maxSize,
	}
}

// NewSnappy creates a codec for the snappy framing format.
// reference: https://github.com/google/snappy/blob/main/framing_format.txt
func NewSnappy(maxSize int64) *Standard {
	return &Standard{
		name:  "SNAPPY",
		ext:   ".sz",
		magic: []byte{0xff, 0x06, 0x00, 0x00, 0x73, 0x4e, 0x61, 0x50, 0x70, 0x59},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(snappy.NewReader(r)), nil
		},
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return snappy.NewBufferedWriter(w), nil
		},
		maxSize: maxSize,
	}
}

// NewBrotli creates a brotli codec. Brotli streams have no magic bytes and are only
// recognized by extension.
func NewBrotli(maxSize int64) *Standard {
	return &Standard{
		name:    "BROTLI",
		ext:     ".br",
		extOnly: true,
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(brotli.NewReader(r)), nil
		},
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return brotli.NewWriter(w), nil
		},
		maxSize: maxSize,
	}
}
