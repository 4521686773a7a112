// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-unwrap/archive"
	"github.com/hashicorp/go-unwrap/codec"
	"github.com/hashicorp/go-unwrap/texture"
)

// Format is the identifier of a built-in format.
type Format int

const (
	FormatUnknown Format = iota
	FormatTEXTOG
	FormatFPS4
	FormatRTDP
	FormatAFS
	FormatZip
	Format7z
	FormatRar
	FormatTar
	FormatGCLZ
	FormatYaz0
	FormatYaz1
	FormatCRILAYLA
	FormatZlib
	FormatGzip
	FormatZstd
	FormatLZ4
	FormatXZ
	FormatBzip2
	FormatSnappy
	FormatLZMA
	FormatBrotli
	FormatTPL
	FormatBTI
	FormatDDS
	FormatGTX
	FormatPNG
)

// builtinFormats is the identification order. Formats sharing a magic are validated in
// this order, so the stricter TEX_TOG matcher precedes FPS4.
var builtinFormats = []Format{
	FormatTEXTOG,
	FormatFPS4,
	FormatRTDP,
	FormatAFS,
	FormatZip,
	Format7z,
	FormatRar,
	FormatTar,
	FormatGCLZ,
	FormatYaz0,
	FormatYaz1,
	FormatCRILAYLA,
	FormatZlib,
	FormatGzip,
	FormatZstd,
	FormatLZ4,
	FormatXZ,
	FormatBzip2,
	FormatSnappy,
	FormatLZMA,
	FormatBrotli,
	FormatTPL,
	FormatBTI,
	FormatDDS,
	FormatGTX,
	FormatPNG,
}

var (
	magicBytesFPS4     = []byte("FPS4")
	magicBytesRTDP     = []byte("RTDP")
	magicBytesAFS      = []byte{'A', 'F', 'S', 0x00}
	magicBytesZip      = []byte{0x50, 0x4B, 0x03, 0x04}
	magicBytes7zip     = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
	magicBytesRar      = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07}
	magicBytesGCLZ     = []byte("GCLZ")
	magicBytesYaz0     = []byte("Yaz0")
	magicBytesYaz1     = []byte("Yaz1")
	magicBytesCRILAYLA = []byte("CRILAYLA")
	magicBytesTPL      = []byte{0x00, 0x20, 0xAF, 0x30}
	magicBytesDDS      = []byte("DDS ")
	magicBytesGTX      = []byte("Gfx2")
	magicBytesPNG      = []byte("\x89PNG\r\n\x1a\n")
)

// newDescriptor creates the descriptor of a built-in format.
func newDescriptor(f Format, maxSize int64) *Descriptor {
	switch f {
	case FormatTEXTOG:
		return &Descriptor{
			Name:      "TEX_TOG",
			Extension: ".tex",
			Magic:     magicBytesFPS4,
			Kind:      KindTexture,
			Format:    f,
			container: texture.ContainerTEXTOG,
			match:     isTexTOG,
		}
	case FormatFPS4:
		return archiveDescriptor(f, archive.FPS4{}, ".fps4", magicBytesFPS4)
	case FormatRTDP:
		return archiveDescriptor(f, archive.RTDP{}, ".rtdp", magicBytesRTDP)
	case FormatAFS:
		return archiveDescriptor(f, archive.AFS{}, ".afs", magicBytesAFS)
	case FormatZip:
		return archiveDescriptor(f, archive.Zip{MaxSize: maxSize}, ".zip", magicBytesZip)
	case Format7z:
		return archiveDescriptor(f, archive.SevenZip{MaxSize: maxSize}, ".7z", magicBytes7zip)
	case FormatRar:
		return archiveDescriptor(f, archive.Rar{MaxSize: maxSize}, ".rar", magicBytesRar)
	case FormatTar:
		// the tar magic is located at offset 257 and is checked by the sweep
		return archiveDescriptor(f, archive.Tar{}, ".tar", nil)
	case FormatGCLZ:
		return codecDescriptor(f, codec.NewGCLZ(maxSize), magicBytesGCLZ)
	case FormatYaz0:
		return codecDescriptor(f, codec.NewYaz0(maxSize), magicBytesYaz0)
	case FormatYaz1:
		return codecDescriptor(f, codec.NewYaz1(maxSize), magicBytesYaz1)
	case FormatCRILAYLA:
		return codecDescriptor(f, codec.NewCRILAYLA(maxSize), magicBytesCRILAYLA)
	case FormatZlib:
		// zlib streams are trusted by extension only, the decoder falls back to raw deflate
		d := codecDescriptor(f, codec.NewZlib(maxSize), nil)
		d.match = func(_ archive.Stream, ext string) bool { return ext == ".zlib" }
		return d
	case FormatGzip:
		return standardDescriptor(f, codec.NewGzip(maxSize))
	case FormatZstd:
		return standardDescriptor(f, codec.NewZstd(maxSize))
	case FormatLZ4:
		return standardDescriptor(f, codec.NewLZ4(maxSize))
	case FormatXZ:
		return standardDescriptor(f, codec.NewXZ(maxSize))
	case FormatBzip2:
		return standardDescriptor(f, codec.NewBzip2(maxSize))
	case FormatSnappy:
		return standardDescriptor(f, codec.NewSnappy(maxSize))
	case FormatLZMA:
		return standardDescriptor(f, codec.NewLZMA(maxSize))
	case FormatBrotli:
		return standardDescriptor(f, codec.NewBrotli(maxSize))
	case FormatTPL:
		return textureDescriptor(f, texture.ContainerTPL, ".tpl", magicBytesTPL)
	case FormatBTI:
		return textureDescriptor(f, texture.ContainerBTI, ".bti", nil)
	case FormatDDS:
		return textureDescriptor(f, texture.ContainerDDS, ".dds", magicBytesDDS)
	case FormatGTX:
		return textureDescriptor(f, texture.ContainerGTX, ".gtx", magicBytesGTX)
	case FormatPNG:
		return textureDescriptor(f, texture.ContainerPNG, ".png", magicBytesPNG)
	case FormatUnknown:
	}
	panic(fmt.Sprintf("unwrap: no descriptor for format %d", f))
}

func archiveDescriptor(f Format, p archive.Parser, ext string, magic []byte) *Descriptor {
	return &Descriptor{
		Name:      p.Name(),
		Extension: ext,
		Magic:     magic,
		Kind:      KindArchive,
		Format:    f,
		parser:    p,
		match:     p.IsMatch,
	}
}

func codecDescriptor(f Format, c codec.Codec, magic []byte) *Descriptor {
	return &Descriptor{
		Name:      c.Name(),
		Extension: c.Extension(),
		Magic:     magic,
		Kind:      KindCodec,
		Format:    f,
		codec:     c,
		match:     func(s archive.Stream, ext string) bool { return c.Matches(s, ext) },
	}
}

func standardDescriptor(f Format, c *codec.Standard) *Descriptor {
	return codecDescriptor(f, c, c.Magic())
}

func textureDescriptor(f Format, c texture.Container, ext string, magic []byte) *Descriptor {
	d := &Descriptor{
		Name:      c.String(),
		Extension: ext,
		Magic:     magic,
		Kind:      KindTexture,
		Format:    f,
		container: c,
	}
	if magic == nil {
		d.match = func(_ archive.Stream, hint string) bool { return hint == ext }
	} else {
		d.match = func(s archive.Stream, _ string) bool { return hasMagic(s, magic) }
	}
	return d
}

// isTexTOG matches texture containers that share the FPS4 layout. They carry a .tex
// extension and exactly two entries, the header and the pixel data.
func isTexTOG(s archive.Stream, ext string) bool {
	if !strings.HasPrefix(ext, ".tex") || !hasMagic(s, magicBytesFPS4) {
		return false
	}
	table, err := archive.ReadFPS4Table(s)
	return err == nil && len(table.Entries) == 2
}

// hasMagic checks the leading bytes of s.
func hasMagic(s archive.Stream, magic []byte) bool {
	return string(readHeader(s, len(magic))) == string(magic)
}

var formatNames = map[Format]string{
	FormatUnknown:  "unknown",
	FormatTEXTOG:   "TEX_TOG",
	FormatFPS4:     "FPS4",
	FormatRTDP:     "RTDP",
	FormatAFS:      "AFS",
	FormatZip:      "ZIP",
	Format7z:       "7Z",
	FormatRar:      "RAR",
	FormatTar:      "TAR",
	FormatGCLZ:     "GCLZ",
	FormatYaz0:     "YAZ0",
	FormatYaz1:     "YAZ1",
	FormatCRILAYLA: "CRILAYLA",
	FormatZlib:     "ZLIB",
	FormatGzip:     "GZIP",
	FormatZstd:     "ZSTD",
	FormatLZ4:      "LZ4",
	FormatXZ:       "XZ",
	FormatBzip2:    "BZIP2",
	FormatSnappy:   "SNAPPY",
	FormatLZMA:     "LZMA",
	FormatBrotli:   "BROTLI",
	FormatTPL:      "TPL",
	FormatBTI:      "BTI",
	FormatDDS:      "DDS",
	FormatGTX:      "GTX",
	FormatPNG:      "PNG",
}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return "unknown"
}
