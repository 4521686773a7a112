// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package texture describes recovered texture payloads for the pixel decode stage.
//
// Decoding pixels is not done here. Terminal texture payloads are handed to a [Handler]
// together with the container type and the pixel format found in the container header.
package texture

import (
	"context"
	"encoding/binary"
	"io"
)

// Container is a texture file format.
type Container int

const (
	ContainerUnknown Container = iota
	ContainerTPL
	ContainerBTI
	ContainerTEXTOG
	ContainerDDS
	ContainerGTX
	ContainerPNG
)

var containerNames = map[Container]string{
	ContainerUnknown: "unknown",
	ContainerTPL:     "TPL",
	ContainerBTI:     "BTI",
	ContainerTEXTOG:  "TEX_TOG",
	ContainerDDS:     "DDS",
	ContainerGTX:     "GTX",
	ContainerPNG:     "PNG",
}

func (c Container) String() string {
	if n, ok := containerNames[c]; ok {
		return n
	}
	return "unknown"
}

// PixelFormat is the encoding of the pixel data.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatI4
	FormatI8
	FormatIA4
	FormatIA8
	FormatRGB565
	FormatRGB5A3
	FormatRGBA32
	FormatC4
	FormatC8
	FormatC14X2
	FormatCMPR
	FormatDXT1
	FormatDXT3
	FormatDXT5
	FormatRGBA8
)

var formatNames = [...]string{
	"unknown", "I4", "I8", "IA4", "IA8", "RGB565", "RGB5A3", "RGBA32",
	"C4", "C8", "C14X2", "CMPR", "DXT1", "DXT3", "DXT5", "RGBA8",
}

func (f PixelFormat) String() string {
	if int(f) < 0 || int(f) >= len(formatNames) {
		return "unknown"
	}
	return formatNames[f]
}

// gxFormats maps the GameCube and Wii image format ids.
var gxFormats = map[uint32]PixelFormat{
	0x0: FormatI4,
	0x1: FormatI8,
	0x2: FormatIA4,
	0x3: FormatIA8,
	0x4: FormatRGB565,
	0x5: FormatRGB5A3,
	0x6: FormatRGBA32,
	0x8: FormatC4,
	0x9: FormatC8,
	0xA: FormatC14X2,
	0xE: FormatCMPR,
}

// Entry is a texture payload that waits for pixel decoding.
type Entry struct {
	// Path is the output path of the payload, relative to the destination.
	Path string

	Container Container
	Format    PixelFormat
	Width     int
	Height    int
	Mipmaps   int

	// Data is the payload. It is only valid while the handler runs.
	Data io.ReaderAt
	Size int64
}

// Handler consumes texture entries. It is called concurrently.
type Handler func(ctx context.Context, e *Entry) error

// Describe fills the pixel format and dimensions of an entry from the container header.
// Fields that cannot be determined are left zero.
func Describe(c Container, s io.ReaderAt, size int64) *Entry {
	e := &Entry{Container: c, Data: s, Size: size}
	switch c {
	case ContainerBTI:
		describeBTI(e, s)
	case ContainerTPL:
		describeTPL(e, s)
	case ContainerDDS:
		describeDDS(e, s)
	case ContainerPNG:
		describePNG(e, s)
	case ContainerTEXTOG, ContainerGTX, ContainerUnknown:
	}
	return e
}

func read(s io.ReaderAt, off int64, n int) []byte {
	b := make([]byte, n)
	if m, _ := s.ReadAt(b, off); m < n {
		return nil
	}
	return b
}

// describeBTI reads the 0x20 byte BTI header: format, alpha, width and height as big
// endian uint16 and the mipmap count at 0x18.
func describeBTI(e *Entry, s io.ReaderAt) {
	h := read(s, 0, 0x20)
	if h == nil {
		return
	}
	e.Format = gxFormats[uint32(h[0])]
	e.Width = int(binary.BigEndian.Uint16(h[2:]))
	e.Height = int(binary.BigEndian.Uint16(h[4:]))
	e.Mipmaps = int(h[0x18])
}

// describeTPL reads the first image header of the TPL image table.
func describeTPL(e *Entry, s io.ReaderAt) {
	h := read(s, 0, 0x0C)
	if h == nil || binary.BigEndian.Uint32(h[4:]) == 0 {
		return
	}
	table := read(s, int64(binary.BigEndian.Uint32(h[8:])), 8)
	if table == nil {
		return
	}
	img := read(s, int64(binary.BigEndian.Uint32(table)), 0x24)
	if img == nil {
		return
	}
	e.Height = int(binary.BigEndian.Uint16(img[0:]))
	e.Width = int(binary.BigEndian.Uint16(img[2:]))
	e.Format = gxFormats[binary.BigEndian.Uint32(img[4:])]
	e.Mipmaps = int(img[0x1B]) - int(img[0x1A]) + 1
}

// describeDDS reads the DDS_HEADER that follows the magic.
func describeDDS(e *Entry, s io.ReaderAt) {
	h := read(s, 0, 0x80)
	if h == nil {
		return
	}
	e.Height = int(binary.LittleEndian.Uint32(h[12:]))
	e.Width = int(binary.LittleEndian.Uint32(h[16:]))
	e.Mipmaps = int(binary.LittleEndian.Uint32(h[28:]))
	switch string(h[84:88]) {
	case "DXT1":
		e.Format = FormatDXT1
	case "DXT3":
		e.Format = FormatDXT3
	case "DXT5":
		e.Format = FormatDXT5
	default:
		e.Format = FormatRGBA8
	}
}

// describePNG reads the IHDR chunk.
func describePNG(e *Entry, s io.ReaderAt) {
	h := read(s, 0, 24)
	if h == nil {
		return
	}
	e.Width = int(binary.BigEndian.Uint32(h[16:]))
	e.Height = int(binary.BigEndian.Uint32(h[20:]))
	e.Format = FormatRGBA8
	e.Mipmaps = 1
}
