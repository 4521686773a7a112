// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package texture_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/hashicorp/go-unwrap/texture"
)

func TestDescribe(t *testing.T) {
	bti := make([]byte, 0x40)
	bti[0] = 0x0E
	binary.BigEndian.PutUint16(bti[2:], 128)
	binary.BigEndian.PutUint16(bti[4:], 64)
	bti[0x18] = 3

	tpl := make([]byte, 0x60)
	copy(tpl, []byte{0x00, 0x20, 0xAF, 0x30})
	binary.BigEndian.PutUint32(tpl[4:], 1)
	binary.BigEndian.PutUint32(tpl[8:], 0x0C)
	binary.BigEndian.PutUint32(tpl[0x0C:], 0x20)
	binary.BigEndian.PutUint16(tpl[0x20:], 32)
	binary.BigEndian.PutUint16(tpl[0x22:], 16)
	binary.BigEndian.PutUint32(tpl[0x24:], 0x5)

	dds := make([]byte, 0x80)
	copy(dds, "DDS ")
	binary.LittleEndian.PutUint32(dds[12:], 256)
	binary.LittleEndian.PutUint32(dds[16:], 512)
	binary.LittleEndian.PutUint32(dds[28:], 9)
	copy(dds[84:], "DXT5")

	png := make([]byte, 32)
	copy(png, "\x89PNG\r\n\x1a\n")
	binary.BigEndian.PutUint32(png[16:], 20)
	binary.BigEndian.PutUint32(png[20:], 10)

	tests := []struct {
		name      string
		container texture.Container
		input     []byte
		want      texture.Entry
	}{
		{"bti", texture.ContainerBTI, bti, texture.Entry{Format: texture.FormatCMPR, Width: 128, Height: 64, Mipmaps: 3}},
		{"tpl", texture.ContainerTPL, tpl, texture.Entry{Format: texture.FormatRGB5A3, Width: 16, Height: 32, Mipmaps: 1}},
		{"dds", texture.ContainerDDS, dds, texture.Entry{Format: texture.FormatDXT5, Width: 512, Height: 256, Mipmaps: 9}},
		{"png", texture.ContainerPNG, png, texture.Entry{Format: texture.FormatRGBA8, Width: 20, Height: 10, Mipmaps: 1}},
		{"truncated bti", texture.ContainerBTI, bti[:4], texture.Entry{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := texture.Describe(tt.container, bytes.NewReader(tt.input), int64(len(tt.input)))
			if got.Container != tt.container {
				t.Errorf("Container = %v, want %v", got.Container, tt.container)
			}
			if got.Format != tt.want.Format || got.Width != tt.want.Width || got.Height != tt.want.Height || got.Mipmaps != tt.want.Mipmaps {
				t.Errorf("Describe() = %v %dx%d (%d), want %v %dx%d (%d)",
					got.Format, got.Width, got.Height, got.Mipmaps,
					tt.want.Format, tt.want.Width, tt.want.Height, tt.want.Mipmaps)
			}
		})
	}
}

func TestStrings(t *testing.T) {
	if texture.ContainerTEXTOG.String() != "TEX_TOG" {
		t.Errorf("ContainerTEXTOG = %q", texture.ContainerTEXTOG.String())
	}
	if texture.FormatCMPR.String() != "CMPR" {
		t.Errorf("FormatCMPR = %q", texture.FormatCMPR.String())
	}
	if texture.PixelFormat(99).String() != "unknown" {
		t.Errorf("PixelFormat(99) = %q", texture.PixelFormat(99).String())
	}
}
