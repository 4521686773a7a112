// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// magicBytesFPS4 is the identifier of an FPS4 file table.
var magicBytesFPS4 = []byte("FPS4")

const (
	fps4HeaderLength  = 0x1C
	fps4MaxHeaderSize = 0xFFFF
	fps4Sentinel      = 0xFFFFFFFF
	fps4NameLength    = 0x20
	fps4TypeLength    = 0x04
	fps4MetaLimit     = 0x400
)

// FPS4 content bitmask flags. Each set flag adds one field to every entry record, in
// the order of the flags.
const (
	FPS4HasLocation   uint16 = 0x0001
	FPS4HasSectorSize uint16 = 0x0002
	FPS4HasFileSize   uint16 = 0x0004
	FPS4HasName       uint16 = 0x0008
	FPS4HasType       uint16 = 0x0020
	FPS4HasMetadata   uint16 = 0x0040
	FPS4HasUnknown80  uint16 = 0x0080
	FPS4HasUnknown100 uint16 = 0x0100
)

// FPS4Header is the fixed header of an FPS4 file table.
type FPS4Header struct {
	Order       binary.ByteOrder
	FileCount   uint32
	HeaderSize  uint32
	FirstFile   uint32
	EntrySize   uint16
	Content     uint16
	Unknown     uint32
	NameOffset  uint32
	ArchiveName string
}

// FPS4Entry is one record of the file table.
type FPS4Entry struct {
	Index      int
	Location   uint32
	SectorSize uint32
	FileSize   uint32
	Name       string
	Type       string
	Metadata   []Attribute
	Unknown80  uint32
	Unknown100 uint32
}

// FPS4Region is a resolved payload of the table.
type FPS4Region struct {
	Entry  FPS4Entry
	Offset int64
	Size   int64
}

// FPS4Table is a decoded FPS4 header with all entries and the payload regions that
// could be resolved from them.
type FPS4Table struct {
	Header  FPS4Header
	Entries []FPS4Entry
	Regions []FPS4Region
}

// FPS4 reads the indexed file table used by Tales of and other Namco titles.
type FPS4 struct{}

func (FPS4) Name() string { return "FPS4" }

// IsMatch checks the identifier. Files with a .tex extension are texture containers
// that share the identifier and are rejected.
func (FPS4) IsMatch(s Stream, ext string) bool {
	if strings.HasPrefix(strings.ToLower(ext), ".tex") {
		return false
	}
	return hasMagic(s, 0, magicBytesFPS4)
}

func (p FPS4) Read(s Stream) (*Archive, error) {
	if !hasMagic(s, 0, magicBytesFPS4) {
		return nil, mismatch(p.Name())
	}
	table, err := ReadFPS4Table(s)
	if err != nil {
		return nil, err
	}

	a := New(p.Name())
	for _, r := range table.Regions {
		f := a.Root.AddFile(r.Entry.fileName(), r.Entry.Index, View(s, r.Offset, r.Size))
		f.Metadata = r.Entry.Metadata
	}
	return a, nil
}

// fileName returns the stored name, or a name derived from the index. The type tag is
// used as extension if the name has none.
func (e FPS4Entry) fileName() string {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = fmt.Sprintf("%08d", e.Index)
	}
	if t := strings.ToLower(strings.TrimSpace(e.Type)); t != "" && !strings.Contains(name, ".") {
		name += "." + t
	}
	return name
}

// skip reports if the entry is marked as unused.
func (e FPS4Entry) skip(content uint16) bool {
	if content&FPS4HasLocation != 0 && e.Location == fps4Sentinel {
		return true
	}
	return content&FPS4HasUnknown80 != 0 && e.Unknown80 > 0
}

// ReadFPS4Table decodes the header and the entry table of s and resolves the payload regions.
func ReadFPS4Table(s Stream) (*FPS4Table, error) {
	size, err := Size(s)
	if err != nil {
		return nil, fmt.Errorf("FPS4: cannot determine size: %w", err)
	}
	hdr, err := readFPS4Header(s)
	if err != nil {
		return nil, err
	}
	if hdr.Content&FPS4HasLocation == 0 {
		return nil, malformed("FPS4", "entries carry no start offsets")
	}
	if hdr.FileCount == 0 {
		return &FPS4Table{Header: hdr}, nil
	}
	if hdr.EntrySize == 0 || int64(hdr.HeaderSize)+int64(hdr.FileCount)*int64(hdr.EntrySize) > size {
		return nil, malformed("FPS4", "entry table of %d entries exceeds stream", hdr.FileCount)
	}

	table := &FPS4Table{Header: hdr, Entries: make([]FPS4Entry, 0, hdr.FileCount)}
	record := make([]byte, hdr.EntrySize)
	for i := 0; i < int(hdr.FileCount); i++ {
		off := int64(hdr.HeaderSize) + int64(i)*int64(hdr.EntrySize)
		if err := readAt(s, record, off); err != nil {
			return nil, malformed("FPS4", "cannot read entry %d: %v", i, err)
		}
		e, err := decodeFPS4Entry(s, record, i, hdr)
		if err != nil {
			return nil, err
		}
		table.Entries = append(table.Entries, e)
	}

	table.Regions, err = resolveFPS4Regions(table.Entries, hdr.Content, size)
	if err != nil {
		return nil, err
	}
	return table, nil
}

func readFPS4Header(s Stream) (FPS4Header, error) {
	buf := make([]byte, fps4HeaderLength)
	if err := readAt(s, buf, 0); err != nil {
		return FPS4Header{}, malformed("FPS4", "truncated header")
	}

	var order binary.ByteOrder = binary.BigEndian
	if order.Uint32(buf[0x08:]) > fps4MaxHeaderSize {
		order = binary.LittleEndian
	}
	hdr := FPS4Header{
		Order:      order,
		FileCount:  order.Uint32(buf[0x04:]),
		HeaderSize: order.Uint32(buf[0x08:]),
		FirstFile:  order.Uint32(buf[0x0C:]),
		EntrySize:  order.Uint16(buf[0x10:]),
		Content:    order.Uint16(buf[0x12:]),
		Unknown:    order.Uint32(buf[0x14:]),
		NameOffset: order.Uint32(buf[0x18:]),
	}
	if hdr.HeaderSize > fps4MaxHeaderSize {
		return FPS4Header{}, malformed("FPS4", "implausible header size 0x%X", hdr.HeaderSize)
	}
	if hdr.NameOffset != 0 {
		hdr.ArchiveName = readCString(s, int64(hdr.NameOffset), fps4NameLength*8)
	}
	return hdr, nil
}

func decodeFPS4Entry(s Stream, record []byte, index int, hdr FPS4Header) (FPS4Entry, error) {
	e := FPS4Entry{Index: index}
	pos := 0
	next := func(n int) ([]byte, error) {
		if pos+n > len(record) {
			return nil, malformed("FPS4", "entry %d is shorter than its content mask", index)
		}
		b := record[pos : pos+n]
		pos += n
		return b, nil
	}

	fields := []struct {
		flag uint16
		size int
		set  func(b []byte)
	}{
		{FPS4HasLocation, 4, func(b []byte) { e.Location = hdr.Order.Uint32(b) }},
		{FPS4HasSectorSize, 4, func(b []byte) { e.SectorSize = hdr.Order.Uint32(b) }},
		{FPS4HasFileSize, 4, func(b []byte) { e.FileSize = hdr.Order.Uint32(b) }},
		{FPS4HasName, fps4NameLength, func(b []byte) { e.Name = cString(b) }},
		{FPS4HasType, fps4TypeLength, func(b []byte) { e.Type = cString(b) }},
		{FPS4HasMetadata, 4, func(b []byte) {
			if ptr := hdr.Order.Uint32(b); ptr != 0 {
				e.Metadata = parseFPS4Metadata(readCString(s, int64(ptr), fps4MetaLimit))
			}
		}},
		// the vendor fields are big endian regardless of the table order
		{FPS4HasUnknown80, 4, func(b []byte) { e.Unknown80 = binary.BigEndian.Uint32(b) }},
		{FPS4HasUnknown100, 4, func(b []byte) { e.Unknown100 = binary.BigEndian.Uint32(b) }},
	}
	for _, f := range fields {
		if hdr.Content&f.flag == 0 {
			continue
		}
		b, err := next(f.size)
		if err != nil {
			return e, err
		}
		f.set(b)
	}
	return e, nil
}

func parseFPS4Metadata(md string) []Attribute {
	var attrs []Attribute
	for _, token := range strings.Fields(md) {
		if k, v, ok := strings.Cut(token, "="); ok {
			attrs = append(attrs, Attribute{Key: k, Value: v})
			continue
		}
		attrs = append(attrs, Attribute{Value: token})
	}
	return attrs
}

// resolveFPS4Regions applies the size priority: exact size, sector size, and for tables
// without size fields the distance to the next used entry if the offsets increase.
func resolveFPS4Regions(entries []FPS4Entry, content uint16, streamSize int64) ([]FPS4Region, error) {
	hasSizes := content&(FPS4HasFileSize|FPS4HasSectorSize) != 0
	linear := !hasSizes && fps4IsLinear(entries, content)

	var regions []FPS4Region
	for i, e := range entries {
		if e.skip(content) {
			continue
		}

		var size int64
		switch {
		case content&FPS4HasFileSize != 0:
			size = int64(e.FileSize)
		case content&FPS4HasSectorSize != 0:
			size = int64(e.SectorSize)
		case linear:
			size = streamSize - int64(e.Location)
			for _, n := range entries[i+1:] {
				if !n.skip(content) {
					size = int64(n.Location) - int64(e.Location)
					break
				}
			}
		default:
			return nil, malformed("FPS4", "entry %d carries no size information", e.Index)
		}

		if size <= 0 {
			continue
		}
		off := int64(e.Location)
		if off >= streamSize {
			continue
		}
		if off+size > streamSize {
			size = streamSize - off
		}
		regions = append(regions, FPS4Region{Entry: e, Offset: off, Size: size})
	}
	return regions, nil
}

// fps4IsLinear reports if the used entries have strictly increasing offsets.
func fps4IsLinear(entries []FPS4Entry, content uint16) bool {
	if content&FPS4HasLocation == 0 {
		return false
	}
	first := true
	var last uint32
	for _, e := range entries {
		if e.skip(content) {
			continue
		}
		if !first && e.Location <= last {
			return false
		}
		first = false
		last = e.Location
	}
	return true
}
