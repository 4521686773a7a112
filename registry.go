// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-unwrap/archive"
	"github.com/hashicorp/go-unwrap/codec"
	"github.com/hashicorp/go-unwrap/texture"
)

// Kind is the processing class of a format.
type Kind int

const (
	// KindUnknown marks payloads without a known structure.
	KindUnknown Kind = iota

	// KindArchive marks containers that are parsed into an archive tree.
	KindArchive

	// KindCodec marks compression layers.
	KindCodec

	// KindTexture marks terminal texture payloads.
	KindTexture
)

func (k Kind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindCodec:
		return "codec"
	case KindTexture:
		return "texture"
	default:
		return "unknown"
	}
}

// shapeLength is the number of leading bytes that key an unknown payload shape.
const shapeLength = 8

// Descriptor describes one known or learned format. Descriptors are immutable after
// construction and safe for concurrent use.
type Descriptor struct {
	// Name is the display name of the format.
	Name string

	// Extension is the canonical file extension including the dot. Unknown descriptors
	// carry the extension hint they were learned from.
	Extension string

	// Magic is the identifying byte sequence at offset 0, nil if the format has none.
	Magic []byte

	Kind   Kind
	Format Format

	match     func(s archive.Stream, ext string) bool
	parser    archive.Parser
	codec     codec.Codec
	container texture.Container
}

// Matches reports if s is an instance of the format. The cursor of s is not moved.
func (d *Descriptor) Matches(s archive.Stream, ext string) bool {
	return d.match(s, ext)
}

// Parser returns the archive parser of archive descriptors.
func (d *Descriptor) Parser() archive.Parser { return d.parser }

// Codec returns the codec of codec descriptors.
func (d *Descriptor) Codec() codec.Codec { return d.codec }

// Container returns the texture container of texture descriptors.
func (d *Descriptor) Container() texture.Container { return d.container }

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.Name, d.Kind)
}

// Registry identifies formats. The built-in table is immutable; formats found by the
// sweep over magic-less matchers and unknown payload shapes are appended to a learned
// set, so that repeated inputs of the same shape are resolved by a short lookup.
//
// A Registry lives as long as the run that created it.
type Registry struct {
	builtin []*Descriptor
	byMagic map[string][]*Descriptor
	lengths []int
	sweep   []*Descriptor
	codecs  []codec.Codec

	mu      sync.Mutex
	learned []*Descriptor
}

// NewRegistry creates a registry with the built-in formats. maxSize limits the output of
// a single decompression (-1 disables the check).
func NewRegistry(maxSize int64) *Registry {
	r := &Registry{byMagic: map[string][]*Descriptor{}}
	seen := map[int]bool{}
	for _, f := range builtinFormats {
		d := newDescriptor(f, maxSize)
		r.builtin = append(r.builtin, d)
		if len(d.Magic) == 0 {
			r.sweep = append(r.sweep, d)
			continue
		}
		r.byMagic[string(d.Magic)] = append(r.byMagic[string(d.Magic)], d)
		if !seen[len(d.Magic)] {
			seen[len(d.Magic)] = true
			r.lengths = append(r.lengths, len(d.Magic))
		}
	}
	// longest magic first
	sort.Sort(sort.Reverse(sort.IntSlice(r.lengths)))

	for _, d := range r.builtin {
		if d.codec != nil {
			r.codecs = append(r.codecs, d.codec)
		}
	}
	// raw deflate and raw LZ10 have no descriptor, neither carries a usable signature
	r.codecs = append(r.codecs, codec.NewZlibHeaderless(maxSize), codec.NewLZ10(maxSize))
	return r
}

// Identify returns the descriptor of s. It first looks up the magic at offset 0, then
// checks the learned set and finally sweeps the magic-less built-in matchers. If nothing
// matches, an unknown descriptor keyed by the extension hint and the leading bytes is
// learned. Identify never returns nil and never moves the cursor of s.
func (r *Registry) Identify(s archive.Stream, ext string) *Descriptor {
	ext = strings.ToLower(ext)
	header := readHeader(s, r.lengths[0])

	// (1) magic lookup
	for _, n := range r.lengths {
		if len(header) < n {
			continue
		}
		for _, d := range r.byMagic[string(header[:n])] {
			if d.Matches(s, ext) {
				return d
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// (2) learned set
	for _, d := range r.learned {
		if d.Matches(s, ext) {
			return d
		}
	}

	// (3) sweep
	for _, d := range r.sweep {
		if d.Matches(s, ext) {
			r.learned = append(r.learned, d)
			return d
		}
	}

	d := unknownDescriptor(ext, readHeader(s, shapeLength))
	r.learned = append(r.learned, d)
	return d
}

// Codecs returns all codecs for generic decompression, including codecs that cannot be
// identified reliably enough to own a descriptor.
func (r *Registry) Codecs() []codec.Codec {
	return r.codecs
}

// Builtin returns the built-in descriptors in table order.
func (r *Registry) Builtin() []*Descriptor {
	return r.builtin
}

// Learned returns a snapshot of the learned set in insertion order.
func (r *Registry) Learned() []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Descriptor, len(r.learned))
	copy(out, r.learned)
	return out
}

// unknownDescriptor creates the descriptor of an unknown payload shape. Tar archives carry
// their magic outside the shape and are excluded explicitly.
func unknownDescriptor(ext string, header []byte) *Descriptor {
	shape := bytes.Clone(header)
	return &Descriptor{
		Name:      "unknown",
		Extension: ext,
		Kind:      KindUnknown,
		Format:    FormatUnknown,
		match: func(s archive.Stream, hint string) bool {
			return hint == ext && bytes.Equal(readHeader(s, shapeLength), shape) && !archive.IsTar(s)
		},
	}
}

// readHeader reads up to n bytes at offset 0 without moving the cursor.
func readHeader(s io.ReaderAt, n int) []byte {
	buf := make([]byte, n)
	m, _ := s.ReadAt(buf, 0)
	return buf[:m]
}
