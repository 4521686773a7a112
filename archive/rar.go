// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"errors"
	"io"

	"github.com/nwaples/rardecode"
)

// magicBytesRar is the common prefix of the Rar 1.5 and Rar 5.0 signatures.
var magicBytesRar = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07}

// Rar reads rar archives. Members are decompressed into memory, each up to MaxSize bytes.
type Rar struct {
	// MaxSize limits the size of a single member. -1 disables the check.
	MaxSize int64
}

func (Rar) Name() string { return "RAR" }

func (Rar) IsMatch(s Stream, ext string) bool {
	return hasMagic(s, 0, magicBytesRar)
}

func (p Rar) Read(s Stream) (*Archive, error) {
	if !hasMagic(s, 0, magicBytesRar) {
		return nil, mismatch(p.Name())
	}
	size, err := Size(s)
	if err != nil {
		return nil, err
	}
	rr, err := rardecode.NewReader(View(s, 0, size), "")
	if err != nil {
		return nil, malformed(p.Name(), "%v", err)
	}

	a := New(p.Name())
	for i := 0; ; i++ {
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(p.Name(), "%v", err)
		}
		// links and directories carry no payload
		if hdr.IsDir || !hdr.Mode().IsRegular() {
			continue
		}
		data, err := materialize(rr, p.MaxSize)
		if err != nil {
			a.skip(hdr.Name, err)
			continue
		}
		a.Root.AddPath(hdr.Name, i, data)
	}
	return a, nil
}
