// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package archive

import "io"

// xorView is a bounded stream whose bytes are XORed with a single byte key while they are read.
type xorView struct {
	sr  *io.SectionReader
	key byte
}

func newXorView(s io.ReaderAt, off int64, n int64, key byte) *xorView {
	return &xorView{sr: io.NewSectionReader(s, off, n), key: key}
}

func (x *xorView) Read(p []byte) (int, error) {
	n, err := x.sr.Read(p)
	x.apply(p[:n])
	return n, err
}

func (x *xorView) ReadAt(p []byte, off int64) (int, error) {
	n, err := x.sr.ReadAt(p, off)
	x.apply(p[:n])
	return n, err
}

func (x *xorView) Seek(offset int64, whence int) (int64, error) {
	return x.sr.Seek(offset, whence)
}

// Size returns the length of the view.
func (x *xorView) Size() int64 {
	return x.sr.Size()
}

func (x *xorView) apply(p []byte) {
	for i := range p {
		p[i] ^= x.key
	}
}
