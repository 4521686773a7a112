// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
)

const (
	// offsetTar is the offset where the magic bytes are located in the file
	offsetTar = 257
)

// magicBytesTar are the magic bytes for tar files
var magicBytesTar = [][]byte{
	[]byte("ustar\x00tar\x00"),
	[]byte("ustar\x00"),
	[]byte("ustar  \x00"),
}

// IsTar checks if the stream carries one of the tar magic bytes at offset 257.
func IsTar(s io.ReaderAt) bool {
	for _, m := range magicBytesTar {
		if hasMagic(s, offsetTar, m) {
			return true
		}
	}
	return false
}

// Tar reads tar archives. Regular members are views into the archive, which is possible
// because tar stores payloads uncompressed and block aligned.
type Tar struct{}

func (Tar) Name() string { return "TAR" }

func (Tar) IsMatch(s Stream, ext string) bool {
	return IsTar(s)
}

func (p Tar) Read(s Stream) (*Archive, error) {
	if !IsTar(s) {
		return nil, mismatch(p.Name())
	}
	size, err := Size(s)
	if err != nil {
		return nil, err
	}

	cr := &countingReader{r: View(s, 0, size)}
	tr := tar.NewReader(cr)
	a := New(p.Name())
	for i := 0; ; i++ {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(p.Name(), "%v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if cr.n+hdr.Size > size {
			return nil, fmt.Errorf("%s: %w: member %s exceeds stream", p.Name(), ErrMalformedArchive, hdr.Name)
		}
		a.Root.AddPath(hdr.Name, i, View(s, cr.n, hdr.Size))
	}
	return a, nil
}

// countingReader tracks the number of bytes read from r.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
