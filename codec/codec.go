// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package codec contains the compression codecs that can peel a single
// compression layer off a stream. Every codec recognizes its input through
// [Codec.Matches], which only inspects bytes through [io.ReaderAt] and therefore
// never moves the cursor of the stream that is inspected.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrDecode is returned if a compressed stream cannot be decoded.
	ErrDecode = errors.New("decode error")

	// ErrSizeLimit is returned if the decoded output exceeds the configured maximum size.
	ErrSizeLimit = errors.New("decompressed size exceeds limit")
)

// Codec is a single compression format that can be recognized and decompressed.
type Codec interface {
	// Name returns the display name of the codec.
	Name() string

	// Extension returns the canonical file extension of the compressed format, including the dot.
	Extension() string

	// Matches reports if the stream looks like an instance of this codec. The ext is a
	// lower case file extension hint including the dot, or an empty string.
	Matches(s io.ReaderAt, ext string) bool

	// Decompress decodes src. The returned reader owns the decompressed payload.
	Decompress(src io.Reader) (*bytes.Reader, error)
}

// Compressor is implemented by codecs that can also produce their format.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
}

// peek reads up to n bytes at off. It returns nil if fewer than n bytes are available.
func peek(s io.ReaderAt, off int64, n int) []byte {
	buf := make([]byte, n)
	m, err := s.ReadAt(buf, off)
	if m < n {
		return nil
	}
	if err != nil && err != io.EOF {
		return nil
	}
	return buf
}

// hasMagic checks if the stream carries magic at offset off.
func hasMagic(s io.ReaderAt, off int64, magic []byte) bool {
	b := peek(s, off, len(magic))
	return b != nil && bytes.Equal(b, magic)
}

// hasExtension compares the hint with ext, ignoring case.
func hasExtension(hint string, ext string) bool {
	return strings.EqualFold(hint, ext)
}

// readAll reads src completely. If maxSize is not negative and more than maxSize bytes are
// available, ErrSizeLimit is returned.
func readAll(src io.Reader, maxSize int64) ([]byte, error) {
	if maxSize < 0 {
		return io.ReadAll(src)
	}
	b, err := io.ReadAll(io.LimitReader(src, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > maxSize {
		return nil, ErrSizeLimit
	}
	return b, nil
}

// decodeError wraps err as ErrDecode for the named codec.
func decodeError(name string, err error) error {
	if errors.Is(err, ErrSizeLimit) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w: %v", name, ErrDecode, err)
}

// checkSize verifies that a declared output size fits maxSize.
func checkSize(declared int64, maxSize int64) error {
	if maxSize >= 0 && declared > maxSize {
		return ErrSizeLimit
	}
	return nil
}

// checkExpansion rejects a declared output size that n input bytes cannot produce when
// every input byte expands to at most ratio output bytes.
func checkExpansion(declared int64, n int, ratio int64) error {
	if declared > int64(n)*ratio {
		return fmt.Errorf("declared size %d exceeds maximum expansion of %d input bytes", declared, n)
	}
	return nil
}

// initialCapacity bounds the output buffer allocated up front for a declared size. The
// buffer grows with the decoded output beyond that.
func initialCapacity(declared int, n int) int {
	return max(0, min(declared, n*8))
}
