// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-unwrap/archive"
)

// ErrCarvingExhausted is returned if carving is skipped for a format after too many
// consecutive failures.
var ErrCarvingExhausted = errors.New("carving exhausted")

// carveChunkSize is the read size of the carving scan.
const carveChunkSize = 1 << 16

// signature is an archive magic that is searched by the carver.
type signature struct {
	magic []byte
	desc  *Descriptor
}

// carver recovers embedded archives from payloads that could not be identified. It keeps
// a count of consecutive failures per origin format and stops carving a format once the
// threshold is reached, until a successful carve resets the count.
type carver struct {
	threshold  int
	signatures []signature
	maxMagic   int

	// scans counts the performed scans
	scans atomic.Int64

	mu       sync.Mutex
	failures map[*Descriptor]int
}

// newCarver creates a carver for all archive descriptors of r with a magic of at least
// four bytes.
func newCarver(r *Registry, threshold int) *carver {
	c := &carver{threshold: threshold, failures: map[*Descriptor]int{}}
	for _, d := range r.Builtin() {
		if d.Kind != KindArchive || len(d.Magic) < 4 {
			continue
		}
		c.signatures = append(c.signatures, signature{magic: d.Magic, desc: d})
		c.maxMagic = max(c.maxMagic, len(d.Magic))
	}
	return c
}

// exhausted reports if carving is skipped for origin.
func (c *carver) exhausted(origin *Descriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[origin] >= c.threshold
}

// record updates the failure count of origin.
func (c *carver) record(origin *Descriptor, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		delete(c.failures, origin)
		return
	}
	c.failures[origin]++
}

// carve scans s for embedded archives and returns a synthetic archive with one file per
// validated region, ordered by offset. A region runs up to the next validated hit or the
// end of the stream. If nothing is found, nil is returned and the failure is counted
// for origin.
func (c *carver) carve(ctx context.Context, s archive.Stream, origin *Descriptor) (*archive.Archive, error) {
	if c.exhausted(origin) {
		return nil, fmt.Errorf("%s: %w", origin.Name, ErrCarvingExhausted)
	}
	c.scans.Add(1)

	size, err := archive.Size(s)
	if err != nil {
		return nil, fmt.Errorf("cannot determine size: %w", err)
	}
	hits, err := c.scan(ctx, s, size)
	if err != nil {
		return nil, err
	}

	// validate each hit on a view that starts at the hit
	var valid []hit
	for _, h := range hits {
		view := archive.View(s, h.offset, size-h.offset)
		if h.desc.Matches(view, h.desc.Extension) {
			valid = append(valid, h)
		}
	}
	if len(valid) == 0 {
		c.record(origin, false)
		return nil, nil
	}
	c.record(origin, true)

	a := archive.New("carved")
	for i, h := range valid {
		end := size
		if i+1 < len(valid) {
			end = valid[i+1].offset
		}
		name := fmt.Sprintf("%08X%s", h.offset, h.desc.Extension)
		a.Root.AddFile(name, i, archive.View(s, h.offset, end-h.offset))
	}
	return a, nil
}

// hit is a signature occurrence.
type hit struct {
	offset int64
	desc   *Descriptor
}

// scan searches all signatures in chunks. Consecutive chunks overlap by the longest
// magic minus one byte, so that no occurrence is split.
func (c *carver) scan(ctx context.Context, s io.ReaderAt, size int64) ([]hit, error) {
	if len(c.signatures) == 0 {
		return nil, nil
	}
	overlap := int64(c.maxMagic - 1)
	buf := make([]byte, carveChunkSize+overlap)
	found := map[int64]*Descriptor{}

	for off := int64(0); off < size; off += carveChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("cannot read at 0x%X: %w", off, err)
		}
		chunk := buf[:n]
		for _, sig := range c.signatures {
			for i := 0; ; {
				j := bytes.Index(chunk[i:], sig.magic)
				if j < 0 {
					break
				}
				pos := off + int64(i+j)
				// the first signature in table order wins
				if _, ok := found[pos]; !ok {
					found[pos] = sig.desc
				}
				i += j + 1
			}
		}
	}

	hits := make([]hit, 0, len(found))
	for off, d := range found {
		hits = append(hits, hit{offset: off, desc: d})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].offset < hits[j].offset })
	return hits, nil
}
