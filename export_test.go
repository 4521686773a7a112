// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"context"

	"github.com/hashicorp/go-unwrap/archive"
)

// Carver exposes the carving fallback to the external tests.
type Carver = carver

func NewCarver(r *Registry, threshold int) *Carver {
	return newCarver(r, threshold)
}

func (c *carver) Carve(ctx context.Context, s archive.Stream, origin *Descriptor) (*archive.Archive, error) {
	return c.carve(ctx, s, origin)
}

func (c *carver) Scans() int64 {
	return c.scans.Load()
}

var SecurityCheck = securityCheck
