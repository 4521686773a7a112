// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/hashicorp/go-unwrap/archive"
	"golang.org/x/sync/errgroup"
)

// walk processes all regular files below root. Directories are visited depth first with
// an explicit stack; the files of one directory are dispatched to a bounded worker group
// before its subdirectories are visited.
func (e *engine) walk(ctx context.Context, fsys fs.FS, root string) error {
	stack := []string{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := fs.ReadDir(fsys, dir)
		if err != nil {
			e.itemError("cannot read input directory", dir, err)
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Parallelism())
		var subdirs []string
		for _, entry := range entries {
			name := path.Join(dir, entry.Name())
			if entry.IsDir() {
				subdirs = append(subdirs, name)
				continue
			}
			if !entry.Type().IsRegular() {
				e.cfg.Logger().Info("skip irregular input", "path", name, "type", entry.Type())
				continue
			}
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				return e.scanFile(gctx, fsys, name)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// push in reverse, so that the first subdirectory is visited next
		slices.Reverse(subdirs)
		stack = append(stack, subdirs...)
	}
	return ctx.Err()
}

// scanFile opens an input file and scans it.
func (e *engine) scanFile(ctx context.Context, fsys fs.FS, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := fsys.Open(name)
	if err != nil {
		e.itemError("cannot open input", name, err)
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		e.itemError("cannot stat input", name, err)
		return nil
	}
	if err := e.cfg.CheckInputSize(info.Size()); err != nil {
		e.tm.skippedInputs.Add(1)
		e.itemError("skip input", name, err)
		return nil
	}

	s, cleanup, err := readerToStream(e.cfg, f)
	if err != nil {
		e.itemError("cannot read input", name, err)
		return nil
	}
	defer cleanup()

	return e.scanInput(ctx, s, name, info.Size())
}

// scanInput scans a top level input stream. The output path is the input name
// without its extension.
func (e *engine) scanInput(ctx context.Context, s archive.Stream, name string, size int64) error {
	e.tm.inputFiles.Add(1)
	e.tm.inputSize.Add(size)
	ext := path.Ext(name)
	e.cfg.Logger().Debug("scan input", "path", name, "size", size)
	return e.scan(ctx, s, strings.TrimSuffix(name, ext), strings.ToLower(ext), 0)
}

// readerToStream converts r into a stream. Readers that cannot seek are cached in memory or
// in a temporary file, depending on the configuration. The returned function releases
// the cache.
func readerToStream(cfg *Config, r io.Reader) (archive.Stream, func(), error) {
	noop := func() {}

	if s, ok := r.(archive.Stream); ok {
		return s, noop, nil
	}

	// check if reader is a buffer
	if b, ok := r.(*bytes.Buffer); ok {
		return bytes.NewReader(b.Bytes()), noop, nil
	}

	// limit reader
	ler := newLimitErrorReader(r, cfg.MaxInputSize())

	// check how to cache
	if cfg.CacheInMemory() {
		b, err := io.ReadAll(ler)
		if err != nil {
			return nil, noop, fmt.Errorf("cannot read all from reader: %w", err)
		}
		return bytes.NewReader(b), noop, nil
	}

	// create temp file
	tmpFile, err := os.CreateTemp("", "unwrap-*")
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}

	// copy reader to temp file
	if _, err := io.Copy(tmpFile, ler); err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("cannot copy reader to file: %w", err)
	}

	// seek to start
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, noop, err
	}

	return tmpFile, cleanup, nil
}
