// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-unwrap/archive"
)

// Unpack recovers all payloads of src into the directory dst on disk. The src can be a
// single file or a directory, which is walked recursively. If cfg is nil, the default
// configuration is used.
//
// Only errors of the destination, exceeded output limits and cancellation of ctx abort
// the run. Errors of single inputs or archive entries are logged and counted in the
// [TelemetryData], and the affected payload is persisted as it is.
func Unpack(ctx context.Context, src string, dst string, cfg *Config) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("cannot access input: %w", err)
	}
	if info.IsDir() {
		return UnpackFS(ctx, os.DirFS(src), NewTargetDisk(), dst, cfg)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cannot open input: %w", err)
	}
	defer f.Close()
	return UnpackStream(ctx, f, filepath.Base(src), NewTargetDisk(), dst, cfg)
}

// UnpackFS recovers all payloads of the files in fsys into dst of the target t.
func UnpackFS(ctx context.Context, fsys fs.FS, t Target, dst string, cfg *Config) error {
	return run(ctx, t, dst, cfg, func(e *engine) error {
		return e.walk(ctx, fsys, ".")
	})
}

// UnpackStream recovers all payloads of src into dst of the target t. The name provides
// the output path and the extension hint of the stream. Streams that cannot seek are
// cached according to [Config.CacheInMemory].
func UnpackStream(ctx context.Context, src io.Reader, name string, t Target, dst string, cfg *Config) error {
	return run(ctx, t, dst, cfg, func(e *engine) error {
		s, cleanup, err := readerToStream(e.cfg, src)
		if err != nil {
			return fmt.Errorf("cannot read input: %w", err)
		}
		defer cleanup()

		size, err := archive.Size(s)
		if err != nil {
			return fmt.Errorf("cannot determine input size: %w", err)
		}
		if err := e.cfg.CheckInputSize(size); err != nil {
			return err
		}
		return e.scanInput(ctx, s, name, size)
	})
}

// run executes fn with a new engine and hands the telemetry data to the configured hook.
func run(ctx context.Context, t Target, dst string, cfg *Config, fn func(e *engine) error) error {
	if cfg == nil {
		cfg = NewConfig()
	}

	start := time.Now()
	e := newEngine(t, dst, cfg)
	err := fn(e)

	td := e.telemetry()
	td.ExtractionDuration = time.Since(start)
	if err != nil {
		td.LastExtractionError = err
	}
	cfg.TelemetryHook()(ctx, td)

	return err
}
