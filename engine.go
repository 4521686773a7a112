// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/hashicorp/go-unwrap/archive"
	"github.com/hashicorp/go-unwrap/codec"
	"github.com/hashicorp/go-unwrap/texture"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// defaultExtension is used for payloads of unknown format without an extension hint.
const defaultExtension = ".bin"

// decompressExtensions lists extensions that commonly wrap a compressed payload. Streams
// with one of these extensions and no structured handler are tried with every codec.
var decompressExtensions = map[string]bool{
	".arc":    true,
	".tpl":    true,
	".bti":    true,
	".lz":     true,
	".brres":  true,
	".breff":  true,
	".zlib":   true,
	".lz77":   true,
	".wtm":    true,
	".vld":    true,
	".cxd":    true,
	".cmparc": true,
	".cmpres": true,
}

// engine drives the recursive unwrap of one run. Only errors of the output target and
// cancellation are returned by its methods; everything else is logged, counted and leaves
// the affected stream as terminal payload.
type engine struct {
	cfg      *Config
	target   Target
	dst      string
	registry *Registry
	carver   *carver
	tm       *telemetry

	hashMu sync.Mutex
	hashes map[[32]byte]string
}

func newEngine(t Target, dst string, cfg *Config) *engine {
	r := NewRegistry(cfg.MaxExtractionSize())
	return &engine{
		cfg:      cfg,
		target:   t,
		dst:      dst,
		registry: r,
		carver:   newCarver(r, cfg.CarveFailureThreshold()),
		tm:       &telemetry{},
		hashes:   map[[32]byte]string{},
	}
}

// telemetry returns the counters of the run.
func (e *engine) telemetry() *TelemetryData {
	td := e.tm.data()
	td.CarvingScans = e.carver.scans.Load()
	td.LearnedFormats = int64(len(e.registry.Learned()))
	return td
}

// itemError logs and counts an error that only affects a single item.
func (e *engine) itemError(msg string, name string, err error) {
	e.cfg.Logger().Warn(msg, "path", name, "error", err)
	e.tm.recordError(err)
}

// scan identifies s and unwraps it. stem is the output path of s without extension and
// ext the lower case extension hint.
func (e *engine) scan(ctx context.Context, s archive.Stream, stem string, ext string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d := e.registry.Identify(s, ext)
	e.cfg.Logger().Debug("identified", "path", stem+ext, "format", d.Name, "kind", d.Kind)

	if limit := e.cfg.MaxDepth(); limit >= 0 && depth > limit {
		e.cfg.Logger().Warn("maximum depth reached", "path", stem, "depth", depth)
		return e.persist(ctx, s, stem, d)
	}

	done, err := e.unwrap(ctx, s, stem, ext, d, depth)
	if err != nil || done {
		return err
	}
	return e.persist(ctx, s, stem, d)
}

// unwrap dispatches s to the handler of d. It returns true if s was replaced by its content.
func (e *engine) unwrap(ctx context.Context, s archive.Stream, stem string, ext string, d *Descriptor, depth int) (bool, error) {
	switch d.Kind {
	case KindArchive:
		return e.unwrapArchive(ctx, s, stem, d, depth)
	case KindCodec:
		return e.decompress(ctx, s, stem, d.Codec(), depth)
	}

	tried := false
	if decompressExtensions[ext] {
		tried = true
		if ok, err := e.decompressAny(ctx, s, stem, ext, depth); ok || err != nil {
			return ok, err
		}
	}
	if d.Kind != KindUnknown {
		return false, nil
	}
	if !tried {
		if ok, err := e.decompressAny(ctx, s, stem, ext, depth); ok || err != nil {
			return ok, err
		}
	}
	return e.carve(ctx, s, stem, d, depth)
}

// unwrapArchive parses s and scans the archive tree.
func (e *engine) unwrapArchive(ctx context.Context, s archive.Stream, stem string, d *Descriptor, depth int) (bool, error) {
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		e.itemError("cannot rewind stream", stem, err)
		return false, nil
	}
	a, err := d.Parser().Read(s)
	if err != nil {
		e.tm.malformed.Add(1)
		e.itemError("cannot read archive", stem+d.Extension, err)
		return false, nil
	}
	defer a.Close()
	for _, err := range a.Errors {
		e.itemError("skip archive member", stem+d.Extension, err)
	}

	e.tm.archives.Add(1)
	return true, e.scanArchive(ctx, a, stem, depth)
}

// scanArchive scans all items of a. Archives up to the small archive threshold are
// processed sequentially; larger ones with the configured parallelism.
func (e *engine) scanArchive(ctx context.Context, a *archive.Archive, stem string, depth int) error {
	degree := e.cfg.Parallelism()
	if a.Root.FileCount() <= e.cfg.SmallArchiveThreshold() {
		degree = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(degree)
	for _, n := range a.Root.Items() {
		if gctx.Err() != nil {
			break
		}
		n := n
		g.Go(func() error {
			return e.scanNode(gctx, n, stem, depth)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// scanNode scans a file of an archive below stem. Directory names of four or fewer
// characters do not add a path level.
func (e *engine) scanNode(ctx context.Context, n archive.Node, stem string, depth int) error {
	switch v := n.(type) {
	case *archive.File:
		data, err := v.Data()
		if err != nil {
			e.itemError("cannot read archive entry", path.Join(stem, v.Name()), err)
			return nil
		}
		return e.scan(ctx, data, path.Join(stem, fileStem(v.Name())), v.Extension(), depth+1)

	case *archive.Directory:
		sub := stem
		if len(v.Name()) > 4 {
			sub = path.Join(stem, safeName(v.Name()))
		}
		for _, item := range v.Items() {
			if err := e.scanNode(ctx, item, sub, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// decode rewinds s and decompresses it with c.
func decode(s archive.Stream, c codec.Codec) (*bytes.Reader, error) {
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return c.Decompress(s)
}

// decompress decodes an identified compression layer and scans the result at the same stem.
func (e *engine) decompress(ctx context.Context, s archive.Stream, stem string, c codec.Codec, depth int) (bool, error) {
	out, err := decode(s, c)
	if err != nil {
		e.tm.decodeErrors.Add(1)
		e.itemError("cannot decompress", stem+c.Extension(), err)
		return false, nil
	}
	e.tm.decompressions.Add(1)
	return true, e.scan(ctx, out, stem, "", depth+1)
}

// decompressAny tries every matching codec and scans the first successful result.
func (e *engine) decompressAny(ctx context.Context, s archive.Stream, stem string, ext string, depth int) (bool, error) {
	for _, c := range e.registry.Codecs() {
		if !c.Matches(s, ext) {
			continue
		}
		out, err := decode(s, c)
		if err != nil {
			e.cfg.Logger().Debug("generic decompression failed", "path", stem+ext, "codec", c.Name(), "error", err)
			continue
		}
		e.tm.decompressions.Add(1)
		return true, e.scan(ctx, out, stem, "", depth+1)
	}
	return false, nil
}

// carve recovers embedded archives of an unknown stream.
func (e *engine) carve(ctx context.Context, s archive.Stream, stem string, d *Descriptor, depth int) (bool, error) {
	a, err := e.carver.carve(ctx, s, d)
	switch {
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, ErrCarvingExhausted):
		e.tm.carveSkipped.Add(1)
		e.cfg.Logger().Debug("carving skipped", "path", stem+d.Extension, "error", err)
		return false, nil
	case err != nil:
		e.itemError("cannot carve", stem+d.Extension, err)
		return false, nil
	case a == nil:
		return false, nil
	}
	defer a.Close()

	e.tm.archives.Add(1)
	e.tm.carved.Add(int64(a.Root.Len()))
	e.cfg.Logger().Info("carved regions", "path", stem+d.Extension, "regions", a.Root.Len())
	return true, e.scanArchive(ctx, a, stem, depth)
}

// persist writes s to stem plus the canonical extension of d. The stream is rewound
// before and after writing.
func (e *engine) persist(ctx context.Context, s archive.Stream, stem string, d *Descriptor) error {
	ext := d.Extension
	if ext == "" {
		ext = defaultExtension
	}
	name := stem + ext

	if _, err := s.Seek(0, io.SeekStart); err != nil {
		e.itemError("cannot rewind stream", name, err)
		return nil
	}
	defer s.Seek(0, io.SeekStart)

	if e.cfg.SkipDuplicates() {
		dup, err := e.duplicate(s, name)
		if err != nil {
			e.itemError("cannot hash payload", name, err)
			return nil
		}
		if dup {
			e.tm.duplicates.Add(1)
			e.cfg.Logger().Debug("skip duplicate", "path", name)
			return nil
		}
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			e.itemError("cannot rewind stream", name, err)
			return nil
		}
	}

	// refuse payloads that cannot fit before anything is written
	if size, err := archive.Size(s); err == nil {
		if err := e.cfg.CheckExtractionSize(e.tm.size.Load() + size); err != nil {
			return fmt.Errorf("%w: %s", err, name)
		}
	}

	// remaining budget of the run
	maxSize := int64(-1)
	if limit := e.cfg.MaxExtractionSize(); limit >= 0 {
		maxSize = max(limit-e.tm.size.Load(), 0)
	}

	n, err := createFile(e.target, e.dst, name, s, e.cfg.CustomFileMode(), maxSize, e.cfg)
	e.tm.size.Add(n)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrExist), errors.Is(err, errUnsafePath):
			e.itemError("cannot persist payload", name, err)
			return nil
		case errors.Is(err, io.ErrShortWrite):
			return fmt.Errorf("%w: %s", ErrMaxExtractionSizeExceeded, name)
		default:
			return fmt.Errorf("cannot persist %s: %w", name, err)
		}
	}
	e.tm.persisted.Add(1)
	e.cfg.Logger().Debug("persisted", "path", name, "format", d.Name, "size", n)

	switch d.Kind {
	case KindUnknown:
		e.tm.unknown.Add(1)
	case KindTexture:
		e.tm.textures.Add(1)
		if hook := e.cfg.TextureHook(); hook != nil {
			entry := texture.Describe(d.Container(), s, n)
			entry.Path = name
			if err := hook(ctx, entry); err != nil {
				e.itemError("texture hook failed", name, err)
			}
		}
	}
	return nil
}

// duplicate reports if the content of s was already persisted during the run.
func (e *engine) duplicate(s io.Reader, name string) (bool, error) {
	h := blake3.New()
	if _, err := io.Copy(h, s); err != nil {
		return false, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))

	e.hashMu.Lock()
	defer e.hashMu.Unlock()
	if _, ok := e.hashes[sum]; ok {
		return true, nil
	}
	e.hashes[sum] = name
	return false, nil
}

// fileStem returns the name without extension, safe to be used as a single path element.
func fileStem(name string) string {
	return safeName(strings.TrimSuffix(name, path.Ext(name)))
}

// safeName replaces separators and relative path elements of an archive entry name.
func safeName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
