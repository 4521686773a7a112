// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package unwrap_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/hashicorp/go-unwrap"
	"github.com/hashicorp/go-unwrap/codec"
	"github.com/hashicorp/go-unwrap/texture"
)

// nestedInput returns an input tree with an archive, a compressed file and a texture
// in a nested directory.
func nestedInput(t *testing.T) fstest.MapFS {
	model := compress(t, codec.NewGCLZ(-1), []byte("plain payload 0001"))
	return fstest.MapFS{
		"data/pack.dat": {Data: createFPS4(
			fps4Entry{"tex0.tpl", tplBytes()},
			fps4Entry{"model.bin", model},
		)},
		"top.gz":        {Data: compress(t, codec.NewGzip(-1), []byte("top level payload"))},
		"sub/dir/x.bti": {Data: btiBytes()},
	}
}

// unpack runs UnpackFS on a memory target and returns the target with the telemetry of
// the run.
func unpack(t *testing.T, ctx context.Context, fsys fstest.MapFS, opts ...unwrap.ConfigOption) (*unwrap.TargetMemory, *unwrap.TelemetryData, error) {
	t.Helper()
	var td *unwrap.TelemetryData
	opts = append(opts, unwrap.WithTelemetryHook(func(_ context.Context, d *unwrap.TelemetryData) {
		td = d
	}))
	m := unwrap.NewTargetMemory()
	err := unwrap.UnpackFS(ctx, fsys, m, "", unwrap.NewConfig(opts...))
	if td == nil {
		t.Fatalf("telemetry hook was not called")
	}
	return m, td, err
}

func readMemory(t *testing.T, m *unwrap.TargetMemory, name string) []byte {
	t.Helper()
	b, err := m.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile(%q) error = %v", name, err)
	}
	return b
}

func TestUnpackNested(t *testing.T) {
	var (
		mu       sync.Mutex
		textures = map[string]texture.Container{}
	)
	hook := func(_ context.Context, e *texture.Entry) error {
		mu.Lock()
		defer mu.Unlock()
		textures[e.Path] = e.Container
		return nil
	}

	for _, parallelism := range []int{1, 4} {
		t.Run(fmt.Sprintf("parallelism %d", parallelism), func(t *testing.T) {
			clear(textures)
			m, td, err := unpack(t, context.Background(), nestedInput(t),
				unwrap.WithParallelism(parallelism),
				unwrap.WithTextureHook(hook),
			)
			if err != nil {
				t.Fatalf("UnpackFS() error = %v", err)
			}

			want := []string{"data/pack/model.bin", "data/pack/tex0.tpl", "sub/dir/x.bti", "top.bin"}
			if got := m.Files(); !slices.Equal(got, want) {
				t.Fatalf("Files() = %v, want %v", got, want)
			}
			if got := readMemory(t, m, "data/pack/model.bin"); string(got) != "plain payload 0001" {
				t.Errorf("model.bin = %q", got)
			}
			if got := readMemory(t, m, "top.bin"); string(got) != "top level payload" {
				t.Errorf("top.bin = %q", got)
			}
			if got := readMemory(t, m, "data/pack/tex0.tpl"); !bytes.Equal(got, tplBytes()) {
				t.Errorf("tex0.tpl differs from the archive entry")
			}

			wantTextures := map[string]texture.Container{
				"data/pack/tex0.tpl": texture.ContainerTPL,
				"sub/dir/x.bti":      texture.ContainerBTI,
			}
			mu.Lock()
			if len(textures) != len(wantTextures) {
				t.Errorf("texture hook got %v, want %v", textures, wantTextures)
			}
			for p, c := range wantTextures {
				if textures[p] != c {
					t.Errorf("texture hook for %s = %v, want %v", p, textures[p], c)
				}
			}
			mu.Unlock()

			checks := []struct {
				name string
				got  int64
				want int64
			}{
				{"ArchivesUnpacked", td.ArchivesUnpacked, 1},
				{"Decompressions", td.Decompressions, 2},
				{"ExtractionErrors", td.ExtractionErrors, 0},
				{"InputFiles", td.InputFiles, 3},
				{"PersistedFiles", td.PersistedFiles, 4},
				{"TexturePayloads", td.TexturePayloads, 2},
				{"UnknownFiles", td.UnknownFiles, 2},
			}
			for _, c := range checks {
				if c.got != c.want {
					t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
				}
			}
		})
	}
}

// entries returns n archive entries with distinct unknown payloads.
func entries(n int) []fps4Entry {
	var e []fps4Entry
	for i := 0; i < n; i++ {
		e = append(e, fps4Entry{fmt.Sprintf("e%02d.bin", i), []byte(fmt.Sprintf("entry %02d payload", i))})
	}
	return e
}

func TestUnpackParallelismIsDeterministic(t *testing.T) {
	for _, n := range []int{30, 31} {
		t.Run(fmt.Sprintf("%d entries", n), func(t *testing.T) {
			fsys := fstest.MapFS{"pack.dat": {Data: createFPS4(entries(n)...)}}

			seq, seqData, err := unpack(t, context.Background(), fsys, unwrap.WithParallelism(1))
			if err != nil {
				t.Fatalf("UnpackFS() error = %v", err)
			}
			par, parData, err := unpack(t, context.Background(), fsys, unwrap.WithParallelism(8))
			if err != nil {
				t.Fatalf("UnpackFS() error = %v", err)
			}

			if len(seq.Files()) != n {
				t.Fatalf("len(Files()) = %d, want %d", len(seq.Files()), n)
			}
			if !slices.Equal(seq.Files(), par.Files()) {
				t.Fatalf("Files() = %v, want %v", par.Files(), seq.Files())
			}
			for _, p := range seq.Files() {
				if !bytes.Equal(readMemory(t, seq, p), readMemory(t, par, p)) {
					t.Errorf("content of %s differs", p)
				}
			}
			if !seqData.Equals(parData) {
				t.Errorf("telemetry differs: %v and %v", seqData, parData)
			}
		})
	}
}

func TestUnpackCarving(t *testing.T) {
	m, td, err := unpack(t, context.Background(), fstest.MapFS{"blob.dat": {Data: embedded()}})
	if err != nil {
		t.Fatalf("UnpackFS() error = %v", err)
	}
	want := []string{"blob/00000025/inner.tpl"}
	if got := m.Files(); !slices.Equal(got, want) {
		t.Fatalf("Files() = %v, want %v", got, want)
	}
	if td.CarvedRegions != 1 || td.ArchivesUnpacked != 2 || td.CarvingScans != 1 {
		t.Errorf("telemetry = %v", td)
	}
}

func TestUnpackMaxDepth(t *testing.T) {
	g := codec.NewGCLZ(-1)
	inner := compress(t, g, []byte("deeply nested payload"))
	input := compress(t, g, compress(t, g, inner))

	m, _, err := unpack(t, context.Background(), fstest.MapFS{"nested.gclz": {Data: input}}, unwrap.WithMaxDepth(1))
	if err != nil {
		t.Fatalf("UnpackFS() error = %v", err)
	}
	want := []string{"nested.gclz"}
	if got := m.Files(); !slices.Equal(got, want) {
		t.Fatalf("Files() = %v, want %v", got, want)
	}
	if got := readMemory(t, m, "nested.gclz"); !bytes.Equal(got, inner) {
		t.Errorf("persisted payload is not the innermost layer")
	}
}

func TestUnpackMalformedArchive(t *testing.T) {
	bad := createFPS4(fps4Entry{"a.bin", filler(16, 0x41)})[:0x20]
	m, td, err := unpack(t, context.Background(), fstest.MapFS{"bad.dat": {Data: bad}})
	if err != nil {
		t.Fatalf("UnpackFS() error = %v", err)
	}
	if got := readMemory(t, m, "bad.fps4"); !bytes.Equal(got, bad) {
		t.Errorf("malformed archive is not persisted as it is")
	}
	if td.MalformedArchives != 1 || td.ExtractionErrors != 1 {
		t.Errorf("telemetry = %v", td)
	}
}

func TestUnpackSkipDuplicates(t *testing.T) {
	fsys := fstest.MapFS{
		"a.bin": {Data: filler(64, 0x41)},
		"b.bin": {Data: filler(64, 0x41)},
	}
	m, td, err := unpack(t, context.Background(), fsys, unwrap.WithSkipDuplicates(true), unwrap.WithParallelism(1))
	if err != nil {
		t.Fatalf("UnpackFS() error = %v", err)
	}
	if got, want := m.Files(), []string{"a.bin"}; !slices.Equal(got, want) {
		t.Errorf("Files() = %v, want %v", got, want)
	}
	if td.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", td.Duplicates)
	}
}

func TestUnpackCollision(t *testing.T) {
	fsys := fstest.MapFS{
		"x.bin": {Data: []byte("original content")},
		"x.gz":  {Data: compress(t, codec.NewGzip(-1), []byte("decompressed content"))},
	}

	m, td, err := unpack(t, context.Background(), fsys, unwrap.WithParallelism(1))
	if err != nil {
		t.Fatalf("UnpackFS() error = %v", err)
	}
	if got := readMemory(t, m, "x.bin"); string(got) != "original content" {
		t.Errorf("x.bin = %q", got)
	}
	if td.ExtractionErrors != 1 || !errors.Is(td.LastExtractionError, os.ErrExist) {
		t.Errorf("ExtractionErrors = %d, LastExtractionError = %v", td.ExtractionErrors, td.LastExtractionError)
	}

	m, td, err = unpack(t, context.Background(), fsys, unwrap.WithParallelism(1), unwrap.WithOverwrite(true))
	if err != nil {
		t.Fatalf("UnpackFS() error = %v", err)
	}
	if got := readMemory(t, m, "x.bin"); string(got) != "decompressed content" {
		t.Errorf("x.bin = %q", got)
	}
	if td.ExtractionErrors != 0 {
		t.Errorf("ExtractionErrors = %d, want 0", td.ExtractionErrors)
	}
}

func TestUnpackUnsafeEntryNames(t *testing.T) {
	fsys := fstest.MapFS{"pack.dat": {Data: createFPS4(
		fps4Entry{"../../escape.bin", []byte("escape attempt")},
		fps4Entry{"/abs.bin", []byte("absolute path")},
	)}}
	m, _, err := unpack(t, context.Background(), fsys)
	if err != nil {
		t.Fatalf("UnpackFS() error = %v", err)
	}
	for _, p := range m.Files() {
		if !filepath.IsLocal(p) || filepath.Dir(p) != "pack" {
			t.Errorf("payload persisted outside of the archive directory: %s", p)
		}
	}
}

func TestUnpackLimits(t *testing.T) {
	fsys := fstest.MapFS{"big.bin": {Data: filler(200, 0x41)}}

	t.Run("extraction size", func(t *testing.T) {
		_, td, err := unpack(t, context.Background(), fsys, unwrap.WithMaxExtractionSize(100))
		if !errors.Is(err, unwrap.ErrMaxExtractionSizeExceeded) {
			t.Fatalf("UnpackFS() error = %v, want %v", err, unwrap.ErrMaxExtractionSizeExceeded)
		}
		if !errors.Is(td.LastExtractionError, unwrap.ErrMaxExtractionSizeExceeded) {
			t.Errorf("LastExtractionError = %v", td.LastExtractionError)
		}
	})

	t.Run("extraction size refuses before writing", func(t *testing.T) {
		m, td, err := unpack(t, context.Background(), fsys, unwrap.WithMaxExtractionSize(100))
		if !errors.Is(err, unwrap.ErrMaxExtractionSizeExceeded) {
			t.Fatalf("UnpackFS() error = %v, want %v", err, unwrap.ErrMaxExtractionSizeExceeded)
		}
		if len(m.Files()) != 0 || td.ExtractionSize != 0 {
			t.Errorf("Files() = %v, ExtractionSize = %d", m.Files(), td.ExtractionSize)
		}
	})

	t.Run("input size", func(t *testing.T) {
		m, td, err := unpack(t, context.Background(), fsys, unwrap.WithMaxInputSize(100))
		if err != nil {
			t.Fatalf("UnpackFS() error = %v", err)
		}
		if len(m.Files()) != 0 || td.SkippedInputs != 1 {
			t.Errorf("Files() = %v, SkippedInputs = %d", m.Files(), td.SkippedInputs)
		}
	})
}

func TestUnpackIgnoresImplausibleLZ10(t *testing.T) {
	data := append([]byte{0x10, 0x01, 0x00, 0x00, 0x00, 'A'}, []byte("trailing bytes of a file that is not compressed")...)
	m, td, err := unpack(t, context.Background(), fstest.MapFS{"stray.bin": {Data: data}})
	if err != nil {
		t.Fatalf("UnpackFS() error = %v", err)
	}
	if got, want := m.Files(), []string{"stray.bin"}; !slices.Equal(got, want) {
		t.Fatalf("Files() = %v, want %v", got, want)
	}
	if got := readMemory(t, m, "stray.bin"); !bytes.Equal(got, data) {
		t.Errorf("stray.bin = %q, want the input", got)
	}
	if td.Decompressions != 0 {
		t.Errorf("Decompressions = %d, want 0", td.Decompressions)
	}
}

func TestUnpackRawDeflate(t *testing.T) {
	raw := compress(t, codec.NewZlibHeaderless(-1), []byte("raw deflate payload raw deflate payload"))
	m, td, err := unpack(t, context.Background(), fstest.MapFS{"chunk.deflate": {Data: raw}})
	if err != nil {
		t.Fatalf("UnpackFS() error = %v", err)
	}
	if got := readMemory(t, m, "chunk.bin"); string(got) != "raw deflate payload raw deflate payload" {
		t.Errorf("chunk.bin = %q", got)
	}
	if td.Decompressions != 1 {
		t.Errorf("Decompressions = %d, want 1", td.Decompressions)
	}
}

func TestUnpackSkipsArchiveLinks(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	link := &zip.FileHeader{Name: "link", Method: zip.Store}
	link.SetMode(fs.ModeSymlink | 0o777)
	lw, err := w.CreateHeader(link)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lw.Write([]byte("../../etc/passwd")); err != nil {
		t.Fatal(err)
	}
	fw, err := w.Create("file.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("zip member payload")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	m, td, err := unpack(t, context.Background(), fstest.MapFS{"pack.zip": {Data: buf.Bytes()}})
	if err != nil {
		t.Fatalf("UnpackFS() error = %v", err)
	}
	if got, want := m.Files(), []string{"pack/file.bin"}; !slices.Equal(got, want) {
		t.Fatalf("Files() = %v, want %v", got, want)
	}
	if td.ArchivesUnpacked != 1 || td.MalformedArchives != 0 || td.ExtractionErrors != 0 {
		t.Errorf("telemetry = %v", td)
	}
}

func TestUnpackCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, td, err := unpack(t, ctx, nestedInput(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("UnpackFS() error = %v, want %v", err, context.Canceled)
	}
	if len(m.Files()) != 0 {
		t.Errorf("Files() = %v, want none", m.Files())
	}
	if !errors.Is(td.LastExtractionError, context.Canceled) {
		t.Errorf("LastExtractionError = %v", td.LastExtractionError)
	}
}

func TestUnpackStream(t *testing.T) {
	input := createFPS4(fps4Entry{"tex0.tpl", tplBytes()}, fps4Entry{"data.bin", []byte("stream payload")})

	for _, inMemory := range []bool{true, false} {
		t.Run(fmt.Sprintf("cache in memory %v", inMemory), func(t *testing.T) {
			// hide the seeker of the reader
			src := struct{ io.Reader }{bytes.NewReader(input)}

			m := unwrap.NewTargetMemory()
			cfg := unwrap.NewConfig(unwrap.WithCacheInMemory(inMemory))
			if err := unwrap.UnpackStream(context.Background(), src, "pack.dat", m, "", cfg); err != nil {
				t.Fatalf("UnpackStream() error = %v", err)
			}
			want := []string{"pack/data.bin", "pack/tex0.tpl"}
			if got := m.Files(); !slices.Equal(got, want) {
				t.Errorf("Files() = %v, want %v", got, want)
			}
		})
	}

	t.Run("input size", func(t *testing.T) {
		src := struct{ io.Reader }{bytes.NewReader(input)}
		cfg := unwrap.NewConfig(unwrap.WithCacheInMemory(true), unwrap.WithMaxInputSize(16))
		err := unwrap.UnpackStream(context.Background(), src, "pack.dat", unwrap.NewTargetMemory(), "", cfg)
		if !errors.Is(err, unwrap.ErrMaxInputSizeExceeded) {
			t.Errorf("UnpackStream() error = %v, want %v", err, unwrap.ErrMaxInputSizeExceeded)
		}
	})
}

func TestUnpackDisk(t *testing.T) {
	src := t.TempDir()
	for name, f := range nestedInput(t) {
		p := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, f.Data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("directory", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "out")
		cfg := unwrap.NewConfig(unwrap.WithCreateDestination(true))
		if err := unwrap.Unpack(context.Background(), src, dst, cfg); err != nil {
			t.Fatalf("Unpack() error = %v", err)
		}
		for _, name := range []string{"data/pack/model.bin", "data/pack/tex0.tpl", "sub/dir/x.bti", "top.bin"} {
			if _, err := os.Stat(filepath.Join(dst, filepath.FromSlash(name))); err != nil {
				t.Errorf("expected output %s: %v", name, err)
			}
		}
	})

	t.Run("single file", func(t *testing.T) {
		dst := t.TempDir()
		if err := unwrap.Unpack(context.Background(), filepath.Join(src, "data", "pack.dat"), dst, nil); err != nil {
			t.Fatalf("Unpack() error = %v", err)
		}
		b, err := os.ReadFile(filepath.Join(dst, "pack", "model.bin"))
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "plain payload 0001" {
			t.Errorf("model.bin = %q", b)
		}
	})

	t.Run("missing destination", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "missing")
		err := unwrap.Unpack(context.Background(), filepath.Join(src, "top.gz"), dst, nil)
		if err == nil {
			t.Errorf("Unpack() error = nil, want an error for a missing destination")
		}
	})
}
