// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package archive_test

import (
	"archive/tar"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"testing"

	"github.com/hashicorp/go-unwrap/archive"
	"github.com/klauspost/compress/zip"
)

// testRarArchiveBase64 holds dir/foo, file, a symlink and the directory entry.
var testRarArchiveBase64 = "UmFyIRoHAQAzkrXlCgEFBgAFAQGAgAADk1YoJQIDC50ABJ0ApIMClAgA9IAAAQdkaXIvZm9vCgMTQPjXZsjBSQhNaSAgNCBTZXAgMjAyNCAwODowMzo0NCBDRVNUCpQdu+oiAgMLnQAEnQCkgwI+z7uqgAABBGZpbGUKAxPEDddmxHsQDkRpICAzIFNlcCAyMDI0IDE1OjIzOjE2IENFU1QKe1xvKCwCAxcABAftwwIAAAAAgAABBGxpbmsKAxNM+NdmSCZHGAsFAQAHZGlyL2Zvb0A2hh0bAgMLAAEA7YMBgAABA2RpcgoDE0D412Z533kHHXdWUQMFBAA="

// test7zArchiveHex holds test/data with the content "Hello World!".
var test7zArchiveHex = "377abcaf271c00049af18e7973000000000000002000000000000000a7e80f9801000b48656c6c6f20576f726c6421000000813307ae0fcef2b20c07c8437f41b1fafddb88b6d7636b8bd58a0e24a2f717a5f156e37f41fd00833298421d5d088c0cf987b30c0473663599e4d2f21cb69620038f10458109662135c3024189f42799abe3227b174a853e824f808b2efaab000017061001096300070b01000123030101055d001000000c760a015bcfa0a70000"

// readNode returns the content of the file at the slash separated path below d.
func readNode(t *testing.T, d *archive.Directory, path ...string) string {
	t.Helper()
	for _, p := range path[:len(path)-1] {
		n, ok := d.Get(p)
		if !ok {
			t.Fatalf("missing directory %q", p)
		}
		d = n.(*archive.Directory)
	}
	n, ok := d.Get(path[len(path)-1])
	if !ok {
		t.Fatalf("missing file %q", path[len(path)-1])
	}
	data, err := n.(*archive.File).Data()
	if err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(data)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func createRTDP(entries map[string]string, order []string) []byte {
	const eoh = 0x100
	var data bytes.Buffer
	table := make([]byte, 0x20+len(order)*0x28)
	copy(table, "RTDP")
	binary.BigEndian.PutUint32(table[4:], eoh)
	binary.BigEndian.PutUint32(table[8:], uint32(len(order)))
	for i, name := range order {
		rec := table[0x20+i*0x28:]
		copy(rec, name)
		binary.BigEndian.PutUint32(rec[0x20:], uint32(len(entries[name])))
		binary.BigEndian.PutUint32(rec[0x24:], uint32(data.Len()))
		for _, b := range []byte(entries[name]) {
			data.WriteByte(b ^ 0x55)
		}
	}
	out := make([]byte, eoh)
	copy(out, table)
	return append(out, data.Bytes()...)
}

func TestRTDP(t *testing.T) {
	input := createRTDP(map[string]string{"a.tpl": "first", "b.bin": "second"}, []string{"a.tpl", "b.bin"})

	if !(archive.RTDP{}).IsMatch(bytes.NewReader(input), "") {
		t.Fatalf("IsMatch() = false")
	}
	a, err := archive.RTDP{}.Read(bytes.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := readNode(t, a.Root, "a.tpl"); got != "first" {
		t.Errorf("a.tpl = %q, want %q", got, "first")
	}
	if got := readNode(t, a.Root, "b.bin"); got != "second" {
		t.Errorf("b.bin = %q, want %q", got, "second")
	}

	// truncated data section
	if _, err := (archive.RTDP{}).Read(bytes.NewReader(input[:0x104])); !errors.Is(err, archive.ErrMalformedArchive) {
		t.Errorf("Read() error = %v, want %v", err, archive.ErrMalformedArchive)
	}
}

func createAFS(payloads []string, names []string) []byte {
	count := len(payloads)
	buf := make([]byte, 0x800)
	copy(buf, "AFS\x00")
	binary.LittleEndian.PutUint32(buf[4:], uint32(count))
	off := 0x800
	for i, p := range payloads {
		binary.LittleEndian.PutUint32(buf[8+i*8:], uint32(off))
		binary.LittleEndian.PutUint32(buf[12+i*8:], uint32(len(p)))
		buf = append(buf, p...)
		off += len(p)
	}
	if names != nil {
		binary.LittleEndian.PutUint32(buf[8+count*8:], uint32(len(buf)))
		binary.LittleEndian.PutUint32(buf[12+count*8:], uint32(count*0x30))
		for _, n := range names {
			rec := make([]byte, 0x30)
			copy(rec, n)
			buf = append(buf, rec...)
		}
	}
	return buf
}

func TestAFS(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  map[string]string
	}{
		{
			name:  "with name directory",
			input: createAFS([]string{"one", "two"}, []string{"voice.adx", "model.bin"}),
			want:  map[string]string{"voice.adx": "one", "model.bin": "two"},
		},
		{
			name:  "without name directory",
			input: createAFS([]string{"one", "two"}, nil),
			want:  map[string]string{"00000.bin": "one", "00001.bin": "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := archive.AFS{}.Read(bytes.NewReader(tt.input))
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if a.Root.Len() != len(tt.want) {
				t.Fatalf("got %d items, want %d", a.Root.Len(), len(tt.want))
			}
			for name, content := range tt.want {
				if got := readNode(t, a.Root, name); got != content {
					t.Errorf("%s = %q, want %q", name, got, content)
				}
			}
		})
	}
}

func TestZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range []struct {
		name   string
		method uint16
		body   string
	}{
		{"stored/a.bin", zip.Store, "stored payload"},
		{"deflated/b.bin", zip.Deflate, "deflated payload deflated payload"},
	} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: f.method})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	a, err := archive.Zip{MaxSize: -1}.Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := readNode(t, a.Root, "stored", "a.bin"); got != "stored payload" {
		t.Errorf("stored = %q", got)
	}
	if got := readNode(t, a.Root, "deflated", "b.bin"); got != "deflated payload deflated payload" {
		t.Errorf("deflated = %q", got)
	}

	// a member over the limit is skipped, stored members are views and stay
	a, err = archive.Zip{MaxSize: 4}.Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if _, ok := a.Root.Get("deflated"); ok {
		t.Errorf("member over the size limit was added")
	}
	if len(a.Errors) != 1 || !errors.Is(a.Errors[0], archive.ErrMaxSizeExceeded) {
		t.Errorf("Errors = %v, want %v", a.Errors, archive.ErrMaxSizeExceeded)
	}
}

func TestZipSkipsLinks(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	link := &zip.FileHeader{Name: "link", Method: zip.Store}
	link.SetMode(fs.ModeSymlink | 0777)
	for _, f := range []struct {
		hdr  *zip.FileHeader
		body string
	}{
		{link, "../../etc/passwd"},
		{&zip.FileHeader{Name: "file.bin", Method: zip.Deflate}, "regular payload"},
	} {
		w, err := zw.CreateHeader(f.hdr)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	a, err := archive.Zip{MaxSize: -1}.Read(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if a.Root.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", a.Root.Len())
	}
	if got := readNode(t, a.Root, "file.bin"); got != "regular payload" {
		t.Errorf("file.bin = %q", got)
	}
}

func TestTar(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	files := []struct{ name, body string }{
		{"root.txt", "root"},
		{"sub/dir/nested.bin", "nested content"},
	}
	if err := tw.WriteHeader(&tar.Header{Name: "sub/", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if err := tw.WriteHeader(&tar.Header{Name: f.name, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(f.body))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	s := bytes.NewReader(buf.Bytes())
	if !(archive.Tar{}).IsMatch(s, "") {
		t.Fatalf("IsMatch() = false")
	}
	a, err := archive.Tar{}.Read(s)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := readNode(t, a.Root, "root.txt"); got != "root" {
		t.Errorf("root.txt = %q", got)
	}
	if got := readNode(t, a.Root, "sub", "dir", "nested.bin"); got != "nested content" {
		t.Errorf("nested.bin = %q", got)
	}
}

func TestSevenZip(t *testing.T) {
	input, err := hex.DecodeString(test7zArchiveHex)
	if err != nil {
		t.Fatal(err)
	}
	a, err := archive.SevenZip{MaxSize: -1}.Read(bytes.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := readNode(t, a.Root, "test", "data"); got != "Hello World!" {
		t.Errorf("test/data = %q", got)
	}

	a, err = archive.SevenZip{MaxSize: 5}.Read(bytes.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if a.Root.FileCount() != 0 {
		t.Errorf("FileCount() = %d, want 0", a.Root.FileCount())
	}
	if len(a.Errors) != 1 || !errors.Is(a.Errors[0], archive.ErrMaxSizeExceeded) {
		t.Errorf("Errors = %v, want %v", a.Errors, archive.ErrMaxSizeExceeded)
	}
}

func TestRar(t *testing.T) {
	input, err := base64.StdEncoding.DecodeString(testRarArchiveBase64)
	if err != nil {
		t.Fatal(err)
	}
	a, err := archive.Rar{MaxSize: -1}.Read(bytes.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := readNode(t, a.Root, "file"); got != "Di  3 Sep 2024 15:23:16 CEST\n" {
		t.Errorf("file = %q", got)
	}
	if got := readNode(t, a.Root, "dir", "foo"); got != "Mi  4 Sep 2024 08:03:44 CEST\n" {
		t.Errorf("dir/foo = %q", got)
	}
	if _, ok := a.Root.Get("link"); ok {
		t.Errorf("symlink member was added as a file")
	}
	if len(a.Errors) != 0 {
		t.Errorf("Errors = %v, want none", a.Errors)
	}
}

func TestDirectory(t *testing.T) {
	a := archive.New("test")
	root := a.Root
	root.AddFile("tex", 0, bytes.NewReader([]byte("a")))
	root.AddFile("tex", 1, bytes.NewReader([]byte("b")))
	root.AddFile("tex", 1, bytes.NewReader([]byte("c")))
	root.AddPath("group/inner.bin", 3, bytes.NewReader([]byte("d")))

	var names []string
	for _, n := range root.Items() {
		names = append(names, n.Name())
	}
	want := []string{"tex", "1tex", "2tex", "group"}
	if len(names) != len(want) {
		t.Fatalf("items = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, names[i], want[i])
		}
	}
	if root.FileCount() != 4 {
		t.Errorf("FileCount() = %d, want 4", root.FileCount())
	}

	group, _ := root.Get("group")
	if group.(*archive.Directory).Owner() != a {
		t.Errorf("subdirectory does not reference its archive")
	}
	if group.Parent() != root {
		t.Errorf("subdirectory parent mismatch")
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	n, _ := root.Get("tex")
	if _, err := n.(*archive.File).Data(); err == nil {
		t.Errorf("Data() after Close() error = nil")
	}
}
