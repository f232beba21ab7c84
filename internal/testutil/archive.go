package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io/fs"
	"sort"
	"testing"
)

// Entry is one member of a fixture archive. A name ending in "/" is a
// directory; a non-empty Link makes a symlink.
type Entry struct {
	Name string
	Body string
	Mode fs.FileMode
	Link string
}

// ZipArchive builds an in-memory zip.
func ZipArchive(t *testing.T, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		mode := e.Mode
		switch {
		case e.Link != "":
			mode = fs.ModeSymlink | 0o777
		case isDir(e.Name):
			mode = fs.ModeDir | 0o755
		case mode == 0:
			mode = 0o644
		}
		hdr.SetMode(mode)

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.Name, err)
		}
		body := e.Body
		if e.Link != "" {
			body = e.Link
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// TarGzArchive builds an in-memory gzip-compressed tar.
func TarGzArchive(t *testing.T, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, Mode: int64(e.Mode.Perm())}
		switch {
		case e.Link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Link
			hdr.Mode = 0o777
		case isDir(e.Name):
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
			if hdr.Mode == 0 {
				hdr.Mode = 0o644
			}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", e.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.Body)); err != nil {
				t.Fatalf("tar write %s: %v", e.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// GraphvizLikeZip mimics the layout of the portable Graphviz build:
// release/bin with a couple of executables plus a share directory.
func GraphvizLikeZip(t *testing.T) []byte {
	t.Helper()
	files := map[string]string{
		"release/bin/dot.exe":           "MZ dot",
		"release/bin/neato.exe":         "MZ neato",
		"release/share/graphviz/README": "graphviz",
		"release/lib/graphviz/config6":  "plugins",
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := []Entry{{Name: "release/"}, {Name: "release/bin/"}}
	for _, name := range names {
		entries = append(entries, Entry{Name: name, Body: files[name], Mode: 0o755})
	}
	return ZipArchive(t, entries...)
}

func isDir(name string) bool {
	return len(name) > 0 && name[len(name)-1] == '/'
}
