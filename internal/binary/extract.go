package binary

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Extractor unpacks zip and tar.gz archives with overwrite semantics:
// entries replace whatever sits at their path, other files are left alone.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates a new extractor
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{logger: logger}
}

// Extract unpacks archivePath into destDir. The format is taken from the
// file's magic bytes, not its name. There is no rollback: on error the
// entries written so far stay on disk.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) (*ExtractResult, error) {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return nil, goerr.Wrap(err, "open archive", goerr.V("path", archivePath))
	}

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, goerr.Wrap(err, "resolve destination", goerr.V("dest", destDir))
	}
	if err := os.MkdirAll(absDest, 0755); err != nil {
		return nil, goerr.Wrap(err, "create destination", goerr.V("dest", absDest))
	}

	res := &ExtractResult{Format: format}
	switch format {
	case FormatZip:
		err = e.extractZip(ctx, archivePath, absDest, res)
	case FormatTarGz:
		err = e.extractTarGz(ctx, archivePath, absDest, res)
	default:
		err = goerr.Wrap(ErrInvalidArchive, "unsupported archive format", goerr.V("path", archivePath))
	}
	if err != nil {
		return res, err
	}

	e.logger.Debug("extraction complete",
		"format", format,
		"files", res.Files,
		"dirs", res.Dirs,
		"links", res.Links)
	return res, nil
}

func (e *Extractor) extractZip(ctx context.Context, archivePath, destDir string, res *ExtractResult) error {
	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return goerr.Wrap(ErrUnsafePath, "zip contains non-local paths", goerr.V("path", archivePath))
	}
	if err != nil {
		return goerr.Wrap(ErrInvalidArchive, "read zip: "+err.Error(), goerr.V("path", archivePath))
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return goerr.Wrap(err, "extraction cancelled")
		}

		// Some Windows tools write backslash separators.
		name := strings.ReplaceAll(f.Name, `\`, "/")
		target, err := safeJoin(destDir, name)
		if err != nil {
			return err
		}
		if target == destDir {
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := ensureDir(target); err != nil {
				return err
			}
			res.Dirs++

		case mode&fs.ModeSymlink != 0:
			link, err := readZipLink(f)
			if err != nil {
				return err
			}
			if err := writeSymlink(destDir, target, link); err != nil {
				return err
			}
			res.Links++

		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return goerr.Wrap(ErrInvalidArchive, "open zip entry: "+err.Error(), goerr.V("entry", f.Name))
			}
			n, err := writeFile(target, rc, mode.Perm())
			rc.Close()
			if err != nil {
				return goerr.Wrap(err, "extract entry", goerr.V("entry", f.Name))
			}
			res.Files++
			res.Bytes += n

		default:
			e.logger.Debug("skipping special zip entry", "entry", f.Name)
		}
	}
	return nil
}

func readZipLink(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", goerr.Wrap(ErrInvalidArchive, "open zip symlink: "+err.Error(), goerr.V("entry", f.Name))
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", goerr.Wrap(ErrInvalidArchive, "read zip symlink: "+err.Error(), goerr.V("entry", f.Name))
	}
	return string(data), nil
}

func (e *Extractor) extractTarGz(ctx context.Context, archivePath, destDir string, res *ExtractResult) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return goerr.Wrap(err, "open archive", goerr.V("path", archivePath))
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return goerr.Wrap(ErrInvalidArchive, "read gzip: "+err.Error(), goerr.V("path", archivePath))
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		if err := ctx.Err(); err != nil {
			return goerr.Wrap(err, "extraction cancelled")
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return goerr.Wrap(ErrUnsafePath, "non-local entry path", goerr.V("entry", header.Name))
		}
		if err != nil {
			return goerr.Wrap(ErrInvalidArchive, "read tar header: "+err.Error(), goerr.V("path", archivePath))
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}
		if target == destDir {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := ensureDir(target); err != nil {
				return err
			}
			res.Dirs++

		case tar.TypeReg:
			n, err := writeFile(target, tarReader, fs.FileMode(header.Mode).Perm())
			if err != nil {
				return goerr.Wrap(err, "extract entry", goerr.V("entry", header.Name))
			}
			res.Files++
			res.Bytes += n

		case tar.TypeSymlink:
			if err := writeSymlink(destDir, target, header.Linkname); err != nil {
				return err
			}
			res.Links++

		default:
			// Hard links, devices and FIFOs are not needed by tool archives.
			e.logger.Debug("skipping special tar entry",
				"entry", header.Name,
				"type", header.Typeflag)
		}
	}
}

// maxLinkHops bounds symlink resolution inside the destination.
const maxLinkHops = 40

// safeJoin resolves an archive entry name under destDir, rejecting names
// that would escape it. Symlinks already on disk in the entry's parent path
// are followed, so the returned path has a real directory as its parent and
// only its last element may be a link.
func safeJoin(destDir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" || strings.HasPrefix(name, "/") {
		return "", goerr.Wrap(ErrUnsafePath, "absolute entry path", goerr.V("entry", name))
	}
	target := filepath.Join(destDir, clean)
	if !within(destDir, target) {
		return "", goerr.Wrap(ErrUnsafePath, "entry escapes destination", goerr.V("entry", name))
	}
	if target == destDir {
		return target, nil
	}

	parent, err := resolveInside(destDir, destDir, filepath.Dir(clean))
	if err != nil {
		return "", goerr.Wrap(err, "entry parent escapes destination", goerr.V("entry", name))
	}
	return filepath.Join(parent, filepath.Base(clean)), nil
}

// resolveInside walks rel from start one element at a time, following
// symlinks found on disk, and fails as soon as a step leaves root. Missing
// elements are taken literally.
func resolveInside(root, start, rel string) (string, error) {
	cur := start
	pending := strings.Split(filepath.ToSlash(rel), "/")
	hops := 0
	for len(pending) > 0 {
		part := pending[0]
		pending = pending[1:]

		switch part {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
		default:
			next := filepath.Join(cur, part)
			info, err := os.Lstat(next)
			if err != nil || info.Mode()&fs.ModeSymlink == 0 {
				cur = next
				break
			}
			if hops++; hops > maxLinkHops {
				return "", goerr.Wrap(ErrUnsafePath, "too many levels of symlinks", goerr.V("path", next))
			}
			link, err := os.Readlink(next)
			if err != nil {
				return "", goerr.Wrap(err, "read symlink", goerr.V("path", next))
			}
			if filepath.IsAbs(link) {
				return "", goerr.Wrap(ErrUnsafePath, "absolute symlink in path", goerr.V("path", next))
			}
			pending = append(strings.Split(filepath.ToSlash(link), "/"), pending...)
		}

		if !within(root, cur) {
			return "", goerr.Wrap(ErrUnsafePath, "path leaves destination", goerr.V("path", cur))
		}
	}
	return cur, nil
}

// ensureDir creates dir, replacing a file or symlink that sits in its way.
func ensureDir(dir string) error {
	if info, err := os.Lstat(dir); err == nil && !info.IsDir() {
		if err := os.Remove(dir); err != nil {
			return goerr.Wrap(err, "replace non-directory", goerr.V("path", dir))
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return goerr.Wrap(err, "create directory", goerr.V("path", dir))
	}
	return nil
}

// writeFile writes r to target, truncating an existing regular file and
// replacing an existing symlink instead of writing through it.
func writeFile(target string, r io.Reader, perm fs.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, goerr.Wrap(err, "create parent directory", goerr.V("path", target))
	}
	if info, err := os.Lstat(target); err == nil {
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			if err := os.Remove(target); err != nil {
				return 0, goerr.Wrap(err, "replace symlink", goerr.V("path", target))
			}
		case info.IsDir():
			return 0, goerr.New("a directory exists at the file path", goerr.V("path", target))
		}
	}
	if perm == 0 {
		perm = 0644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, goerr.Wrap(err, "create file", goerr.V("path", target))
	}
	n, err := io.Copy(out, r)
	if err != nil {
		out.Close()
		return n, goerr.Wrap(ErrInvalidArchive, "write file: "+err.Error(), goerr.V("path", target))
	}
	if err := out.Close(); err != nil {
		return n, goerr.Wrap(err, "close file", goerr.V("path", target))
	}
	// OpenFile keeps the mode of a file that already existed.
	if err := os.Chmod(target, perm); err != nil {
		return n, goerr.Wrap(err, "set file mode", goerr.V("path", target))
	}
	return n, nil
}

// writeSymlink creates target pointing at link, replacing whatever is
// there. Links that resolve outside root are rejected, including through
// links written earlier.
func writeSymlink(root, target, link string) error {
	if link == "" || filepath.IsAbs(link) {
		return goerr.Wrap(ErrUnsafePath, "symlink points outside destination",
			goerr.V("path", target), goerr.V("link", link))
	}
	if _, err := resolveInside(root, filepath.Dir(target), link); err != nil {
		return goerr.Wrap(err, "symlink points outside destination",
			goerr.V("path", target), goerr.V("link", link))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return goerr.Wrap(err, "create parent directory", goerr.V("path", target))
	}
	if info, err := os.Lstat(target); err == nil {
		if info.IsDir() {
			return goerr.New("a directory exists at the symlink path", goerr.V("path", target))
		}
		if err := os.Remove(target); err != nil {
			return goerr.Wrap(err, "replace existing entry", goerr.V("path", target))
		}
	}
	if err := os.Symlink(link, target); err != nil {
		return goerr.Wrap(err, "create symlink", goerr.V("path", target))
	}
	return nil
}
