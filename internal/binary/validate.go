package binary

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/m-mizutani/goerr/v2"
)

var (
	zipLocalHeader = []byte{'P', 'K', 0x03, 0x04}
	zipEmptyEnd    = []byte{'P', 'K', 0x05, 0x06}
	gzipMagic      = []byte{0x1f, 0x8b}
)

// DetectFormat reads the leading bytes of path and reports its archive
// format, or FormatUnknown.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	header := make([]byte, 4)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, err
	}
	return formatOf(header[:n]), nil
}

func formatOf(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, zipLocalHeader), bytes.HasPrefix(header, zipEmptyEnd):
		return FormatZip
	case bytes.HasPrefix(header, gzipMagic):
		return FormatTarGz
	default:
		return FormatUnknown
	}
}

// Validate checks that path holds an archive of at least minSize bytes.
// A missing file is ErrFetchFailed; anything else wrong is
// ErrInvalidArchive. The file is never removed.
func Validate(path string, minSize int64) (Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FormatUnknown, goerr.Wrap(ErrFetchFailed, "archive not found after download", goerr.V("path", path))
		}
		return FormatUnknown, goerr.Wrap(err, "stat archive", goerr.V("path", path))
	}
	if !info.Mode().IsRegular() {
		return FormatUnknown, goerr.Wrap(ErrInvalidArchive, "archive is not a regular file", goerr.V("path", path))
	}
	if minSize < 1 {
		minSize = 1
	}
	if info.Size() < minSize {
		return FormatUnknown, goerr.Wrap(ErrInvalidArchive,
			fmt.Sprintf("archive is %s, expected at least %s",
				humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(minSize))),
			goerr.V("path", path),
			goerr.V("size", info.Size()))
	}

	format, err := DetectFormat(path)
	if err != nil {
		return FormatUnknown, goerr.Wrap(err, "read archive header", goerr.V("path", path))
	}
	if format == FormatUnknown {
		msg := "unrecognized archive format"
		if looksLikeHTML(path) {
			msg = "downloaded file is an HTML page, not an archive"
		}
		return FormatUnknown, goerr.Wrap(ErrInvalidArchive, msg, goerr.V("path", path))
	}
	return format, nil
}

func looksLikeHTML(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	head = bytes.ToLower(bytes.TrimSpace(head[:n]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
