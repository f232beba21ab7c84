package binary

import (
	"errors"
	"fmt"
	"time"
)

// State is a provisioning stage.
type State string

const (
	StateStart          State = "START"
	StateDirReady       State = "DIR_READY"
	StateDownloaded     State = "DOWNLOADED"
	StateExtracted      State = "EXTRACTED"
	StatePathConfigured State = "PATH_CONFIGURED"
	StateFatal          State = "FATAL"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

var (
	// ErrFetchFailed means no archive materialized at the expected path.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrInvalidArchive means the downloaded file is not a usable archive.
	ErrInvalidArchive = errors.New("invalid archive")
	// ErrUnsafePath means an archive entry would be written outside the
	// destination directory.
	ErrUnsafePath = errors.New("unsafe path in archive")
)

// StageError reports the stage that aborted a run.
type StageError struct {
	// Stage is the stage that was being entered when the run failed.
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Format is an archive container format.
type Format string

const (
	FormatUnknown Format = ""
	FormatZip     Format = "zip"
	FormatTarGz   Format = "tar.gz"
)

// FetchResult describes a completed download.
type FetchResult struct {
	URL         string
	FinalURL    string
	Path        string
	Size        int64
	StatusCode  int
	ContentType string
	Attempts    int
	Duration    time.Duration
}

// ExtractResult summarizes an extraction.
type ExtractResult struct {
	Format Format
	Files  int
	Dirs   int
	Links  int
	Bytes  int64
}

// RunOptions controls a single Manager.Run.
type RunOptions struct {
	// Resume skips stages the journal records as completed when their
	// outputs are still on disk.
	Resume bool
	// SkipPathConfig stops after extraction without touching the
	// environment.
	SkipPathConfig bool
}

// Result is the outcome of Manager.Run.
type Result struct {
	Target  string
	Archive string
	BinDir  string
	State   State
	Format  Format
	Fetch   *FetchResult
	Extract *ExtractResult
	// Skipped lists stages satisfied by an earlier run.
	Skipped []State
	// BinDirMissing is set when the binaries directory did not exist after
	// extraction. PATH is configured regardless.
	BinDirMissing bool
}
