package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/ZebulonRouseFrantzich/portable/internal/binary"
	"github.com/ZebulonRouseFrantzich/portable/internal/config"
	"github.com/ZebulonRouseFrantzich/portable/internal/transaction"
)

// ExitCode is the process exit status.
type ExitCode int

const (
	// ExitOK means every stage completed.
	ExitOK ExitCode = 0
	// ExitFetchFailed means no usable archive was downloaded. Errors that
	// carry no stage exit with it too.
	ExitFetchFailed ExitCode = 1
	// ExitExtractFailed means the archive could not be unpacked.
	ExitExtractFailed ExitCode = 2
	// ExitTargetDirFailed means the target directory could not be created.
	ExitTargetDirFailed ExitCode = 3
	// ExitConfigError covers bad flags, settings and manifests.
	ExitConfigError ExitCode = 4
	// ExitLocked means another run holds the target directory.
	ExitLocked ExitCode = 5
	// ExitPathFailed means the environment of this process could not be
	// updated.
	ExitPathFailed ExitCode = 6
)

// configError marks usage and configuration failures.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// childExitError carries the exit status of a command started by exec.
type childExitError struct {
	code int
}

func (e *childExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.code)
}

// exitCodeFor maps an error to the process exit code.
func exitCodeFor(err error) ExitCode {
	if err == nil {
		return ExitOK
	}

	var child *childExitError
	if errors.As(err, &child) {
		return ExitCode(child.code)
	}
	if errors.Is(err, transaction.ErrLockExists) {
		return ExitLocked
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}

	var stageErr *binary.StageError
	if errors.As(err, &stageErr) {
		switch stageErr.Stage {
		case binary.StateDirReady:
			return ExitTargetDirFailed
		case binary.StateExtracted:
			return ExitExtractFailed
		case binary.StatePathConfigured:
			return ExitPathFailed
		default:
			return ExitFetchFailed
		}
	}
	return ExitFetchFailed
}

// printError writes "Error: <msg>" with the prefix in red on terminals.
func printError(w io.Writer, err error) {
	var child *childExitError
	if errors.As(err, &child) {
		// The child already reported its own failure.
		return
	}

	prefix := color.New(color.FgRed, color.Bold)
	if !config.IsTerminal(w) {
		prefix.DisableColor()
	}
	fmt.Fprintf(w, "%s %v\n", prefix.Sprint("Error:"), err)
}

// shouldPause reports whether to wait for Enter after a failed download.
// Both stdin and stderr must be terminals.
func (a *app) shouldPause(err error) bool {
	var stageErr *binary.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != binary.StateDownloaded {
		return false
	}
	if a.settings == nil || a.settings.NoPause {
		return false
	}
	in, ok := a.stdin.(*os.File)
	if !ok || !(isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd())) {
		return false
	}
	return config.IsTerminal(a.stderr)
}

func (a *app) pause() {
	fmt.Fprint(a.stderr, "Press Enter to exit...")
	bufio.NewReader(a.stdin).ReadString('\n')
}
