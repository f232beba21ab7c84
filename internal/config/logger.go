package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/clog"
	"github.com/mattn/go-isatty"
)

// ParseLevel maps debug|info|warn|error (any case) to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q (debug, info, warn, error)", ErrInvalidLevel, level)
	}
}

// NewLogger builds the process logger. Text output goes through clog and is
// colored only when w is a terminal.
func NewLogger(s LogSettings, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}

	if s.JSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	}

	handler := clog.New(
		clog.WithWriter(w),
		clog.WithLevel(level),
		clog.WithColor(IsTerminal(w)),
	)
	return slog.New(handler), nil
}

// IsTerminal reports whether w is a terminal (including Cygwin/MSYS ptys).
func IsTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
