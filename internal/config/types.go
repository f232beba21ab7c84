// Package config loads the two inputs of a provisioning run: the
// distribution manifest (a sandboxed Lua file describing what to fetch and
// where its executables live) and the runtime settings (flags, PORTABLE_*
// environment variables and an optional settings file, via viper).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Manifest describes one binary distribution.
type Manifest struct {
	// Name is informational ("graphviz").
	Name string
	// URL is the archive location. http and https only.
	URL string
	// Archive is the file name the download is stored under inside the
	// install directory.
	Archive string
	// InstallDir is the target directory, relative to the invocation root.
	InstallDir string
	// BinDir is the executables directory, relative to InstallDir.
	BinDir string
	// EnvVar, when set, is exported alongside PATH and points at BinDir.
	EnvVar string
	// MinSize is the smallest archive, in bytes, accepted as a real download.
	MinSize int64
	// Probe is an optional command, resolved in BinDir, whose output names
	// the installed version (e.g. {"dot", "-V"}).
	Probe []string
}

var envVarPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the manifest and fills defaults for optional fields.
func (m *Manifest) Validate() error {
	if m.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(m.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q (http or https only)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", m.URL)
	}

	if m.Archive == "" {
		m.Archive = "archive" + archiveExt(u.Path)
	}
	if m.Archive != filepath.Base(m.Archive) || m.Archive == "." || m.Archive == ".." {
		return fmt.Errorf("archive must be a plain file name, got %q", m.Archive)
	}

	if m.InstallDir == "" {
		return errors.New("install_dir is required")
	}
	if err := validateRelative("install_dir", m.InstallDir); err != nil {
		return err
	}
	if m.BinDir == "" {
		return errors.New("bin_dir is required")
	}
	if err := validateRelative("bin_dir", m.BinDir); err != nil {
		return err
	}

	if m.EnvVar != "" && !envVarPattern.MatchString(m.EnvVar) {
		return fmt.Errorf("env_var %q is not a valid variable name", m.EnvVar)
	}

	if m.MinSize < 0 {
		return fmt.Errorf("min_size must not be negative, got %d", m.MinSize)
	}
	if m.MinSize == 0 {
		m.MinSize = 1
	}

	if len(m.Probe) > 0 {
		name := m.Probe[0]
		if name == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("probe command must be a plain executable name, got %q", name)
		}
	}

	return nil
}

// validateRelative rejects absolute paths and paths that climb out of their
// parent.
func validateRelative(field, p string) error {
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return fmt.Errorf("%s must be relative, got %q", field, p)
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s must stay inside its parent, got %q", field, p)
	}
	return nil
}

// archiveExt keeps the compound extension of the remote file so the stored
// artifact is recognisable on disk.
func archiveExt(p string) string {
	base := strings.ToLower(filepath.Base(p))
	for _, ext := range []string{".tar.gz", ".tgz", ".zip"} {
		if strings.HasSuffix(base, ext) {
			return ext
		}
	}
	return ".zip"
}
