package binary

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ResolveTarget returns the absolute path of name under base, creating it
// if needed. An existing directory is success. name must stay inside base.
func ResolveTarget(base, name string) (string, error) {
	target, err := targetPath(base, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return "", goerr.Wrap(err, "create target directory", goerr.V("path", target))
	}
	return target, nil
}

// targetPath computes the target directory without touching the filesystem.
func targetPath(base, name string) (string, error) {
	if name == "" {
		return "", goerr.New("target directory name is empty")
	}
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", goerr.Wrap(ErrUnsafePath, "target directory must be relative", goerr.V("name", name))
	}
	clean := filepath.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", goerr.Wrap(ErrUnsafePath, "target directory escapes base", goerr.V("name", name))
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", goerr.Wrap(err, "resolve base directory", goerr.V("base", base))
	}
	return filepath.Join(absBase, clean), nil
}
