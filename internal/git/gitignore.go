package git

import (
	"fmt"
	"os"
	"path/filepath"
)

// IgnoreFileName is the per-directory ignore file.
const IgnoreFileName = ".gitignore"

// ignoreAllTemplate ignores the directory it sits in, itself included, so
// nothing a run downloads or extracts shows up as untracked.
const ignoreAllTemplate = `# Created by portable. Everything in this directory is downloaded
# and can be recreated with "portable install".
*
`

// EnsureIgnoreAll writes an ignore-everything .gitignore into dir. An
// existing .gitignore is left alone. It reports whether a file was written.
func EnsureIgnoreAll(dir string) (bool, error) {
	path := filepath.Join(dir, IgnoreFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", IgnoreFileName, err)
	}
	if _, err := f.WriteString(ignoreAllTemplate); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", IgnoreFileName, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", IgnoreFileName, err)
	}
	return true, nil
}
