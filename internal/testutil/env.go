// Package testutil provides isolation helpers and archive fixtures for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// settingsEnv lists every PORTABLE_* variable Settings reads.
var settingsEnv = []string{
	"PORTABLE_ROOT",
	"PORTABLE_MANIFEST",
	"PORTABLE_URL",
	"PORTABLE_RESUME",
	"PORTABLE_RETRIES",
	"PORTABLE_TIMEOUT",
	"PORTABLE_NO_PAUSE",
	"PORTABLE_LOG_LEVEL",
	"PORTABLE_LOG_JSON",
}

// SetupTestEnv gives the test an empty invocation root, clears inherited
// PORTABLE_* settings, and pins PATH to a known value so prepends are easy
// to assert. It returns the root. Cleanup is handled by t.TempDir and
// t.Setenv.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	for _, key := range settingsEnv {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("PORTABLE_ROOT", root)
	t.Setenv("PORTABLE_NO_PAUSE", "true")

	sysBin := filepath.Join(root, "sysbin")
	if err := os.MkdirAll(sysBin, 0o750); err != nil {
		t.Fatalf("failed to create test directory %s: %v", sysBin, err)
	}
	t.Setenv("PATH", sysBin)

	return root
}
