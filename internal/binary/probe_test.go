package binary

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{"graphviz", "dot - graphviz version 2.38.0 (20140413.2041)", "2.38.0", false},
		{"two components", "neato version 2.38", "2.38", false},
		{"multiline", "banner\nversion 12.1.2\n", "12.1.2", false},
		{"no version", "usage: dot [options]", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractVersion(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractVersion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

// probeManager returns a manager whose binaries directory holds a shell
// script named dot with the given body.
func probeManager(t *testing.T, script string) *Manager {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("probe scripts need a POSIX shell")
	}
	manifest := testManifest("https://example.com")
	manifest.Probe = []string{"dot", "-V"}
	mgr := newTestManager(t, t.TempDir(), manifest)

	require.NoError(t, os.MkdirAll(mgr.BinDir(), 0755))
	if script != "" {
		path := filepath.Join(mgr.BinDir(), "dot")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	}
	return mgr
}

func TestManagerProbe(t *testing.T) {
	mgr := probeManager(t, `echo "dot - graphviz version 2.38.0 (20140413.2041)" >&2`)

	res, err := mgr.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.38.0", res.Version)
	assert.Equal(t, []string{filepath.Join(mgr.BinDir(), "dot"), "-V"}, res.Command)
	assert.Contains(t, res.Output, "graphviz version")
}

func TestManagerProbeSeesSessionEnv(t *testing.T) {
	mgr := probeManager(t, `echo "$1 1.2.3 $GRAPHVIZ_BIN"; echo "$PATH" | grep -q "^$GRAPHVIZ_BIN"`)

	res, err := mgr.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "-V 1.2.3 "+mgr.BinDir(), res.Output)
}

func TestManagerProbeErrors(t *testing.T) {
	t.Run("no probe configured", func(t *testing.T) {
		mgr := newTestManager(t, t.TempDir(), testManifest("https://example.com"))
		_, err := mgr.Probe(context.Background())
		assert.ErrorIs(t, err, ErrNoProbe)
	})

	t.Run("binary missing", func(t *testing.T) {
		mgr := probeManager(t, "")
		_, err := mgr.Probe(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found in binaries directory")
	})

	t.Run("non-zero exit", func(t *testing.T) {
		mgr := probeManager(t, `echo "broken 2.38.0"; exit 3`)
		res, err := mgr.Probe(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "probe failed")
		require.NotNil(t, res)
		assert.Equal(t, "broken 2.38.0", res.Output)
	})

	t.Run("no version in output", func(t *testing.T) {
		mgr := probeManager(t, `echo "usage: dot"`)
		_, err := mgr.Probe(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no version")
	})
}
