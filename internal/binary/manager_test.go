package binary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/portable/internal/config"
	"github.com/ZebulonRouseFrantzich/portable/internal/testutil"
	"github.com/ZebulonRouseFrantzich/portable/internal/transaction"
)

// archiveServer serves body with the given content type and counts requests.
func archiveServer(t *testing.T, status int, contentType string, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func testManifest(url string) *config.Manifest {
	return &config.Manifest{
		Name:       "graphviz",
		URL:        url + "/graphviz-2.38.zip",
		Archive:    "archive.zip",
		InstallDir: "graphviz_portable",
		BinDir:     "release/bin",
		EnvVar:     "GRAPHVIZ_BIN",
		MinSize:    1,
	}
}

func newTestManager(t *testing.T, base string, manifest *config.Manifest) *Manager {
	t.Helper()
	mgr, err := NewManager(manifest, Options{Base: base})
	require.NoError(t, err)
	return mgr
}

// isolatePath keeps PATH changes made by Run inside the test.
func isolatePath(t *testing.T) {
	t.Helper()
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("GRAPHVIZ_BIN", "")
}

func requireStage(t *testing.T, err error, stage State) {
	t.Helper()
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, stage, stageErr.Stage)
}

func TestManagerRunHappyPath(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	server, _ := archiveServer(t, http.StatusOK, "application/zip", testutil.GraphvizLikeZip(t))
	mgr := newTestManager(t, base, testManifest(server.URL))

	res, err := mgr.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	target := filepath.Join(base, "graphviz_portable")
	binDir := filepath.Join(target, "release", "bin")
	assert.Equal(t, StatePathConfigured, res.State)
	assert.Equal(t, target, res.Target)
	assert.Equal(t, binDir, res.BinDir)
	assert.Equal(t, binDir, mgr.BinDir())
	assert.Equal(t, FormatZip, res.Format)
	assert.False(t, res.BinDirMissing)
	assert.Empty(t, res.Skipped)

	// Archive stays next to the extracted tree.
	assert.FileExists(t, filepath.Join(target, "archive.zip"))
	assert.FileExists(t, filepath.Join(binDir, "dot.exe"))
	assert.FileExists(t, filepath.Join(target, "release", "share", "graphviz", "README"))
	assert.NoFileExists(t, filepath.Join(target, transaction.LockFileName))

	require.NotNil(t, res.Fetch)
	assert.Positive(t, res.Fetch.Size)
	require.NotNil(t, res.Extract)
	assert.Equal(t, 4, res.Extract.Files)

	assert.True(t, strings.HasPrefix(os.Getenv("PATH"), binDir+string(os.PathListSeparator)))
	assert.Equal(t, binDir, os.Getenv("GRAPHVIZ_BIN"))

	journal, err := transaction.LoadJournal(target)
	require.NoError(t, err)
	assert.Equal(t, string(StatePathConfigured), journal.State)
	for _, s := range []State{StateDirReady, StateDownloaded, StateExtracted, StatePathConfigured} {
		assert.True(t, journal.Done(string(s)), "journal missing %s", s)
	}
}

func TestManagerRunFetchFailures(t *testing.T) {
	tests := []struct {
		name    string
		server  func(t *testing.T) string
		wantErr error
	}{
		{
			name: "network failure",
			server: func(t *testing.T) string {
				server := httptest.NewServer(http.NotFoundHandler())
				server.Close()
				return server.URL
			},
		},
		{
			name: "not found",
			server: func(t *testing.T) string {
				server, _ := archiveServer(t, http.StatusNotFound, "text/plain", []byte("missing"))
				return server.URL
			},
		},
		{
			name: "empty body",
			server: func(t *testing.T) string {
				server, _ := archiveServer(t, http.StatusOK, "application/zip", nil)
				return server.URL
			},
			wantErr: ErrInvalidArchive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolatePath(t)
			base := t.TempDir()
			mgr := newTestManager(t, base, testManifest(tt.server(t)))

			res, err := mgr.Run(context.Background(), RunOptions{})
			require.Error(t, err)
			requireStage(t, err, StateDownloaded)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			assert.Equal(t, StateFatal, res.State)
			assert.Nil(t, res.Extract, "extraction must not run after a failed fetch")
			assert.NoDirExists(t, filepath.Join(base, "graphviz_portable", "release"))
			assert.Equal(t, "/usr/bin", os.Getenv("PATH"))
		})
	}
}

func TestManagerRunRejectsHTMLResponse(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	page := []byte("<!DOCTYPE html><html><body>The download has moved</body></html>")
	server, _ := archiveServer(t, http.StatusOK, "text/html; charset=utf-8", page)
	mgr := newTestManager(t, base, testManifest(server.URL))

	_, err := mgr.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	requireStage(t, err, StateDownloaded)
	assert.ErrorIs(t, err, ErrInvalidArchive)
	assert.Contains(t, err.Error(), "text/html")

	// The invalid artifact is kept for inspection.
	assert.FileExists(t, mgr.ArchivePath())
	assert.NoDirExists(t, filepath.Join(base, "graphviz_portable", "release"))
}

func TestManagerRunRemovesStaleArchiveBeforeFetch(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	target := filepath.Join(base, "graphviz_portable")
	require.NoError(t, os.MkdirAll(target, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "archive.zip"), testutil.GraphvizLikeZip(t), 0644))

	server, _ := archiveServer(t, http.StatusInternalServerError, "", nil)
	mgr := newTestManager(t, base, testManifest(server.URL))

	_, err := mgr.Run(context.Background(), RunOptions{})
	requireStage(t, err, StateDownloaded)
	assert.NoFileExists(t, filepath.Join(target, "archive.zip"))
	assert.NoDirExists(t, filepath.Join(target, "release"))
}

func TestManagerRunCorruptArchive(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	server, _ := archiveServer(t, http.StatusOK, "application/zip", []byte("PK\x03\x04 this is not really a zip file"))
	mgr := newTestManager(t, base, testManifest(server.URL))

	res, err := mgr.Run(context.Background(), RunOptions{})
	requireStage(t, err, StateExtracted)
	assert.ErrorIs(t, err, ErrInvalidArchive)
	assert.Equal(t, StateFatal, res.State)
	assert.NotNil(t, res.Fetch)
	assert.Equal(t, "/usr/bin", os.Getenv("PATH"))

	journal, err := transaction.LoadJournal(filepath.Join(base, "graphviz_portable"))
	require.NoError(t, err)
	assert.True(t, journal.Done(string(StateDownloaded)))
	assert.False(t, journal.Done(string(StateExtracted)))
	assert.NotEmpty(t, journal.LastError)
}

func TestManagerRunTargetDirectoryFailure(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "graphviz_portable"), []byte("in the way"), 0644))

	server, calls := archiveServer(t, http.StatusOK, "application/zip", testutil.GraphvizLikeZip(t))
	mgr := newTestManager(t, base, testManifest(server.URL))

	res, err := mgr.Run(context.Background(), RunOptions{})
	requireStage(t, err, StateDirReady)
	assert.Equal(t, StateFatal, res.State)
	assert.Zero(t, calls.Load(), "no network I/O before the target directory exists")
}

func TestManagerRunIdempotentTarget(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	server, calls := archiveServer(t, http.StatusOK, "application/zip", testutil.GraphvizLikeZip(t))
	mgr := newTestManager(t, base, testManifest(server.URL))

	_, err := mgr.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	res, err := mgr.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatePathConfigured, res.State)
	assert.Equal(t, int32(2), calls.Load(), "without resume every run downloads")
	assert.Equal(t, 1, strings.Count(os.Getenv("PATH"), res.BinDir))
}

func TestManagerRunResume(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	server, calls := archiveServer(t, http.StatusOK, "application/zip", testutil.GraphvizLikeZip(t))
	mgr := newTestManager(t, base, testManifest(server.URL))

	_, err := mgr.Run(context.Background(), RunOptions{Resume: true})
	require.NoError(t, err)

	res, err := mgr.Run(context.Background(), RunOptions{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []State{StateDownloaded, StateExtracted}, res.Skipped)
	assert.Nil(t, res.Fetch)
	assert.Nil(t, res.Extract)
	assert.Equal(t, StatePathConfigured, res.State)
}

func TestManagerRunResumeReextractsMissingTree(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	server, calls := archiveServer(t, http.StatusOK, "application/zip", testutil.GraphvizLikeZip(t))
	mgr := newTestManager(t, base, testManifest(server.URL))

	_, err := mgr.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(mgr.Target(), "release")))

	res, err := mgr.Run(context.Background(), RunOptions{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []State{StateDownloaded}, res.Skipped)
	assert.DirExists(t, mgr.BinDir())
}

func TestManagerRunResumeRefetchesForDifferentURL(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	zipData := testutil.GraphvizLikeZip(t)
	first, firstCalls := archiveServer(t, http.StatusOK, "application/zip", zipData)
	second, secondCalls := archiveServer(t, http.StatusOK, "application/zip", zipData)

	_, err := newTestManager(t, base, testManifest(first.URL)).Run(context.Background(), RunOptions{Resume: true})
	require.NoError(t, err)

	res, err := newTestManager(t, base, testManifest(second.URL)).Run(context.Background(), RunOptions{Resume: true})
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, int32(1), firstCalls.Load())
	assert.Equal(t, int32(1), secondCalls.Load())
}

func TestManagerRunLockHeld(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	server, calls := archiveServer(t, http.StatusOK, "application/zip", testutil.GraphvizLikeZip(t))
	mgr := newTestManager(t, base, testManifest(server.URL))

	lock, err := transaction.AcquireLock(context.Background(), mgr.Target())
	require.NoError(t, err)
	defer lock.Release()

	_, err = mgr.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, transaction.ErrLockExists))
	requireStage(t, err, StateDirReady)
	assert.Zero(t, calls.Load())
}

func TestManagerRunMissingBinDir(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	data := testutil.ZipArchive(t, testutil.Entry{Name: "other/readme.txt", Body: "no binaries here"})
	server, _ := archiveServer(t, http.StatusOK, "application/zip", data)
	mgr := newTestManager(t, base, testManifest(server.URL))

	res, err := mgr.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.BinDirMissing)
	assert.Equal(t, StatePathConfigured, res.State)
	assert.True(t, strings.HasPrefix(os.Getenv("PATH"), mgr.BinDir()))
}

func TestManagerRunIgnoresTargetInWorkTree(t *testing.T) {
	isolatePath(t)
	server, _ := archiveServer(t, http.StatusOK, "application/zip", testutil.GraphvizLikeZip(t))

	t.Run("inside a repository", func(t *testing.T) {
		base := t.TempDir()
		_, err := gogit.PlainInit(base, false)
		require.NoError(t, err)

		mgr := newTestManager(t, base, testManifest(server.URL))
		_, err = mgr.Run(context.Background(), RunOptions{})
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(mgr.Target(), ".gitignore"))
	})

	t.Run("outside a repository", func(t *testing.T) {
		base := t.TempDir()
		mgr := newTestManager(t, base, testManifest(server.URL))
		_, err := mgr.Run(context.Background(), RunOptions{})
		require.NoError(t, err)
		assert.NoFileExists(t, filepath.Join(mgr.Target(), ".gitignore"))
	})
}

func TestManagerRunSkipPathConfig(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	server, _ := archiveServer(t, http.StatusOK, "application/zip", testutil.GraphvizLikeZip(t))
	mgr := newTestManager(t, base, testManifest(server.URL))

	res, err := mgr.Run(context.Background(), RunOptions{SkipPathConfig: true})
	require.NoError(t, err)
	assert.Equal(t, StateExtracted, res.State)
	assert.Equal(t, "/usr/bin", os.Getenv("PATH"))
}

func TestManagerRunTarGz(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	data := testutil.TarGzArchive(t,
		testutil.Entry{Name: "release/bin/dot", Body: "#!/bin/sh\necho dot", Mode: 0755},
	)
	server, _ := archiveServer(t, http.StatusOK, "application/gzip", data)
	manifest := testManifest(server.URL)
	manifest.URL = server.URL + "/graphviz.tar.gz"
	manifest.Archive = ""

	mgr := newTestManager(t, base, manifest)
	assert.Equal(t, filepath.Join(mgr.Target(), "archive.tar.gz"), mgr.ArchivePath())

	res, err := mgr.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, FormatTarGz, res.Format)
	assert.FileExists(t, filepath.Join(mgr.BinDir(), "dot"))
}

func TestManagerRunCancelled(t *testing.T) {
	isolatePath(t)
	base := t.TempDir()
	server, _ := archiveServer(t, http.StatusOK, "application/zip", testutil.GraphvizLikeZip(t))
	mgr := newTestManager(t, base, testManifest(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.Run(ctx, RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewManager(t *testing.T) {
	t.Run("nil manifest", func(t *testing.T) {
		_, err := NewManager(nil, Options{})
		assert.Error(t, err)
	})

	t.Run("invalid manifest", func(t *testing.T) {
		_, err := NewManager(&config.Manifest{URL: "ftp://example.com/a.zip"}, Options{})
		assert.Error(t, err)
	})

	t.Run("escaping install dir", func(t *testing.T) {
		manifest := testManifest("https://example.com")
		manifest.InstallDir = "../elsewhere"
		_, err := NewManager(manifest, Options{Base: t.TempDir()})
		assert.Error(t, err)
	})

	t.Run("paths without side effects", func(t *testing.T) {
		base := t.TempDir()
		mgr, err := NewManager(testManifest("https://example.com"), Options{Base: base})
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(base, "graphviz_portable"), mgr.Target())
		assert.Equal(t, filepath.Join(base, "graphviz_portable", "archive.zip"), mgr.ArchivePath())
		assert.Equal(t, map[string]string{"GRAPHVIZ_BIN": mgr.BinDir()}, mgr.ExtraEnv())
		assert.NoDirExists(t, mgr.Target())
	})

	t.Run("caller manifest is not modified", func(t *testing.T) {
		manifest := testManifest("https://example.com")
		manifest.Archive = ""
		_, err := NewManager(manifest, Options{Base: t.TempDir()})
		require.NoError(t, err)
		assert.Empty(t, manifest.Archive)
	})

	t.Run("probe is copied", func(t *testing.T) {
		manifest := testManifest("https://example.com")
		manifest.Probe = []string{"dot", "-V"}
		mgr, err := NewManager(manifest, Options{Base: t.TempDir()})
		require.NoError(t, err)
		manifest.Probe[0] = "neato"
		assert.Equal(t, []string{"dot", "-V"}, mgr.Manifest().Probe)
	})
}
