package binary

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/m-mizutani/goerr/v2"

	"github.com/ZebulonRouseFrantzich/portable/internal/config"
	"github.com/ZebulonRouseFrantzich/portable/internal/git"
	"github.com/ZebulonRouseFrantzich/portable/internal/shell"
	"github.com/ZebulonRouseFrantzich/portable/internal/transaction"
)

// Manager provisions one manifest into a target directory under Base.
type Manager struct {
	manifest    config.Manifest
	base        string
	target      string
	archivePath string
	binDir      string
	downloader  *Downloader
	extractor   *Extractor
	logger      *slog.Logger
	clock       transaction.Clock
}

// Options holds the collaborators of a Manager. Zero values get defaults.
type Options struct {
	// Base is the invocation root the target directory is created under
	// (default: current working directory).
	Base       string
	Downloader *Downloader
	Extractor  *Extractor
	Logger     *slog.Logger
	Clock      transaction.Clock
}

// NewManager creates a new manager for manifest. The manifest is validated
// and copied; no filesystem changes happen until Run.
func NewManager(manifest *config.Manifest, opts Options) (*Manager, error) {
	if manifest == nil {
		return nil, goerr.New("manifest is required")
	}
	m := *manifest
	m.Probe = slices.Clone(manifest.Probe)
	if err := m.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid manifest")
	}

	target, err := targetPath(opts.Base, m.InstallDir)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	downloader := opts.Downloader
	if downloader == nil {
		downloader = NewDownloader(WithLogger(logger))
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = NewExtractor(logger)
	}
	clock := opts.Clock
	if clock == nil {
		clock = transaction.RealClock{}
	}

	return &Manager{
		manifest:    m,
		base:        opts.Base,
		target:      target,
		archivePath: filepath.Join(target, m.Archive),
		binDir:      filepath.Join(target, filepath.FromSlash(m.BinDir)),
		downloader:  downloader,
		extractor:   extractor,
		logger:      logger,
		clock:       clock,
	}, nil
}

// Target returns the absolute target directory.
func (m *Manager) Target() string { return m.target }

// ArchivePath returns where the downloaded archive is stored.
func (m *Manager) ArchivePath() string { return m.archivePath }

// BinDir returns the directory that is prepended to PATH.
func (m *Manager) BinDir() string { return m.binDir }

// Manifest returns the validated manifest.
func (m *Manager) Manifest() config.Manifest { return m.manifest }

// ExtraEnv returns the variables exported alongside PATH.
func (m *Manager) ExtraEnv() map[string]string {
	if m.manifest.EnvVar == "" {
		return nil
	}
	return map[string]string{m.manifest.EnvVar: m.binDir}
}

// Run provisions the distribution. On failure the returned Result carries
// State FATAL together with whatever stages completed, and the error is a
// *StageError naming the stage that failed.
func (m *Manager) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	res := &Result{
		Target:  m.target,
		Archive: m.archivePath,
		BinDir:  m.binDir,
		State:   StateStart,
	}
	m.logger.Info("provisioning", "name", m.manifest.Name, "target", m.target)

	// DIR_READY
	if _, err := ResolveTarget(m.base, m.manifest.InstallDir); err != nil {
		res.State = StateFatal
		return res, &StageError{Stage: StateDirReady, Err: err}
	}

	lock, err := transaction.AcquireLock(ctx, m.target)
	if err != nil {
		res.State = StateFatal
		return res, &StageError{Stage: StateDirReady, Err: err}
	}
	defer func() {
		lockPath := lock.Path()
		if err := lock.Release(); err != nil {
			m.logger.Warn("failed to release lock", "path", lockPath, "error", err)
		}
	}()

	m.ignoreInWorkTree(ctx)

	journal := m.openJournal(opts.Resume)
	res.State = StateDirReady
	m.mark(journal, StateDirReady)

	// DOWNLOADED
	format, skipped := m.resumeDownload(journal, opts.Resume)
	if skipped {
		res.Skipped = append(res.Skipped, StateDownloaded)
		m.logger.Info("archive already downloaded", "path", m.archivePath)
	} else {
		journal.Forget(string(StateDownloaded), string(StateExtracted), string(StatePathConfigured))
		fetch, f, err := m.fetch(ctx)
		res.Fetch = fetch
		if err != nil {
			return res, m.fail(res, journal, StateDownloaded, err)
		}
		format = f
	}
	res.Format = format
	res.State = StateDownloaded
	m.mark(journal, StateDownloaded)

	// EXTRACTED
	if skipped && journal.Done(string(StateExtracted)) && dirExists(m.binDir) {
		res.Skipped = append(res.Skipped, StateExtracted)
		m.logger.Info("archive already extracted", "target", m.target)
	} else {
		journal.Forget(string(StateExtracted), string(StatePathConfigured))
		m.logger.Info("extracting", "archive", m.archivePath, "format", format)
		extract, err := m.extractor.Extract(ctx, m.archivePath, m.target)
		res.Extract = extract
		if err != nil {
			return res, m.fail(res, journal, StateExtracted, err)
		}
		m.logger.Info("extracted",
			"files", extract.Files,
			"dirs", extract.Dirs,
			"size", humanize.IBytes(uint64(extract.Bytes)))
	}
	res.State = StateExtracted
	m.mark(journal, StateExtracted)

	if opts.SkipPathConfig {
		return res, nil
	}

	// PATH_CONFIGURED
	if !dirExists(m.binDir) {
		res.BinDirMissing = true
		m.logger.Warn("binaries directory does not exist", "path", m.binDir)
	}
	if err := shell.Apply(m.binDir, m.ExtraEnv()); err != nil {
		return res, m.fail(res, journal, StatePathConfigured, err)
	}
	res.State = StatePathConfigured
	m.mark(journal, StatePathConfigured)
	m.logger.Info("PATH configured", "bin_dir", m.binDir)

	return res, nil
}

// fetch removes any stale archive, downloads a fresh one and validates it.
func (m *Manager) fetch(ctx context.Context) (*FetchResult, Format, error) {
	if err := os.Remove(m.archivePath); err != nil && !os.IsNotExist(err) {
		return nil, FormatUnknown, goerr.Wrap(err, "remove stale archive", goerr.V("path", m.archivePath))
	}

	m.logger.Info("downloading", "url", m.manifest.URL, "dest", m.archivePath)
	fetch, err := m.downloader.Fetch(ctx, m.manifest.URL, m.archivePath)
	if err != nil {
		return nil, FormatUnknown, goerr.Wrap(err, "download archive")
	}
	m.logger.Info("downloaded",
		"size", humanize.IBytes(uint64(fetch.Size)),
		"duration", fetch.Duration,
		"attempts", fetch.Attempts)

	format, err := Validate(m.archivePath, m.manifest.MinSize)
	if err != nil {
		if strings.HasPrefix(fetch.ContentType, "text/html") {
			err = goerr.Wrap(err, "server responded with "+fetch.ContentType,
				goerr.V("final_url", fetch.FinalURL))
		}
		return fetch, FormatUnknown, err
	}
	return fetch, format, nil
}

// resumeDownload reports whether the archive from a previous run can be
// reused.
func (m *Manager) resumeDownload(journal *transaction.Journal, resume bool) (Format, bool) {
	if !resume || !journal.Done(string(StateDownloaded)) {
		return FormatUnknown, false
	}
	format, err := Validate(m.archivePath, m.manifest.MinSize)
	if err != nil {
		m.logger.Debug("previous archive unusable, downloading again", "error", err)
		return FormatUnknown, false
	}
	return format, true
}

// ignoreInWorkTree keeps the provisioned tree out of an enclosing Git work
// tree. Failures are logged only.
func (m *Manager) ignoreInWorkTree(ctx context.Context) {
	root, err := git.WorkTreeRoot(ctx, m.target)
	if err != nil {
		if !errors.Is(err, git.ErrNotAGitRepo) {
			m.logger.Debug("skipping git ignore", "error", err)
		}
		return
	}
	written, err := git.EnsureIgnoreAll(m.target)
	if err != nil {
		m.logger.Warn("failed to write .gitignore", "path", m.target, "error", err)
		return
	}
	if written {
		m.logger.Info("target ignored by enclosing repository", "repo", root)
	}
}

func (m *Manager) openJournal(resume bool) *transaction.Journal {
	if resume {
		j, err := transaction.LoadJournal(m.target)
		switch {
		case err == nil && j.Matches(m.manifest.URL, m.manifest.Archive):
			return j
		case err == nil:
			m.logger.Info("journal describes a different download, starting over")
		case !errors.Is(err, transaction.ErrNoJournal):
			m.logger.Warn("ignoring unreadable journal", "error", err)
		}
	}
	return transaction.NewJournal(m.manifest.URL, m.manifest.Archive, m.clock)
}

func (m *Manager) mark(journal *transaction.Journal, state State) {
	journal.Mark(string(state))
	m.saveJournal(journal)
}

func (m *Manager) fail(res *Result, journal *transaction.Journal, stage State, err error) error {
	res.State = StateFatal
	journal.Fail(string(StateFatal), err)
	m.saveJournal(journal)
	return &StageError{Stage: stage, Err: err}
}

// saveJournal logs write failures instead of returning them.
func (m *Manager) saveJournal(journal *transaction.Journal) {
	if err := journal.Save(m.target); err != nil {
		m.logger.Warn("failed to save journal", "error", err)
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
