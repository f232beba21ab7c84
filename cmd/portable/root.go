package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ZebulonRouseFrantzich/portable/internal/binary"
	"github.com/ZebulonRouseFrantzich/portable/internal/config"
	"github.com/ZebulonRouseFrantzich/portable/internal/platform"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	v            *viper.Viper
	settingsFile string
	settings     *config.Settings
	logger       *slog.Logger
	detector     platform.Detector

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		v:        config.NewViper(),
		detector: platform.NewDetector(),
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
	}
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) ExitCode {
	a := newApp(stdin, stdout, stderr)
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	code := exitCodeFor(err)
	if code != ExitOK {
		printError(stderr, err)
	}
	if a.shouldPause(err) {
		a.pause()
	}
	return code
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "portable",
		Short: "Provision a portable Graphviz next to your project",
		Long: `portable downloads a binary distribution archive into a directory next to
the invocation location, unpacks it there, and puts its binaries directory
first on PATH for this process and the commands it starts.

With no subcommand it runs "install".`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          usageArgs(cobra.NoArgs),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInstall(cmd.Context())
		},
	}
	root.SetVersionTemplate("portable {{.Version}}\n")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &configError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.settingsFile, "config", "", "settings file (yaml, toml or json)")
	flags.String("root", "", "directory the install directory is created in (default: working directory)")
	flags.String("manifest", "", "Lua manifest describing the distribution (default: embedded Graphviz manifest)")
	flags.String("url", "", "override the archive URL from the manifest")
	flags.Bool("resume", false, "skip stages a previous run completed")
	flags.Int("retries", 0, "retry a failed download this many times")
	flags.Duration("timeout", 0, "give up on the download after this long (0 = never)")
	flags.Bool("no-pause", false, "do not wait for Enter after a failed download")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "write logs as JSON")

	for key, flag := range map[string]string{
		"root":      "root",
		"manifest":  "manifest",
		"url":       "url",
		"resume":    "resume",
		"retries":   "retries",
		"timeout":   "timeout",
		"no_pause":  "no-pause",
		"log.level": "log-level",
		"log.json":  "log-json",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	root.AddCommand(newInstallCommand(a))
	root.AddCommand(newEnvCommand(a))
	root.AddCommand(newExecCommand(a))
	root.AddCommand(newStatusCommand(a))

	return root
}

// setup loads settings and builds the logger once flags are parsed.
func (a *app) setup() error {
	settings, err := config.LoadSettings(a.v, a.settingsFile)
	if err != nil {
		return &configError{err: err}
	}
	logger, err := config.NewLogger(settings.Log, a.stderr)
	if err != nil {
		return &configError{err: err}
	}
	a.settings = settings
	a.logger = logger
	return nil
}

// loadManifest parses the configured manifest and applies the URL override.
func (a *app) loadManifest(ctx context.Context) (*config.Manifest, error) {
	parser := config.NewParser(a.detector)

	var (
		manifest *config.Manifest
		err      error
	)
	if a.settings.Manifest != "" {
		manifest, err = parser.ParseFile(ctx, a.settings.Manifest)
	} else {
		manifest, err = parser.Default(ctx)
	}
	if err != nil {
		return nil, &configError{err: fmt.Errorf("load manifest: %s", config.FormatError(err, a.logger.Enabled(ctx, slog.LevelDebug)))}
	}

	if a.settings.URL != "" {
		manifest.URL = a.settings.URL
	}
	return manifest, nil
}

// newManager builds a Manager for the configured manifest and settings.
func (a *app) newManager(ctx context.Context) (*binary.Manager, error) {
	manifest, err := a.loadManifest(ctx)
	if err != nil {
		return nil, err
	}

	downloader := binary.NewDownloader(
		binary.WithRetries(a.settings.Retries),
		binary.WithTimeout(a.settings.Timeout),
		binary.WithUserAgent("portable/"+Version),
		binary.WithLogger(a.logger),
	)
	mgr, err := binary.NewManager(manifest, binary.Options{
		Base:       a.settings.Root,
		Downloader: downloader,
		Extractor:  binary.NewExtractor(a.logger),
		Logger:     a.logger,
	})
	if err != nil {
		return nil, &configError{err: err}
	}
	return mgr, nil
}

// usageArgs marks positional-argument errors as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &configError{err: err}
		}
		return nil
	}
}
