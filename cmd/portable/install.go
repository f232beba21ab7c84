package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/portable/internal/binary"
	"github.com/ZebulonRouseFrantzich/portable/internal/config"
)

func newInstallCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Download, unpack and put the binaries on PATH (default)",
		Long: `Run the full provisioning workflow:

  1. create the install directory under --root (default: working directory)
  2. download the archive into it
  3. unpack the archive over the install directory
  4. prepend the binaries directory to PATH for this process

PATH changes do not outlive this process. To use the binaries from your
shell, run:

  eval "$(portable env)"

Examples:
  portable install
  portable install --resume
  portable install --manifest tools/graphviz.lua --retries 3`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInstall(cmd.Context())
		},
	}
}

func (a *app) runInstall(ctx context.Context) error {
	mgr, err := a.newManager(ctx)
	if err != nil {
		return err
	}

	res, err := mgr.Run(ctx, binary.RunOptions{Resume: a.settings.Resume})
	if err != nil {
		return err
	}

	a.printResult(mgr, res)
	if version := a.probeVersion(ctx, mgr); version != "" {
		fmt.Fprintf(a.stdout, "  version: %s\n", version)
	}
	return nil
}

// probeVersion runs the manifest's probe and returns the reported version,
// or "" when there is no probe or it fails.
func (a *app) probeVersion(ctx context.Context, mgr *binary.Manager) string {
	res, err := mgr.Probe(ctx)
	if err != nil {
		if !errors.Is(err, binary.ErrNoProbe) {
			a.logger.Debug("version probe failed", "error", err)
		}
		return ""
	}
	return res.Version
}

func (a *app) printResult(mgr *binary.Manager, res *binary.Result) {
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	if !config.IsTerminal(a.stdout) {
		ok.DisableColor()
		warn.DisableColor()
	}

	name := mgr.Manifest().Name
	if name == "" {
		name = "distribution"
	}
	fmt.Fprintf(a.stdout, "%s %s is ready in %s\n", ok.Sprint("✓"), name, res.Target)
	if res.Fetch != nil {
		fmt.Fprintf(a.stdout, "  downloaded %s in %s\n",
			humanize.IBytes(uint64(res.Fetch.Size)), res.Fetch.Duration.Round(time.Millisecond))
	}
	if res.Extract != nil {
		fmt.Fprintf(a.stdout, "  extracted %d files (%s)\n",
			res.Extract.Files, humanize.IBytes(uint64(res.Extract.Bytes)))
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(a.stdout, "  %s already done, skipped\n", s)
	}
	fmt.Fprintf(a.stdout, "  binaries: %s\n", res.BinDir)
	if res.BinDirMissing {
		fmt.Fprintf(a.stdout, "  %s binaries directory does not exist; check bin_dir in the manifest\n", warn.Sprint("!"))
	}
}
