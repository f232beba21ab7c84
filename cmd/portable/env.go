package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/portable/internal/shell"
)

func newEnvCommand(a *app) *cobra.Command {
	var shellName string

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print shell commands that put the binaries on PATH",
		Long: `Print a snippet that prepends the binaries directory to PATH (and sets the
manifest's env_var) in the calling shell. Nothing is downloaded.

Examples:
  eval "$(portable env)"                      # bash, zsh
  portable env --shell fish | source
  portable env --shell powershell | Invoke-Expression`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEnv(cmd.Context(), shellName)
		},
	}
	cmd.Flags().StringVar(&shellName, "shell", "", "bash, zsh, fish, powershell or cmd (default: detected)")
	return cmd
}

func (a *app) runEnv(ctx context.Context, shellName string) error {
	shellType, err := a.resolveShell(ctx, shellName)
	if err != nil {
		return err
	}

	mgr, err := a.newManager(ctx)
	if err != nil {
		return err
	}
	if _, err := os.Stat(mgr.BinDir()); err != nil {
		a.logger.Warn("binaries directory does not exist yet, run 'portable install'", "path", mgr.BinDir())
	}

	script, err := shell.ExportScript(shellType, mgr.BinDir(), mgr.ExtraEnv())
	if err != nil {
		return &configError{err: err}
	}
	fmt.Fprint(a.stdout, script)
	return nil
}

func (a *app) resolveShell(ctx context.Context, name string) (shell.ShellType, error) {
	if name != "" {
		shellType := shell.ParseShell(name)
		if err := shell.ValidateShell(shellType); err != nil {
			return shell.ShellUnknown, &configError{err: &shell.UnsupportedShellError{Shell: name}}
		}
		return shellType, nil
	}

	result, err := shell.DetectShell(ctx)
	if err != nil {
		return shell.ShellUnknown, fmt.Errorf("detect shell: %w", err)
	}
	if !result.Shell.IsValid() {
		return shell.ShellUnknown, &configError{err: fmt.Errorf("could not detect your shell, pass --shell")}
	}
	a.logger.Debug("detected shell", "shell", result.Shell, "method", result.Method)
	return result.Shell, nil
}
