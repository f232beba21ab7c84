package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/portable/internal/binary"
)

func newExecCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec -- <command> [args...]",
		Short: "Provision if needed, then run a command with the binaries on PATH",
		Long: `Provision with --resume semantics (nothing is downloaded when a previous run
completed) and run the command with the binaries directory first on PATH.
The exit status is the command's.

Examples:
  portable exec -- dot -V
  portable exec -- python analysis.py`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExec(cmd.Context(), args)
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func (a *app) runExec(ctx context.Context, args []string) error {
	mgr, err := a.newManager(ctx)
	if err != nil {
		return err
	}

	// Run applies PATH to this process, so LookPath below and the child
	// both see the binaries directory.
	if _, err := mgr.Run(ctx, binary.RunOptions{Resume: true}); err != nil {
		return err
	}

	child := exec.CommandContext(ctx, args[0], args[1:]...)
	child.Stdin = a.stdin
	child.Stdout = a.stdout
	child.Stderr = a.stderr

	a.logger.Debug("running command", "command", args[0], "args", args[1:])
	if err := child.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return &childExitError{code: exitErr.ExitCode()}
		}
		return &configError{err: fmt.Errorf("run %s: %w", args[0], err)}
	}
	return nil
}
