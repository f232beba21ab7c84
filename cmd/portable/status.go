package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/portable/internal/transaction"
)

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the last run left in the install directory",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStatus(cmd.Context())
		},
	}
}

func (a *app) runStatus(ctx context.Context) error {
	mgr, err := a.newManager(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Target:\t%s\t%s\n", mgr.Target(), presence(mgr.Target()))
	fmt.Fprintf(w, "URL:\t%s\n", mgr.Manifest().URL)

	archive := "missing"
	if info, err := os.Stat(mgr.ArchivePath()); err == nil {
		archive = humanize.IBytes(uint64(info.Size()))
	}
	fmt.Fprintf(w, "Archive:\t%s\t%s\n", mgr.ArchivePath(), archive)
	fmt.Fprintf(w, "Binaries:\t%s\t%s\n", mgr.BinDir(), presence(mgr.BinDir()))
	if version := a.probeVersion(ctx, mgr); version != "" {
		fmt.Fprintf(w, "Version:\t%s\n", version)
	}

	journal, err := transaction.LoadJournal(mgr.Target())
	switch {
	case errors.Is(err, transaction.ErrNoJournal):
		fmt.Fprintf(w, "State:\tnot provisioned\n")
	case err != nil:
		fmt.Fprintf(w, "State:\tunknown (%v)\n", err)
	default:
		fmt.Fprintf(w, "State:\t%s\t%s\n", journal.State, humanize.Time(journal.Updated))
		fmt.Fprintf(w, "Run:\t%s\n", journal.ID)
		if !journal.Matches(mgr.Manifest().URL, mgr.Manifest().Archive) {
			fmt.Fprintf(w, "Note:\tlast run used %s\n", journal.URL)
		}
		if journal.LastError != "" {
			fmt.Fprintf(w, "Last error:\t%s\n", journal.LastError)
		}
	}
	return w.Flush()
}

func presence(path string) string {
	if _, err := os.Stat(path); err != nil {
		return "missing"
	}
	return "present"
}
