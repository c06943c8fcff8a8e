package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/vessel/pkg/object"
	"github.com/odvcencio/vessel/pkg/repo"
)

func newLogCmd(g *globalFlags) *cobra.Command {
	var oneline, showSignature bool
	var limit int

	cmd := &cobra.Command{
		Use:   "log [ref]",
		Short: "Show commit history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.open()
			if err != nil {
				return err
			}
			defer r.Close()

			start := "HEAD"
			if len(args) == 1 {
				start = args[0]
			}
			startHash, err := r.ResolveRef(start)
			if errors.Is(err, object.ErrNotFound) && start == "HEAD" {
				fmt.Fprintln(cmd.OutOrStdout(), "no commits yet")
				return nil
			}
			if err != nil {
				return fmt.Errorf("cannot resolve %s: %w", start, err)
			}
			headHash, _ := r.ResolveRef("HEAD")
			branch, _ := r.CurrentBranch()

			out := cmd.OutOrStdout()
			shown := 0
			for entry, err := range r.Log(startHash) {
				if err != nil {
					return err
				}
				if limit > 0 && shown == limit {
					break
				}
				writeLogEntry(out, entry, buildDecoration(entry.ID, headHash, branch), oneline, showSignature)
				shown++
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&oneline, "oneline", false, "compact one-line format")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of commits to show (0 for all)")
	cmd.Flags().BoolVar(&showSignature, "show-signature", false, "verify and show commit signatures")
	return cmd
}

func writeLogEntry(out io.Writer, entry repo.LogEntry, decoration string, oneline, showSignature bool) {
	c := entry.Commit
	if decoration != "" {
		decoration = " " + decoration
	}
	if oneline {
		fmt.Fprintf(out, "%s%s %s\n", entry.ID.Short(), decoration, firstLine(c.Message))
		return
	}
	fmt.Fprintf(out, "commit %s%s\n", entry.ID, decoration)
	if showSignature && c.Signature != "" {
		if fp, err := verifyCommitSignature(c); err != nil {
			fmt.Fprintf(out, "Signature: %v\n", err)
		} else {
			fmt.Fprintf(out, "Signature: good (%s)\n", fp)
		}
	}
	fmt.Fprintf(out, "Author: %s\n", c.Author)
	fmt.Fprintf(out, "Date:   %s\n", time.Unix(c.Timestamp, 0).UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "    %s\n", c.Message)
	fmt.Fprintln(out)
}

// buildDecoration returns "(HEAD -> main)" or "(HEAD)" for the commit HEAD
// resolves to, and "" for every other commit.
func buildDecoration(id, headHash object.Hash, branch string) string {
	if id != headHash {
		return ""
	}
	if branch != "" {
		return "(HEAD -> " + branch + ")"
	}
	return "(HEAD)"
}
