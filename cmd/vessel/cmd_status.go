package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/vessel/pkg/index"
	"github.com/odvcencio/vessel/pkg/object"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show working tree status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.open()
			if err != nil {
				return err
			}
			defer r.Close()

			st, err := r.Status()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			on := st.Branch
			if on == "" {
				on = "detached HEAD"
			}
			if _, err := r.ResolveRef("HEAD"); errors.Is(err, object.ErrNotFound) {
				fmt.Fprintf(out, "on %s (no commits yet)\n", on)
			} else {
				fmt.Fprintf(out, "on %s\n", on)
			}

			var staged, unstaged, untracked []string
			for _, c := range st.Staged {
				staged = append(staged, fmt.Sprintf("  %s %s", changeMarker(c.Kind), c.Path))
			}
			for _, c := range st.Unstaged {
				if c.Kind == index.ChangeAdded {
					untracked = append(untracked, "  "+c.Path)
					continue
				}
				unstaged = append(unstaged, fmt.Sprintf("  %s %s", changeMarker(c.Kind), c.Path))
			}

			if st.Clean() {
				fmt.Fprintln(out, "nothing to commit, working tree clean")
				return nil
			}
			printSection(out, "staged changes:", staged)
			printSection(out, "unstaged changes:", unstaged)
			printSection(out, "untracked files:", untracked)
			return nil
		},
	}
}

func changeMarker(k index.ChangeKind) string {
	switch k {
	case index.ChangeAdded:
		return "+"
	case index.ChangeDeleted:
		return "-"
	default:
		return "~"
	}
}

func printSection(out io.Writer, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, title)
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
}
