package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newAddCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "Stage files for the next commit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.open()
			if err != nil {
				return err
			}
			defer r.Close()

			paths, err := g.repoPaths(r, args)
			if err != nil {
				return err
			}
			res, err := r.Add(paths)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range res.Staged {
				fmt.Fprintf(out, "staged %s\n", p)
			}
			failed := make([]string, 0, len(res.Failed))
			for p := range res.Failed {
				failed = append(failed, p)
			}
			sort.Strings(failed)
			for _, p := range failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", p, res.Failed[p])
			}
			return res.Err()
		},
	}
}
