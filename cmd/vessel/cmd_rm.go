package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRmCmd(g *globalFlags) *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Remove files from the index and the worktree",
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
			removed, err := r.Remove(paths, cached)
			if err != nil {
				return err
			}
			for _, p := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "rm %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cached, "cached", false, "only remove from the index")
	return cmd
}
