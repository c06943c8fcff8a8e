package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [path]...",
		Short: "Unstage changes, restoring index entries from HEAD",
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
			changed, err := r.Reset(paths)
			if err != nil {
				return err
			}
			for _, p := range changed {
				fmt.Fprintf(cmd.OutOrStdout(), "unstaged %s\n", p)
			}
			return nil
		},
	}
}
