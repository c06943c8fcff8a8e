package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPackCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pack",
		Short: "Consolidate loose objects into a pack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.open()
			if err != nil {
				return err
			}
			defer r.Close()

			summary, err := r.Pack()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if summary.PackedObjects == 0 {
				fmt.Fprintln(out, "nothing to pack")
				return nil
			}
			fmt.Fprintf(out, "packed %d objects (%d loose pruned) into %s\n",
				summary.PackedObjects, summary.PrunedLoose, summary.PackFile)
			return nil
		},
	}
}
