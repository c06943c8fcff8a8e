package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanCmd(g *globalFlags) *cobra.Command {
	var dryRun, force bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete untracked files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun && !force {
				return errors.New("refusing to clean without -n or -f")
			}
			r, err := g.open()
			if err != nil {
				return err
			}
			defer r.Close()

			paths, err := r.Clean(dryRun)
			if err != nil {
				return err
			}
			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			for _, p := range paths {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "only list what would be removed")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete untracked files")
	return cmd
}
