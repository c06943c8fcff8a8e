package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBranchCmd(g *globalFlags) *cobra.Command {
	var del bool

	cmd := &cobra.Command{
		Use:   "branch [name [start]]",
		Short: "List, create or delete branches",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.open()
			if err != nil {
				return err
			}
			defer r.Close()
			out := cmd.OutOrStdout()

			if del {
				if len(args) != 1 {
					return fmt.Errorf("branch -d takes exactly one name")
				}
				if err := r.DeleteBranch(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted branch %s\n", args[0])
				return nil
			}

			if len(args) == 0 {
				branches, err := r.ListBranches()
				if err != nil {
					return err
				}
				current, _ := r.CurrentBranch()
				for _, b := range branches {
					marker := " "
					if b == current {
						marker = "*"
					}
					fmt.Fprintf(out, "%s %s\n", marker, b)
				}
				return nil
			}

			start := "HEAD"
			if len(args) == 2 {
				start = args[1]
			}
			target, err := r.ResolveRef(start)
			if err != nil {
				return fmt.Errorf("cannot resolve %s: %w", start, err)
			}
			if err := r.CreateBranch(args[0], target); err != nil {
				return err
			}
			fmt.Fprintf(out, "created branch %s at %s\n", args[0], target.Short())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&del, "delete", "d", false, "delete the named branch")
	return cmd
}
