package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSwitchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <branch|commit>",
		Short: "Point HEAD at a branch, or detach it at a commit",
		Long:  "Point HEAD at a branch, or detach it at a commit. The index and worktree are left as they are.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.open()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := r.SetHead(args[0]); err != nil {
				return err
			}
			branch, err := r.CurrentBranch()
			if err != nil {
				return err
			}
			if branch == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "HEAD detached at %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "switched to branch %s\n", branch)
			}
			return nil
		},
	}
}
