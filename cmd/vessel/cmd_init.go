package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/vessel/pkg/repo"
)

func newInitCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.repoPath
			if len(args) == 1 {
				path = args[0]
			}
			log, err := g.logger()
			if err != nil {
				return err
			}
			r, err := repo.Init(path, repo.WithLogger(log))
			if err != nil {
				return err
			}
			defer r.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "initialized empty repository in %s\n", r.MetaDir)
			return nil
		},
	}
}
