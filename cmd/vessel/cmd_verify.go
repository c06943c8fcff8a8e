package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check object, pack, index and ref integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.open()
			if err != nil {
				return err
			}
			defer r.Close()

			report, err := r.Verify()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d loose objects, %d packs (%d objects), %d refs\n",
				report.Objects.LooseObjects, report.Objects.PackFiles, report.Objects.PackObjects, report.Refs)
			return nil
		},
	}
}
