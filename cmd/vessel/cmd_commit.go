package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/vessel/pkg/repo"
)

func newCommitCmd(g *globalFlags) *cobra.Command {
	var message, author, signKey string
	var sign bool

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record the staged snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" {
				return errors.New("commit message required (-m)")
			}
			if author == "" {
				author = defaultAuthor()
			}

			r, err := g.open()
			if err != nil {
				return err
			}
			defer r.Close()

			var signer repo.CommitSigner
			if sign || signKey != "" {
				key, err := loadSigningKey(signKey)
				if err != nil {
					return err
				}
				signer = key.Sign
			}

			h, err := r.CommitWithSigner(message, author, signer)
			if h == "" {
				return err
			}
			branch, _ := r.CurrentBranch()
			if branch == "" {
				branch = "detached HEAD"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s %s] %s\n", branch, h.Short(), firstLine(message))
			// A commit whose reflog append failed still moved the branch.
			return err
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&author, "author", "", "commit author (default $VESSEL_AUTHOR or $USER)")
	cmd.Flags().BoolVarP(&sign, "sign", "S", false, "sign the commit with an SSH key")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "SSH private key used to sign (implies --sign)")
	return cmd
}

func defaultAuthor() string {
	for _, env := range []string{"VESSEL_AUTHOR", "USER"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return "unknown"
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
