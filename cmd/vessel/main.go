package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/vessel/pkg/logging"
	"github.com/odvcencio/vessel/pkg/repo"
)

var version = "0.1.0-dev"

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	repoPath string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "vessel",
		Short:         "Content-addressed version control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.repoPath, "repo", "C", ".", "run as if started in this directory")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", logging.LevelNone, "log level: none, debug, info, warn, error")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(g))
	root.AddCommand(newAddCmd(g))
	root.AddCommand(newRmCmd(g))
	root.AddCommand(newResetCmd(g))
	root.AddCommand(newStatusCmd(g))
	root.AddCommand(newCommitCmd(g))
	root.AddCommand(newLogCmd(g))
	root.AddCommand(newBranchCmd(g))
	root.AddCommand(newSwitchCmd(g))
	root.AddCommand(newCleanCmd(g))
	root.AddCommand(newPackCmd(g))
	root.AddCommand(newVerifyCmd(g))
	root.AddCommand(newCatObjectCmd(g))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vessel %s\n", version)
		},
	}
}

func (g *globalFlags) logger() (*zap.Logger, error) {
	return logging.GetLogger(g.logLevel)
}

// open opens the repository containing --repo. The caller closes it.
func (g *globalFlags) open() (*repo.Repo, error) {
	log, err := g.logger()
	if err != nil {
		return nil, err
	}
	return repo.Open(g.repoPath, repo.WithLogger(log))
}

// repoPaths converts command-line paths, relative to the current directory
// or --repo, into worktree paths.
func (g *globalFlags) repoPaths(r *repo.Repo, args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		p := arg
		if !filepath.IsAbs(p) {
			base, err := filepath.Abs(g.repoPath)
			if err != nil {
				return nil, err
			}
			p = filepath.Join(base, p)
		}
		rel, err := r.Worktree.Rel(p)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}
