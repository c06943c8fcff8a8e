package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/vessel/pkg/object"
)

func newCatObjectCmd(g *globalFlags) *cobra.Command {
	var typeOnly bool

	cmd := &cobra.Command{
		Use:   "cat-object <id|ref>",
		Short: "Print an object's type or content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.open()
			if err != nil {
				return err
			}
			defer r.Close()

			id, err := object.ParseHash(args[0])
			if err != nil {
				if id, err = r.ResolveRef(args[0]); err != nil {
					return err
				}
			}
			obj, err := r.Store.ReadObject(id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if typeOnly {
				fmt.Fprintln(out, obj.Type)
				return nil
			}
			return writeObject(out, obj)
		},
	}

	cmd.Flags().BoolVarP(&typeOnly, "type", "t", false, "print only the object type")
	return cmd
}

func writeObject(out io.Writer, obj *object.Object) error {
	switch obj.Type {
	case object.TypeBlob:
		_, err := out.Write(obj.Blob.Data)
		return err
	case object.TypeTree:
		for _, e := range obj.Tree.Entries {
			kind := object.TypeBlob
			if e.IsDir() {
				kind = object.TypeTree
			}
			fmt.Fprintf(out, "%s %s %s\t%s\n", e.Mode, kind, e.ID, e.Name)
		}
	case object.TypeCommit:
		c := obj.Commit
		fmt.Fprintf(out, "tree %s\n", c.TreeHash)
		for _, p := range c.Parents {
			fmt.Fprintf(out, "parent %s\n", p)
		}
		fmt.Fprintf(out, "author %s\n", c.Author)
		fmt.Fprintf(out, "date %s\n", time.Unix(c.Timestamp, 0).UTC().Format(time.RFC3339))
		if c.Signature != "" {
			fmt.Fprintf(out, "signature %s\n", c.Signature)
		}
		fmt.Fprintf(out, "\n%s\n", strings.TrimRight(c.Message, "\n"))
	}
	return nil
}
