package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sigmaboy/packstream"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <package>",
		Short: "List the entries of a package archive, local or remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := archiveReader(args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := packstream.List(r)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 5, 1, 3, ' ', 0)
			fmt.Fprintln(w, "OFFSET\tSIZE\tNAME")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%d\t%s\n", e.Offset, e.Size, e.Name)
			}
			return w.Flush()
		},
	}
}
