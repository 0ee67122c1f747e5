package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigmaboy/packstream"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <package>",
		Short: "Recompute and check every payload identifier in a package archive",
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
			checked, err := packstream.Verify(cmd.Context(), r)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok: verified %d payload item(s) of %d entries\n",
				len(checked), len(entries))
			return nil
		},
	}
}
