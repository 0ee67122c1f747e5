package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "packstream",
		Short: "packstream builds, ships, and inspects streaming package archives",
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newPackCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newRecvCmd())
	root.AddCommand(newLsCmd())
	root.AddCommand(newVerifyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "packstream 0.1.0-dev")
		},
	}
}
