package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/sigmaboy/packstream"
	"github.com/sigmaboy/packstream/wire"
)

func newSendCmd() *cobra.Command {
	var (
		compression    string
		chunkSize      int
		showProgress   bool
		verbose        bool
		applyPatches   bool
		rewriteSigning bool
		stripPersonal  bool
		provisionalIDs bool
	)

	cmd := &cobra.Command{
		Use:   "send <manifest.toml> <host:port>",
		Short: "Build a package archive and stream it to a receiver",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rewriteSigning && !applyPatches {
				return fmt.Errorf("--rewrite-signing requires --patches")
			}

			tag, err := wire.ParseCompression(compression)
			if err != nil {
				return err
			}

			m, err := loadPackManifest(args[0])
			if err != nil {
				return err
			}
			plan, err := m.plan()
			if err != nil {
				return err
			}

			opts := []packstream.BuildOption{
				packstream.WithChunkSize(chunkSize),
				packstream.WithBehavior(packstream.Behavior{
					EmitProvisionalIdentifiers:   provisionalIDs,
					StripPersonalizedCredentials: stripPersonal,
					ApplyContentPatches:          applyPatches,
					RewriteSigningMaterial:       rewriteSigning,
				}),
			}
			if showProgress {
				opts = append(opts, packstream.WithProgress(progressPrinter(cmd.ErrOrStderr())))
			}

			clientOpts := []wire.Option{wire.WithCompression(tag)}
			if verbose {
				logger := newVerboseLogger(cmd)
				opts = append(opts, packstream.WithLogger(logger))
				clientOpts = append(clientOpts, wire.WithLogger(logger))
			}

			conn, err := net.Dial("tcp", args[1])
			if err != nil {
				return err
			}
			defer conn.Close()

			client := wire.NewClient(conn, clientOpts...)
			rep, err := packstream.Build(cmd.Context(), plan, client, opts...)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s: %d entries, %d bytes\n",
				rep.Name, args[1], len(rep.Records), rep.TotalSize)
			return nil
		},
	}

	cmd.Flags().StringVar(&compression, "compression", "zstd", "data frame compression: none, lz4, or zstd")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "streaming chunk size in bytes")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "report build progress on stderr")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log build and wire events on stderr")
	cmd.Flags().BoolVar(&applyPatches, "patches", false, "apply the manifest's content patches")
	cmd.Flags().BoolVar(&rewriteSigning, "rewrite-signing", false, "also apply signing material patches")
	cmd.Flags().BoolVar(&stripPersonal, "strip-personal", false, "ship common credentials instead of personalized ones")
	cmd.Flags().BoolVar(&provisionalIDs, "provisional-ids", false, "carry provisional identifiers in the phase-one header")

	return cmd
}
