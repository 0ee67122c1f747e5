package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigmaboy/packstream"
)

func newPackCmd() *cobra.Command {
	var (
		output         string
		chunkSize      int
		showProgress   bool
		verbose        bool
		applyPatches   bool
		rewriteSigning bool
		stripPersonal  bool
		provisionalIDs bool
	)

	cmd := &cobra.Command{
		Use:   "pack <manifest.toml>",
		Short: "Build a package archive from a build manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rewriteSigning && !applyPatches {
				return fmt.Errorf("--rewrite-signing requires --patches")
			}

			m, err := loadPackManifest(args[0])
			if err != nil {
				return err
			}
			plan, err := m.plan()
			if err != nil {
				return err
			}

			out := output
			if out == "" {
				out = plan.Name
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
			if verbose {
				opts = append(opts, packstream.WithLogger(newVerboseLogger(cmd)))
			}

			tr, err := packstream.CreateFile(out)
			if err != nil {
				return err
			}
			rep, err := packstream.Build(cmd.Context(), plan, tr, opts...)
			if err != nil {
				tr.Close()
				os.Remove(out)
				return err
			}
			if err := tr.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d entries, %d bytes\n",
				out, len(rep.Records), rep.TotalSize)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to the package name)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "streaming chunk size in bytes")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "report build progress on stderr")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log build events on stderr")
	cmd.Flags().BoolVar(&applyPatches, "patches", false, "apply the manifest's content patches")
	cmd.Flags().BoolVar(&rewriteSigning, "rewrite-signing", false, "also apply signing material patches")
	cmd.Flags().BoolVar(&stripPersonal, "strip-personal", false, "ship common credentials instead of personalized ones")
	cmd.Flags().BoolVar(&provisionalIDs, "provisional-ids", false, "carry provisional identifiers in the phase-one header")

	return cmd
}

func newVerboseLogger(cmd *cobra.Command) *slog.Logger {
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
