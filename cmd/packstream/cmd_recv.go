package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sigmaboy/packstream"
	"github.com/sigmaboy/packstream/wire"
)

func newRecvCmd() *cobra.Command {
	var (
		dir     string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "recv <listen-addr>",
		Short: "Receive one streamed package archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", args[0])
			if err != nil {
				return err
			}
			defer ln.Close()
			fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s\n", ln.Addr())

			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			defer conn.Close()

			var opts []wire.Option
			if verbose {
				opts = append(opts, wire.WithLogger(newVerboseLogger(cmd)))
			}

			tr := &dirTransport{dir: dir}
			sum, err := wire.Receive(cmd.Context(), conn, tr, opts...)
			if err != nil {
				tr.discard()
				return err
			}
			if err := tr.close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "received %s: %d bytes\n", tr.path, sum.Received)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory to write the received package into")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log wire events on stderr")

	return cmd
}

// dirTransport defers output file creation until the package name arrives
// with the begin message.
type dirTransport struct {
	dir  string
	path string
	file *packstream.File
}

func (t *dirTransport) Begin(name string, total, headerSize uint64) error {
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return fmt.Errorf("unusable package name %q", name)
	}
	t.path = filepath.Join(t.dir, base)
	f, err := packstream.CreateFile(t.path)
	if err != nil {
		return err
	}
	t.file = f
	return f.Begin(name, total, headerSize)
}

func (t *dirTransport) Announce(name string, size uint64) error {
	return t.file.Announce(name, size)
}

func (t *dirTransport) Write(p []byte) error {
	return t.file.Write(p)
}

func (t *dirTransport) CommitHeader(p []byte) error {
	return t.file.CommitHeader(p)
}

func (t *dirTransport) close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}

// discard drops the partial output after a failed receive.
func (t *dirTransport) discard() {
	if t.file == nil {
		return
	}
	t.file.Close()
	os.Remove(t.path)
}

var _ packstream.Transport = (*dirTransport)(nil)
