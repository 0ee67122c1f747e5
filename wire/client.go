package wire

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/zeebo/blake3"

	"github.com/sigmaboy/packstream"
)

type config struct {
	logger *slog.Logger
	tag    Compression
}

func defaultConfig() config {
	return config{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tag:    CompressionZstd,
	}
}

// Option configures a Client or a Receive call.
type Option func(*config)

// WithCompression selects the per-frame compression a Client applies.
// Receivers handle every algorithm regardless.
func WithCompression(tag Compression) Option {
	return func(c *config) {
		c.tag = tag
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client forwards build operations over a connection. It implements
// packstream.Transport and packstream.Waiter: hand it to Build and the
// whole two-phase protocol runs against the remote receiver.
//
// A Client serves one transfer and is not safe for concurrent use.
type Client struct {
	rw  io.ReadWriter
	cfg config

	hasher  *blake3.Hasher
	scratch []byte
	ackBuf  []byte
	name    string
	sent    uint64
}

// NewClient creates a client speaking the wire protocol over rw,
// typically a net.Conn.
func NewClient(rw io.ReadWriter, opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		rw:     rw,
		cfg:    cfg,
		hasher: newStreamHasher(),
		ackBuf: make([]byte, 4<<10),
	}
}

// WaitReady performs the hello exchange and verifies the protocol
// version. Reads block on the connection; cancel by closing it.
func (c *Client) WaitReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeControl(c.rw, &helloMessage{Action: actionHello, Version: ProtocolVersion}); err != nil {
		return err
	}
	var ready readyMessage
	if err := readControl(c.rw, c.ackBuf, actionReady, &ready); err != nil {
		return err
	}
	if ready.Version != ProtocolVersion {
		return fmt.Errorf("receiver speaks version %d, want %d: %w",
			ready.Version, ProtocolVersion, ErrVersionMismatch)
	}
	return nil
}

// Begin announces the transfer.
func (c *Client) Begin(name string, total, headerSize uint64) error {
	c.name = name
	c.cfg.logger.Debug("transfer begin",
		slog.String("package", name),
		slog.Uint64("total", total),
		slog.String("compression", c.cfg.tag.String()))
	return writeControl(c.rw, &beginMessage{
		Action:     actionBegin,
		Name:       name,
		Total:      total,
		HeaderSize: headerSize,
	})
}

// Announce forwards an entry boundary.
func (c *Client) Announce(name string, size uint64) error {
	return writeControl(c.rw, &announceMessage{Action: actionAnnounce, Name: name, Size: size})
}

// Write splits p into data frames, compressing each and folding the
// uncompressed bytes into the integrity sum.
func (c *Client) Write(p []byte) error {
	for len(p) > 0 {
		n := min(len(p), MaxDataFrame)
		chunk := p[:n]
		c.hasher.Write(chunk)
		body, err := encodeDataFrame(c.cfg.tag, chunk, c.scratch)
		if err != nil {
			return err
		}
		c.scratch = body[:0]
		if err := writeFrame(c.rw, frameData, body); err != nil {
			return err
		}
		c.sent += uint64(n)
		p = p[n:]
	}
	return nil
}

// CommitHeader sends the finalized header with the stream sum and waits
// for the receiver's acknowledgement.
func (c *Client) CommitHeader(p []byte) error {
	sum := formatSum(c.hasher)
	if err := writeControl(c.rw, &commitMessage{Action: actionCommit, Header: p, Sum: sum}); err != nil {
		return err
	}
	var ack ackMessage
	if err := readControl(c.rw, c.ackBuf, actionAck, &ack); err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("%s: %w", ack.Error, ErrRejected)
	}
	if ack.Received != c.sent {
		return fmt.Errorf("receiver materialized %d bytes, sent %d: %w",
			ack.Received, c.sent, ErrProtocol)
	}
	c.cfg.logger.Info("transfer committed",
		slog.String("package", c.name),
		slog.Uint64("bytes", c.sent))
	return nil
}

var (
	_ packstream.Transport = (*Client)(nil)
	_ packstream.Waiter    = (*Client)(nil)
)
