package wire

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/zeebo/blake3"

	"github.com/sigmaboy/packstream"
	"github.com/sigmaboy/packstream/internal/codec"
)

// Summary describes one completed transfer.
type Summary struct {
	Name       string
	Total      uint64 // projected size from the begin message
	HeaderSize uint64
	Received   uint64 // chunk bytes materialized, header included
}

// Receive serves one transfer: it replays the incoming operations onto
// tr and acknowledges the commit. tr is usually a file transport; the
// finalized header lands through its CommitHeader exactly as it would in
// a local build.
//
// The connection is left open; the caller owns its lifecycle. The
// returned error describes why the transfer failed, after a best-effort
// rejection notice to the sender.
func Receive(ctx context.Context, rw io.ReadWriter, tr packstream.Transport, opts ...Option) (*Summary, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	r := &receiver{
		rw:     rw,
		tr:     tr,
		cfg:    &cfg,
		hasher: newStreamHasher(),
		buf:    make([]byte, MaxDataFrame+dataFrameOverhead),
	}
	sum, err := r.run(ctx)
	if err != nil {
		r.reject(err)
		return nil, err
	}
	return sum, nil
}

type receiver struct {
	rw  io.ReadWriter
	tr  packstream.Transport
	cfg *config

	hasher *blake3.Hasher
	buf    []byte
	sum    *Summary
}

func (r *receiver) run(ctx context.Context) (*Summary, error) {
	var hello helloMessage
	if err := readControl(r.rw, r.buf, actionHello, &hello); err != nil {
		return nil, err
	}
	if err := writeControl(r.rw, &readyMessage{Action: actionReady, Version: ProtocolVersion}); err != nil {
		return nil, err
	}
	if hello.Version != ProtocolVersion {
		return nil, fmt.Errorf("sender speaks version %d, want %d: %w",
			hello.Version, ProtocolVersion, ErrVersionMismatch)
	}

	var begin beginMessage
	if err := readControl(r.rw, r.buf, actionBegin, &begin); err != nil {
		return nil, err
	}
	if err := r.tr.Begin(begin.Name, begin.Total, begin.HeaderSize); err != nil {
		return nil, fmt.Errorf("begin %s: %w", begin.Name, err)
	}
	r.sum = &Summary{Name: begin.Name, Total: begin.Total, HeaderSize: begin.HeaderSize}
	r.cfg.logger.Debug("transfer begin",
		slog.String("package", begin.Name),
		slog.Uint64("total", begin.Total))

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		typ, body, err := readFrame(r.rw, r.buf)
		if err != nil {
			return nil, err
		}
		if typ == frameData {
			if err := r.data(body); err != nil {
				return nil, err
			}
			continue
		}

		var env envelope
		if err := codec.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode control envelope: %w", err)
		}
		switch env.Action {
		case actionAnnounce:
			var msg announceMessage
			if err := decodeControl(body, actionAnnounce, &msg); err != nil {
				return nil, err
			}
			if err := r.tr.Announce(msg.Name, msg.Size); err != nil {
				return nil, fmt.Errorf("announce %s: %w", msg.Name, err)
			}

		case actionCommit:
			var msg commitMessage
			if err := decodeControl(body, actionCommit, &msg); err != nil {
				return nil, err
			}
			return r.commit(&msg)

		default:
			return nil, fmt.Errorf("unexpected %q message: %w", env.Action, ErrProtocol)
		}
	}
}

func (r *receiver) data(body []byte) error {
	chunk, err := decodeDataFrame(body)
	if err != nil {
		return err
	}
	if err := r.tr.Write(chunk); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	r.hasher.Write(chunk)
	r.sum.Received += uint64(len(chunk))
	return nil
}

func (r *receiver) commit(msg *commitMessage) (*Summary, error) {
	if got := formatSum(r.hasher); got != msg.Sum {
		return nil, fmt.Errorf("stream sums to %s, sender declared %s: %w",
			got, msg.Sum, ErrChecksumMismatch)
	}
	if uint64(len(msg.Header)) != r.sum.HeaderSize {
		return nil, fmt.Errorf("final header is %d bytes, begin declared %d: %w",
			len(msg.Header), r.sum.HeaderSize, ErrProtocol)
	}
	if err := r.tr.CommitHeader(msg.Header); err != nil {
		return nil, fmt.Errorf("commit header: %w", err)
	}
	if err := writeControl(r.rw, &ackMessage{
		Action:   actionAck,
		OK:       true,
		Received: r.sum.Received,
	}); err != nil {
		return nil, err
	}
	r.cfg.logger.Info("transfer received",
		slog.String("package", r.sum.Name),
		slog.Uint64("bytes", r.sum.Received))
	return r.sum, nil
}

// reject tells the sender why the transfer failed. Best effort: the
// connection may already be unusable.
func (r *receiver) reject(cause error) {
	_ = writeControl(r.rw, &ackMessage{Action: actionAck, Error: cause.Error()})
}
