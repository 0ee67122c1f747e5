// Package wire streams a package build over a byte-stream connection.
//
// The sender side is a Client, a packstream.Transport that forwards every
// build operation over the connection. The receiver side is Receive,
// which replays the incoming operations onto a local Transport, usually a
// file. The two-phase header protocol passes through unchanged: the
// receiver materializes the provisional stream as it arrives and applies
// the finalized header when the commit message lands.
//
// Every wire unit is a frame: a 4-byte big-endian length, a 1-byte frame
// type, and the body. Control frames carry CBOR messages; data frames
// carry a compression tag, the uncompressed length, and the chunk bytes.
// The whole transmitted stream is integrity-checked with a keyed BLAKE3
// sum verified at commit time.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion is negotiated in the hello exchange. A receiver
// rejects a sender speaking a different version.
const ProtocolVersion = 1

const (
	// MaxDataFrame caps one data frame's uncompressed chunk. Senders
	// split larger writes; keeping frames small bounds receiver memory.
	MaxDataFrame = 1 << 20

	// MaxControlFrame caps a control frame body. The commit message
	// carries the finalized header inline, so the cap clears the
	// largest permitted header with room for the envelope.
	MaxControlFrame = 256 << 10
)

// Frame types.
const (
	frameControl byte = 0x01
	frameData    byte = 0x02
)

// writeFrame writes one length-prefixed frame.
func writeFrame(w io.Writer, typ byte, body []byte) error {
	var head [5]byte
	binary.BigEndian.PutUint32(head[:4], uint32(len(body)+1))
	head[4] = typ
	if _, err := w.Write(head[:]); err != nil {
		return fmt.Errorf("write frame head: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// readFrame reads one frame, enforcing the per-type size cap.
func readFrame(r io.Reader, buf []byte) (byte, []byte, error) {
	var head [5]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if err == io.EOF {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("read frame head: %w", err)
	}
	length := binary.BigEndian.Uint32(head[:4])
	if length == 0 {
		return 0, nil, fmt.Errorf("zero-length frame: %w", ErrProtocol)
	}
	typ := head[4]
	body := length - 1

	var limit uint32
	switch typ {
	case frameControl:
		limit = MaxControlFrame
	case frameData:
		limit = MaxDataFrame + dataFrameOverhead
	default:
		return 0, nil, fmt.Errorf("frame type 0x%02x: %w", typ, ErrProtocol)
	}
	if body > limit {
		return 0, nil, fmt.Errorf("%d byte frame exceeds %d: %w", body, limit, ErrFrameTooLarge)
	}

	if uint32(len(buf)) < body {
		buf = make([]byte, body)
	}
	buf = buf[:body]
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, fmt.Errorf("read frame body: %w", err)
	}
	return typ, buf, nil
}
