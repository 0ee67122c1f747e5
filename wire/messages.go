package wire

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/sigmaboy/packstream/internal/codec"
)

// Control messages. Each carries its action name; json tags serve as the
// CBOR library's fallback and for debugging output.

type helloMessage struct {
	Action  string `cbor:"action"  json:"action"`
	Version uint   `cbor:"version" json:"version"`
}

type readyMessage struct {
	Action  string `cbor:"action"  json:"action"`
	Version uint   `cbor:"version" json:"version"`
}

type beginMessage struct {
	Action     string `cbor:"action"      json:"action"`
	Name       string `cbor:"name"        json:"name"`
	Total      uint64 `cbor:"total"       json:"total"`
	HeaderSize uint64 `cbor:"header_size" json:"header_size"`
}

type announceMessage struct {
	Action string `cbor:"action" json:"action"`
	Name   string `cbor:"name"   json:"name"`
	Size   uint64 `cbor:"size"   json:"size"`
}

// commitMessage finalizes the transfer. Header holds the finalized
// header bytes; Sum is the hex keyed BLAKE3 sum of every data frame's
// chunk bytes in transmission order.
type commitMessage struct {
	Action string `cbor:"action" json:"action"`
	Header []byte `cbor:"header" json:"header"`
	Sum    string `cbor:"sum"    json:"sum"`
}

type ackMessage struct {
	Action   string `cbor:"action"             json:"action"`
	OK       bool   `cbor:"ok"                 json:"ok"`
	Error    string `cbor:"error,omitempty"    json:"error,omitempty"`
	Received uint64 `cbor:"received,omitempty" json:"received,omitempty"`
}

// envelope extracts the action of a control frame so the full message
// can be decoded into its concrete type.
type envelope struct {
	Action string `cbor:"action" json:"action"`
}

const (
	actionHello    = "hello"
	actionReady    = "ready"
	actionBegin    = "begin"
	actionAnnounce = "announce"
	actionCommit   = "commit"
	actionAck      = "ack"
)

// writeControl encodes a control message and writes it as one frame.
func writeControl(w io.Writer, v any) error {
	body, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode control message: %w", err)
	}
	return writeFrame(w, frameControl, body)
}

// decodeControl decodes a control frame body into v after checking its
// action.
func decodeControl(body []byte, action string, v any) error {
	var env envelope
	if err := codec.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode control envelope: %w", err)
	}
	if env.Action != action {
		return fmt.Errorf("expected %q message, got %q: %w", action, env.Action, ErrProtocol)
	}
	if err := codec.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %q message: %w", action, err)
	}
	return nil
}

// readControl reads one frame and decodes it as the expected control
// message. A data frame in its place is a protocol violation.
func readControl(r io.Reader, buf []byte, action string, v any) error {
	typ, body, err := readFrame(r, buf)
	if err != nil {
		return err
	}
	if typ != frameControl {
		return fmt.Errorf("expected %q message, got a data frame: %w", action, ErrProtocol)
	}
	return decodeControl(body, action, v)
}

// streamKey is the BLAKE3 domain key for the transfer integrity sum:
// the ASCII domain name zero-padded to 32 bytes.
var streamKey = [32]byte{
	'p', 'a', 'c', 'k', 's', 't', 'r', 'e', 'a', 'm', '.', 'w', 'i', 'r', 'e', '.',
	's', 't', 'r', 'e', 'a', 'm', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// newStreamHasher returns the keyed hasher both ends run over the
// transmitted chunk bytes.
func newStreamHasher() *blake3.Hasher {
	h, err := blake3.NewKeyed(streamKey[:])
	if err != nil {
		panic("wire: BLAKE3 keyed hasher initialization failed: " + err.Error())
	}
	return h
}

func formatSum(h *blake3.Hasher) string {
	return hex.EncodeToString(h.Sum(nil))
}
