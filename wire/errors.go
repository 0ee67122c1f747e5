package wire

import "errors"

// ErrProtocol is returned when the peer violates the wire protocol:
// an unknown frame type, an out-of-order message, or a malformed body.
var ErrProtocol = errors.New("wire: protocol violation")

// ErrVersionMismatch is returned when the peer speaks a different
// protocol version.
var ErrVersionMismatch = errors.New("wire: protocol version mismatch")

// ErrFrameTooLarge is returned when a frame exceeds its size cap.
var ErrFrameTooLarge = errors.New("wire: frame too large")

// ErrChecksumMismatch is returned when the transmitted stream's
// integrity sum does not match at commit time.
var ErrChecksumMismatch = errors.New("wire: stream checksum mismatch")

// ErrRejected is returned when the receiver refuses the transfer.
var ErrRejected = errors.New("wire: transfer rejected by receiver")
