// Package packtype defines shared types used across the packstream package
// and its internal packages. This avoids circular imports between packstream
// and internal/table.
package packtype

import "errors"

// Sentinel errors for package builds.
var (
	// ErrCapacity is returned when an entry table exceeds its maximum entry
	// count or maximum header size.
	ErrCapacity = errors.New("packstream: entry table capacity exceeded")

	// ErrBufferTooSmall is returned when a header serialization buffer cannot
	// hold the full header.
	ErrBufferTooSmall = errors.New("packstream: buffer too small for header")

	// ErrNameTooLong is returned when an entry name exceeds the maximum name
	// length, or a rename does not fit the slot reserved for the original name.
	ErrNameTooLong = errors.New("packstream: entry name too long")

	// ErrEntryStreamed is returned when an entry is resized after its bytes
	// have already been announced to the transport.
	ErrEntryStreamed = errors.New("packstream: entry already streamed")

	// ErrPatchWindowMissed is returned when a patch targets bytes that have
	// already left the chunk buffer.
	ErrPatchWindowMissed = errors.New("packstream: patch window already streamed")

	// ErrHeaderSizeMismatch is returned when the final header serializes to a
	// different size than the provisional header.
	ErrHeaderSizeMismatch = errors.New("packstream: header size changed between phases")

	// ErrDigestFinalized is returned when a digest accumulator is updated
	// after finalization.
	ErrDigestFinalized = errors.New("packstream: digest already finalized")

	// ErrShortSource is returned when a content source ends before its
	// declared size.
	ErrShortSource = errors.New("packstream: source ended before declared size")

	// ErrIdentifierMismatch is returned when a payload entry's content does
	// not match the identifier in its name.
	ErrIdentifierMismatch = errors.New("packstream: content does not match identifier")
)
