package packstream

import (
	"fmt"

	"github.com/sigmaboy/packstream/internal/packtype"
)

// Errors re-exported from internal/packtype.
var (
	// ErrCapacity is returned when an entry table exceeds its maximum entry
	// count or maximum header size.
	ErrCapacity = packtype.ErrCapacity

	// ErrBufferTooSmall is returned when a header serialization buffer cannot
	// hold the full header.
	ErrBufferTooSmall = packtype.ErrBufferTooSmall

	// ErrNameTooLong is returned when an entry name exceeds the maximum name
	// length, or a rename does not fit the slot reserved for the original name.
	ErrNameTooLong = packtype.ErrNameTooLong

	// ErrEntryStreamed is returned when an entry is resized after it has
	// already been announced to the transport.
	ErrEntryStreamed = packtype.ErrEntryStreamed

	// ErrPatchWindowMissed is returned when a patch targets bytes that have
	// already left the chunk buffer.
	ErrPatchWindowMissed = packtype.ErrPatchWindowMissed

	// ErrHeaderSizeMismatch is returned when the finalized header serializes
	// to a different size than the provisional header.
	ErrHeaderSizeMismatch = packtype.ErrHeaderSizeMismatch

	// ErrDigestFinalized is returned when a digest accumulator is updated
	// after finalization.
	ErrDigestFinalized = packtype.ErrDigestFinalized

	// ErrShortSource is returned when a content source ends before its
	// declared size.
	ErrShortSource = packtype.ErrShortSource

	// ErrIdentifierMismatch is returned when a payload entry's content does
	// not match the identifier in its name.
	ErrIdentifierMismatch = packtype.ErrIdentifierMismatch
)

// BuildError reports a failed build and the protocol phase it had reached.
//
// A failed build leaves the receiving side with a header-incomplete
// artifact; the finalized header commit is the only success point, and no
// resume is possible. Use errors.Is to test for the sentinel causes.
type BuildError struct {
	Phase Phase
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("packstream: build failed after phase %s: %v", e.Phase, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
