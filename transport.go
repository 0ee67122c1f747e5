package packstream

import "context"

// Transport carries a package build to its destination.
//
// Write calls are ordered and sequential; the phase-one header arrives
// through Write like any payload byte. CommitHeader is distinct: it is
// valid once per build, only after every Write for the build has
// completed, and it overwrites the first len(p) bytes of the output. A
// transport that cannot overwrite must fail CommitHeader; the build then
// fails at the commit point, leaving the receiver without a usable
// artifact.
//
// Implementations in this module: [File], [Capture], and wire.Client.
type Transport interface {
	// Begin announces the package: its name, the total size projected
	// from the provisional table, and the exact header size. Entries with
	// deferred sizes make the total an upper-bound estimate; the
	// committed header is authoritative.
	Begin(name string, total, headerSize uint64) error

	// Announce declares the next entry before any of its bytes are
	// written.
	Announce(name string, size uint64) error

	// Write appends payload bytes in order.
	Write(p []byte) error

	// CommitHeader overwrites the header region at offset zero with the
	// finalized header. It is the build's commit point.
	CommitHeader(p []byte) error
}

// Waiter is implemented by transports that must wait for their peer before
// a build can begin. Build calls WaitReady, bounded by the caller's
// context, before Begin.
type Waiter interface {
	WaitReady(ctx context.Context) error
}
