package packstream

import (
	"bytes"
	"fmt"
)

// CaptureEntry records one Announce call.
type CaptureEntry struct {
	Name string
	Size uint64
}

// Capture is an in-memory Transport recording everything a build emits. It
// backs the package's tests and serves as a dry-run target.
type Capture struct {
	Name       string
	Total      uint64
	HeaderSize uint64
	Entries    []CaptureEntry

	// Committed holds the finalized header once CommitHeader runs; nil
	// before the commit point.
	Committed []byte

	// WriteCalls counts Write invocations, the phase-one header included.
	WriteCalls int

	buf bytes.Buffer
}

func (t *Capture) Begin(name string, total, headerSize uint64) error {
	t.Name, t.Total, t.HeaderSize = name, total, headerSize
	return nil
}

func (t *Capture) Announce(name string, size uint64) error {
	t.Entries = append(t.Entries, CaptureEntry{Name: name, Size: size})
	return nil
}

func (t *Capture) Write(p []byte) error {
	t.WriteCalls++
	t.buf.Write(p)
	return nil
}

func (t *Capture) CommitHeader(p []byte) error {
	if t.Committed != nil {
		return fmt.Errorf("packstream: header already committed")
	}
	t.Committed = bytes.Clone(p)
	return nil
}

// Stream returns the sequential bytes as written, provisional header first.
func (t *Capture) Stream() []byte {
	return t.buf.Bytes()
}

// Final returns the package image after the header overwrite, or nil
// before the commit point.
func (t *Capture) Final() []byte {
	if t.Committed == nil {
		return nil
	}
	b := bytes.Clone(t.buf.Bytes())
	copy(b, t.Committed)
	return b
}
