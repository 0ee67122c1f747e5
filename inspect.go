package packstream

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sigmaboy/packstream/internal/table"
)

// Entry is one entry of a built package, as read back from its header.
type Entry struct {
	Name   string
	Offset uint64 // absolute file offset
	Size   uint64
}

const verifyChunkSize = 1 << 20

// List parses a built package's header and returns its entries in layout
// order. Offsets are absolute within the file.
func List(r io.ReaderAt) ([]Entry, error) {
	h, err := table.Parse(r)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(h.Entries))
	for _, e := range h.Entries {
		entries = append(entries, Entry{
			Name:   e.Name,
			Offset: h.Size + e.Offset,
			Size:   e.Size,
		})
	}
	return entries, nil
}

// Verify re-reads every payload entry of a built package, recomputes its
// digest, and checks the identifier embedded in its name. Auxiliary
// entries (descriptors, icons, credentials) are skipped; their names
// derive from their owners' identifiers, not their own content.
//
// A package whose header was never committed still carries placeholder
// names and fails verification.
func Verify(ctx context.Context, r io.ReaderAt) ([]Entry, error) {
	entries, err := List(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, verifyChunkSize)
	checked := make([]Entry, 0, len(entries))
	for _, e := range entries {
		id, ok := payloadID(e.Name)
		if !ok {
			continue
		}
		acc := NewAccumulator()
		var off uint64
		for off < e.Size {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			n := uint64(len(buf))
			if rem := e.Size - off; rem < n {
				n = rem
			}
			if _, err := r.ReadAt(buf[:n], int64(e.Offset+off)); err != nil {
				return nil, fmt.Errorf("read %s at %d: %w", e.Name, off, err)
			}
			if err := acc.Update(buf[:n]); err != nil {
				return nil, err
			}
			off += n
		}
		got, err := IDFromDigest(acc.Finalize())
		if err != nil {
			return nil, err
		}
		if got != id {
			return nil, fmt.Errorf("%s: content hashes to %s: %w", e.Name, got, ErrIdentifierMismatch)
		}
		checked = append(checked, e)
	}
	return checked, nil
}

// payloadID extracts the identifier from a payload entry name. The
// ".meta.item" suffix must be tried first; ".item" is a suffix of it.
func payloadID(name string) (ID, bool) {
	base, ok := strings.CutSuffix(name, ".meta.item")
	if !ok {
		base, ok = strings.CutSuffix(name, ".item")
	}
	if !ok {
		return ID{}, false
	}
	id, err := ParseID(base)
	if err != nil {
		return ID{}, false
	}
	return id, true
}
