package packstream

import "fmt"

// RewriteFunc rewrites bytes in place while an item streams. b is the
// overlap between the patch range and the chunk currently in flight; off is
// the overlap's offset within the patch range, letting a rewrite that spans
// several chunks address its backing data consistently.
type RewriteFunc func(b []byte, off int)

// Patch rewrites a byte range of an item. Offset is absolute within the
// item's transmitted bytes.
type Patch struct {
	Offset  uint64
	Length  uint64
	Rewrite RewriteFunc
}

// Replace returns a patch overwriting len(data) bytes at offset with data.
func Replace(offset uint64, data []byte) Patch {
	return Patch{
		Offset: offset,
		Length: uint64(len(data)),
		Rewrite: func(b []byte, off int) {
			copy(b, data[off:])
		},
	}
}

// patchSet tracks the pending patches of the item currently streaming.
// Patches apply in registration order. Ranges targeting the same bytes are
// a caller contract violation; each item's set must be disjoint.
type patchSet struct {
	patches []Patch
}

// register records p. streamed is the count of item bytes already sent; a
// patch starting below it can no longer be applied and fails with
// ErrPatchWindowMissed.
func (ps *patchSet) register(p Patch, streamed uint64) error {
	if p.Length == 0 {
		return nil
	}
	if p.Offset < streamed {
		return fmt.Errorf("patch [%d,%d) behind stream offset %d: %w",
			p.Offset, p.Offset+p.Length, streamed, ErrPatchWindowMissed)
	}
	ps.patches = append(ps.patches, p)
	return nil
}

// apply rewrites every registered patch intersecting the chunk covering
// [base, base+len(chunk)) of the item's byte space.
func (ps *patchSet) apply(chunk []byte, base uint64) {
	end := base + uint64(len(chunk))
	for _, p := range ps.patches {
		pEnd := p.Offset + p.Length
		if pEnd <= base || p.Offset >= end {
			continue
		}
		lo := max(p.Offset, base)
		hi := min(pEnd, end)
		p.Rewrite(chunk[lo-base:hi-base], int(lo-p.Offset))
	}
}
