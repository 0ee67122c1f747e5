// Package table implements the archive entry table: an ordered collection of
// named, sized entries that serializes to the fixed binary header at the
// front of a package file.
//
// Entry offsets are never stored; they are recomputed on every serialization
// as the running sum of prior entry sizes. Names occupy fixed slots in the
// string table, reserved when the entry is added, so renaming an entry never
// changes the header size or any entry offset. The two-phase header exchange
// depends on that stability.
package table

import (
	"fmt"
	"strings"

	"github.com/sigmaboy/packstream/internal/packtype"
)

// Layout constants for the serialized header.
const (
	// Magic identifies a package header.
	Magic = "PKS0"

	// MaxEntries bounds the entry count of a single package.
	MaxEntries = 256

	// MaxNameLen bounds a single entry name, excluding its NUL terminator.
	MaxNameLen = 255

	// MaxHeaderSize bounds the serialized header.
	MaxHeaderSize = 128 * 1024

	preambleSize = 16
	recordSize   = 24
	headerAlign  = 32
)

type entry struct {
	name     string
	slot     int // string table bytes reserved at Add, fixed for life
	size     uint64
	streamed bool
}

// Table is an ordered collection of archive entries.
//
// The zero value is an empty table ready for use. Table is not safe for
// concurrent use.
type Table struct {
	entries []entry
	names   int // string table bytes before alignment padding
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// Add appends an entry and returns its index.
//
// The name's string table slot is fixed at len(name)+1 bytes; any later
// Rename must fit the same slot. The entry's offset is not assigned here, it
// falls out of the sizes of prior entries at serialization time.
func (t *Table) Add(name string, size uint64) (int, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	if len(name) > MaxNameLen {
		return 0, fmt.Errorf("add %q: %w", name, packtype.ErrNameTooLong)
	}
	if len(t.entries) >= MaxEntries {
		return 0, fmt.Errorf("add %q: %w", name, packtype.ErrCapacity)
	}
	slot := len(name) + 1
	if headerSize(len(t.entries)+1, t.names+slot) > MaxHeaderSize {
		return 0, fmt.Errorf("add %q: %w", name, packtype.ErrCapacity)
	}
	t.entries = append(t.entries, entry{name: name, slot: slot, size: size})
	t.names += slot
	return len(t.entries) - 1, nil
}

// Rename replaces the name of entry i in place.
//
// The new name must fit the slot reserved by Add, so it can be at most as
// long as the original name. Shorter names are NUL padded in the string
// table. Index, size, and offset are unchanged.
func (t *Table) Rename(i int, name string) error {
	if err := t.check(i); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}
	if len(name)+1 > t.entries[i].slot {
		return fmt.Errorf("rename %q to %q: %w", t.entries[i].name, name, packtype.ErrNameTooLong)
	}
	t.entries[i].name = name
	return nil
}

// Resize replaces the size of entry i.
//
// Sizes freeze once the entry has been announced to the transport; resizing
// a streamed entry fails with ErrEntryStreamed.
func (t *Table) Resize(i int, size uint64) error {
	if err := t.check(i); err != nil {
		return err
	}
	if t.entries[i].streamed {
		return fmt.Errorf("resize %q: %w", t.entries[i].name, packtype.ErrEntryStreamed)
	}
	t.entries[i].size = size
	return nil
}

// MarkStreamed records that entry i has been announced, freezing its size.
func (t *Table) MarkStreamed(i int) {
	t.entries[i].streamed = true
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Name returns the current name of entry i.
func (t *Table) Name(i int) string {
	return t.entries[i].name
}

// Size returns the declared size of entry i.
func (t *Table) Size(i int) uint64 {
	return t.entries[i].size
}

// Offset returns entry i's data offset, relative to the end of the header.
func (t *Table) Offset(i int) uint64 {
	var off uint64
	for _, e := range t.entries[:i] {
		off += e.size
	}
	return off
}

// HeaderSize returns the size of the serialized header. It depends only on
// the entry count and the name slots, never on names, sizes, or renames.
func (t *Table) HeaderSize() uint64 {
	return headerSize(len(t.entries), t.names)
}

// DataSize returns the sum of all entry sizes.
func (t *Table) DataSize() uint64 {
	var n uint64
	for _, e := range t.entries {
		n += e.size
	}
	return n
}

// TotalSize returns the full package size, header included.
func (t *Table) TotalSize() uint64 {
	return t.HeaderSize() + t.DataSize()
}

func (t *Table) check(i int) error {
	if i < 0 || i >= len(t.entries) {
		return fmt.Errorf("packstream: entry index %d out of range [0,%d)", i, len(t.entries))
	}
	return nil
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("packstream: empty entry name")
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("packstream: entry name %q contains NUL", name)
	}
	return nil
}

func headerSize(count, names int) uint64 {
	raw := uint64(preambleSize + recordSize*count + names)
	return (raw + headerAlign - 1) &^ (headerAlign - 1)
}
