package table

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/sigmaboy/packstream/internal/packtype"
)

// Serialized header layout, little endian:
//
//	preamble (16 bytes): magic "PKS0" | entry count u32 | string table size u32 | reserved u32
//	entry records (24 bytes each): data offset u64 | size u64 | name offset u32 | reserved u32
//	string table: NUL terminated names, zero padded to a 32 byte boundary
//
// Data offsets are relative to the end of the header and contiguous.

// Serialize writes the header into buf and returns the number of bytes
// written.
//
// Two serializations of the same table differing only by renames produce the
// same size and identical bytes outside the name region.
func (t *Table) Serialize(buf []byte) (uint64, error) {
	hs := t.HeaderSize()
	if uint64(len(buf)) < hs {
		return 0, fmt.Errorf("header needs %d bytes, have %d: %w", hs, len(buf), packtype.ErrBufferTooSmall)
	}
	b := buf[:hs]
	clear(b)

	copy(b[0:4], Magic)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(t.entries)))
	binary.LittleEndian.PutUint32(b[8:12], uint32(hs)-preambleSize-recordSize*uint32(len(t.entries)))

	rec := b[preambleSize:]
	str := b[preambleSize+recordSize*len(t.entries):]
	var dataOff uint64
	var nameOff uint32
	for _, e := range t.entries {
		binary.LittleEndian.PutUint64(rec[0:8], dataOff)
		binary.LittleEndian.PutUint64(rec[8:16], e.size)
		binary.LittleEndian.PutUint32(rec[16:20], nameOff)
		copy(str[nameOff:], e.name)
		dataOff += e.size
		nameOff += uint32(e.slot)
		rec = rec[recordSize:]
	}
	return hs, nil
}

// Entry is one parsed header entry.
type Entry struct {
	Name   string
	Offset uint64 // relative to the end of the header
	Size   uint64
}

// Header is a parsed package header.
type Header struct {
	Size    uint64 // serialized header size; first data byte sits here
	Entries []Entry
}

// Parse reads and validates a serialized header from the front of r.
func Parse(r io.ReaderAt) (*Header, error) {
	var pre [preambleSize]byte
	if _, err := r.ReadAt(pre[:], 0); err != nil {
		return nil, fmt.Errorf("read preamble: %w", err)
	}
	if string(pre[0:4]) != Magic {
		return nil, fmt.Errorf("packstream: bad magic %q", pre[0:4])
	}
	count := binary.LittleEndian.Uint32(pre[4:8])
	if count > MaxEntries {
		return nil, fmt.Errorf("packstream: entry count %d exceeds %d", count, MaxEntries)
	}
	if binary.LittleEndian.Uint32(pre[12:16]) != 0 {
		return nil, fmt.Errorf("packstream: reserved preamble bytes set")
	}
	sts := binary.LittleEndian.Uint32(pre[8:12])
	hs := uint64(preambleSize) + recordSize*uint64(count) + uint64(sts)
	if hs > MaxHeaderSize || hs%headerAlign != 0 {
		return nil, fmt.Errorf("packstream: implausible header size %d", hs)
	}

	rest := make([]byte, hs-preambleSize)
	if _, err := r.ReadAt(rest, preambleSize); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	strTab := rest[recordSize*int(count):]

	h := &Header{Size: hs, Entries: make([]Entry, 0, count)}
	var next uint64
	for i := 0; i < int(count); i++ {
		rec := rest[recordSize*i:]
		off := binary.LittleEndian.Uint64(rec[0:8])
		size := binary.LittleEndian.Uint64(rec[8:16])
		nameOff := binary.LittleEndian.Uint32(rec[16:20])
		if binary.LittleEndian.Uint32(rec[20:24]) != 0 {
			return nil, fmt.Errorf("packstream: reserved bytes set in entry %d", i)
		}
		if off != next {
			return nil, fmt.Errorf("packstream: entry %d at offset %d, want %d", i, off, next)
		}
		if size > math.MaxUint64-off {
			return nil, fmt.Errorf("packstream: entry %d size overflow", i)
		}
		if nameOff >= sts {
			return nil, fmt.Errorf("packstream: entry %d name offset %d outside string table", i, nameOff)
		}
		end := bytes.IndexByte(strTab[nameOff:], 0)
		if end <= 0 {
			return nil, fmt.Errorf("packstream: entry %d name missing or unterminated", i)
		}
		h.Entries = append(h.Entries, Entry{
			Name:   string(strTab[nameOff : int(nameOff)+end]),
			Offset: off,
			Size:   size,
		})
		next = off + size
	}
	return h, nil
}
