package packstream

import (
	"fmt"
	"os"
)

// File is a Transport writing a package to local storage. Write appends;
// CommitHeader rewrites the header region in place and truncates the file
// to the bytes actually streamed, dropping any preallocation excess.
type File struct {
	f         *os.File
	written   int64
	committed bool
}

// CreateFile creates path, truncating an existing file, and returns a file
// transport over it.
func CreateFile(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &File{f: f}, nil
}

// Begin preallocates the projected package size.
func (t *File) Begin(name string, total, headerSize uint64) error {
	if err := t.f.Truncate(int64(total)); err != nil {
		return fmt.Errorf("preallocate %d bytes: %w", total, err)
	}
	return nil
}

// Announce is a no-op; the file layout is fully determined by Write order.
func (t *File) Announce(name string, size uint64) error {
	return nil
}

func (t *File) Write(p []byte) error {
	n, err := t.f.Write(p)
	t.written += int64(n)
	if err != nil {
		return fmt.Errorf("write at %d: %w", t.written, err)
	}
	return nil
}

func (t *File) CommitHeader(p []byte) error {
	if t.committed {
		return fmt.Errorf("packstream: header already committed")
	}
	if _, err := t.f.WriteAt(p, 0); err != nil {
		return fmt.Errorf("rewrite header: %w", err)
	}
	if err := t.f.Truncate(t.written); err != nil {
		return fmt.Errorf("truncate to %d: %w", t.written, err)
	}
	t.committed = true
	return nil
}

// Close syncs and closes the underlying file. An uncommitted file is left
// in place for inspection; it is not a valid package.
func (t *File) Close() error {
	if err := t.f.Sync(); err != nil {
		t.f.Close()
		return fmt.Errorf("sync: %w", err)
	}
	return t.f.Close()
}
