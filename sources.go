package packstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// Source supplies an item's bytes: a readable stream of exactly Size bytes.
// Open is called at most once per build, immediately before the item
// streams.
type Source interface {
	Size() uint64
	Open(ctx context.Context) (io.ReadCloser, error)
}

// BytesSource serves a byte slice. The slice must not change until the
// build finishes.
func BytesSource(b []byte) Source {
	return bytesSource(b)
}

type bytesSource []byte

func (s bytesSource) Size() uint64 {
	return uint64(len(s))
}

func (s bytesSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s)), nil
}

// FileSource serves a regular file on disk. The declared size is captured
// here; the file must not change until the build finishes.
func FileSource(path string) (Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("packstream: %s is not a regular file", path)
	}
	return &fileSource{path: path, size: uint64(fi.Size())}, nil
}

type fileSource struct {
	path string
	size uint64
}

func (s *fileSource) Size() uint64 {
	return s.size
}

func (s *fileSource) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(s.path)
}
