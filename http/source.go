// Package http provides a content source backed by HTTP range requests.
//
// A Source serves two roles. As a [packstream.Source] it streams remote
// bytes into a build. As an [io.ReaderAt] it gives [packstream.List] and
// [packstream.Verify] random access to a remote package without
// downloading it; listing reads only the header region.
//
// The size a Source reports is probed once, at construction. Builds
// project entry offsets from that size, so the remote content must not
// change afterwards: every later request pins the probed ETag and
// modification time, and a changed remote fails with [ErrRemoteChanged]
// instead of streaming inconsistent bytes.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/sigmaboy/packstream"
)

// ErrRemoteChanged is returned when the remote content no longer matches
// the validators captured when the source was created.
var ErrRemoteChanged = errors.New("remote content changed since probe")

// Source reads remote content over HTTP. It implements
// [packstream.Source] for streaming and [io.ReaderAt] for inspection.
type Source struct {
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	size         uint64
	etag         string
	lastModified string
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		if client != nil {
			s.client = client
		}
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// NewSource creates a Source for url. It probes the remote for its size
// and content validators; the remote must answer range requests.
func NewSource(url string, opts ...Option) (*Source, error) {
	s := &Source{
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.probe(); err != nil {
		return nil, err
	}
	return s, nil
}

// Size returns the probed size of the remote content.
func (s *Source) Size() uint64 {
	return s.size
}

// Open starts a full-content download. The returned reader yields at most
// Size bytes; a remote that shrank mid-stream surfaces as a short read.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := s.newRequest(ctx, nethttp.MethodGet)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case nethttp.StatusOK:
	case nethttp.StatusPreconditionFailed:
		drain(resp.Body)
		return nil, fmt.Errorf("open %s: %w", s.url, ErrRemoteChanged)
	default:
		drain(resp.Body)
		return nil, fmt.Errorf("open %s: %s", s.url, resp.Status)
	}

	return &bodyReader{
		body:   resp.Body,
		reader: io.LimitReader(resp.Body, int64(s.size)),
	}, nil
}

// ReadAt reads remote bytes at the given offset with a range request.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if uint64(off) >= s.size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	expected := len(p)
	if uint64(end) >= s.size {
		end = int64(s.size) - 1
		expected = int(end - off + 1)
	}

	req, err := s.newRequest(context.Background(), nethttp.MethodGet)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusPreconditionFailed:
		return 0, fmt.Errorf("read %s: %w", s.url, ErrRemoteChanged)
	case nethttp.StatusOK:
		return 0, errors.New("range requests not supported")
	default:
		return 0, fmt.Errorf("range request failed: %s", resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p[:expected])
	if err != nil {
		return n, err
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// probe determines the remote size and captures its validators. A HEAD
// is advisory; the range probe is authoritative and doubles as the range
// support check.
func (s *Source) probe() error {
	var headSize int64 = -1
	if req, err := s.newRequest(context.Background(), nethttp.MethodHead); err == nil {
		if resp, err := s.client.Do(req); err == nil {
			headSize = resp.ContentLength
			s.etag = resp.Header.Get("ETag")
			s.lastModified = resp.Header.Get("Last-Modified")
			drain(resp.Body)
		}
	}

	req, err := s.newRequest(context.Background(), nethttp.MethodGet)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent, nethttp.StatusRequestedRangeNotSatisfiable:
		// 416 still carries the total size for zero-length content.
	case nethttp.StatusOK:
		return errors.New("range requests not supported")
	default:
		return fmt.Errorf("range probe failed: %s", resp.Status)
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return errors.New("range probe missing Content-Range")
	}
	size, err := parseContentRange(crange)
	if err != nil {
		return err
	}
	if headSize >= 0 && headSize != size {
		return fmt.Errorf("content size mismatch: head=%d range=%d", headSize, size)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		s.etag = etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		s.lastModified = lm
	}
	s.size = uint64(size)
	return nil
}

func (s *Source) newRequest(ctx context.Context, method string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if method == nethttp.MethodGet {
		if s.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		}
		if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return req, nil
}

// bodyReader caps a response body at the probed size and drains the rest
// on close so the connection can be reused.
type bodyReader struct {
	body   io.ReadCloser
	reader io.Reader
}

func (r *bodyReader) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *bodyReader) Close() error {
	drain(r.body)
	return nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}

var (
	_ packstream.Source = (*Source)(nil)
	_ io.ReaderAt       = (*Source)(nil)
)
