package wire

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sigmaboy/packstream"
	"github.com/sigmaboy/packstream/internal/testutil"
	"github.com/sigmaboy/packstream/manifest"
)

// testPlan builds a plan with compressible and incompressible content,
// icons, descriptors, and credentials. Deterministic, so two builds of
// it produce byte-identical packages.
func testPlan() *packstream.Plan {
	r := manifest.NewRenderer("wire.pack", manifest.WithVersion("1.0.0"))
	return &packstream.Plan{
		Name: "wire.pack",
		Programs: []packstream.Program{
			{
				Content:    packstream.BytesSource(bytes.Repeat([]byte("abcdefgh"), 8<<10)),
				Descriptor: r.ItemDescriptor,
			},
			{Content: packstream.BytesSource(testutil.Pattern(32<<10, 40))},
		},
		Controls: []packstream.Control{
			{
				Content: packstream.BytesSource(testutil.Pattern(2<<10, 41)),
				Icons:   []packstream.Icon{{Locale: "en-US", Data: testutil.Pattern(512, 42)}},
			},
		},
		Meta:     &packstream.Meta{Descriptor: r.PackageDescriptor},
		Renderer: r,
		Credentials: &packstream.StaticCredentials{
			Rights:        strings.Repeat("f", 32),
			PersonalToken: testutil.Pattern(704, 43),
			PersonalChain: testutil.Pattern(1792, 44),
		},
	}
}

func pipes(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	cli, srv := net.Pipe()
	t.Cleanup(func() {
		cli.Close()
		srv.Close()
	})
	return cli, srv
}

// transfer runs a build through a client against a receiver and returns
// both outcomes.
func transfer(t *testing.T, plan *packstream.Plan, tr packstream.Transport, clientOpts ...Option) (*packstream.Report, error, *Summary, error) {
	t.Helper()
	cli, srv := pipes(t)

	var (
		rep      *packstream.Report
		buildErr error
		sum      *Summary
		recvErr  error
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		sum, recvErr = Receive(context.Background(), srv, tr)
		return nil
	})
	g.Go(func() error {
		rep, buildErr = packstream.Build(context.Background(), plan, NewClient(cli, clientOpts...))
		return nil
	})
	require.NoError(t, g.Wait())
	return rep, buildErr, sum, recvErr
}

func TestTransferRoundTrip(t *testing.T) {
	t.Parallel()

	// The reference build, straight into a local capture.
	local := &packstream.Capture{}
	_, err := packstream.Build(context.Background(), testPlan(), local)
	require.NoError(t, err)

	for _, tag := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		tag := tag
		t.Run(tag.String(), func(t *testing.T) {
			t.Parallel()

			remote := &packstream.Capture{}
			rep, buildErr, sum, recvErr := transfer(t, testPlan(), remote, WithCompression(tag))
			require.NoError(t, buildErr)
			require.NoError(t, recvErr)

			// The receiver materialized exactly the bytes a local build
			// would have produced.
			assert.Equal(t, local.Final(), remote.Final())
			assert.Equal(t, rep.TotalSize, sum.Received)
			assert.Equal(t, rep.HeaderSize, sum.HeaderSize)
			assert.Equal(t, "wire.pack", sum.Name)

			_, err := packstream.Verify(context.Background(), bytes.NewReader(remote.Final()))
			require.NoError(t, err)
		})
	}
}

func TestTransferSmallChunks(t *testing.T) {
	t.Parallel()

	local := &packstream.Capture{}
	_, err := packstream.Build(context.Background(), testPlan(), local)
	require.NoError(t, err)

	cli, srv := pipes(t)
	remote := &packstream.Capture{}

	g := new(errgroup.Group)
	var recvErr, buildErr error
	g.Go(func() error {
		_, recvErr = Receive(context.Background(), srv, remote)
		return nil
	})
	g.Go(func() error {
		_, buildErr = packstream.Build(context.Background(), testPlan(),
			NewClient(cli, WithCompression(CompressionZstd)),
			packstream.WithChunkSize(7000))
		return nil
	})
	require.NoError(t, g.Wait())
	require.NoError(t, buildErr)
	require.NoError(t, recvErr)
	assert.Equal(t, local.Final(), remote.Final())
}

func TestTransferIntoFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "received.pack")
	ft, err := packstream.CreateFile(path)
	require.NoError(t, err)

	rep, buildErr, sum, recvErr := transfer(t, testPlan(), ft)
	require.NoError(t, buildErr)
	require.NoError(t, recvErr)
	require.NoError(t, ft.Close())

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, rep.TotalSize, uint64(st.Size()))
	assert.Equal(t, sum.Received, uint64(st.Size()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = packstream.Verify(context.Background(), bytes.NewReader(raw))
	require.NoError(t, err)
}

// tamperedPipe interposes a frame-aware middlebox that flips one byte
// inside the first data frame it forwards.
func tamperedPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	cli, mbCli := net.Pipe()
	mbSrv, srv := net.Pipe()
	t.Cleanup(func() {
		cli.Close()
		mbCli.Close()
		mbSrv.Close()
		srv.Close()
	})

	go func() {
		flipped := false
		head := make([]byte, 5)
		for {
			if _, err := io.ReadFull(mbCli, head); err != nil {
				return
			}
			body := make([]byte, binary.BigEndian.Uint32(head[:4])-1)
			if _, err := io.ReadFull(mbCli, body); err != nil {
				return
			}
			if !flipped && head[4] == frameData && len(body) > dataFrameOverhead {
				body[dataFrameOverhead] ^= 0x01
				flipped = true
			}
			if _, err := mbSrv.Write(head); err != nil {
				return
			}
			if _, err := mbSrv.Write(body); err != nil {
				return
			}
		}
	}()
	go io.Copy(mbCli, mbSrv)

	return cli, srv
}

func TestTransferChecksumMismatch(t *testing.T) {
	t.Parallel()

	cli, srv := tamperedPipe(t)
	remote := &packstream.Capture{}

	var (
		buildErr error
		recvErr  error
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		_, recvErr = Receive(context.Background(), srv, remote)
		return nil
	})
	g.Go(func() error {
		_, buildErr = packstream.Build(context.Background(), testPlan(),
			NewClient(cli, WithCompression(CompressionNone)))
		return nil
	})
	require.NoError(t, g.Wait())

	assert.ErrorIs(t, recvErr, ErrChecksumMismatch)
	assert.ErrorIs(t, buildErr, ErrRejected)
	assert.Nil(t, remote.Committed, "a corrupted stream must never commit")
}

func TestVersionMismatch(t *testing.T) {
	t.Parallel()

	t.Run("receiver rejects old sender", func(t *testing.T) {
		t.Parallel()
		cli, srv := pipes(t)

		var recvErr error
		g := new(errgroup.Group)
		g.Go(func() error {
			_, recvErr = Receive(context.Background(), srv, &packstream.Capture{})
			return nil
		})

		require.NoError(t, writeControl(cli, &helloMessage{Action: actionHello, Version: 99}))
		buf := make([]byte, 4<<10)
		var ready readyMessage
		require.NoError(t, readControl(cli, buf, actionReady, &ready))
		assert.Equal(t, uint(ProtocolVersion), ready.Version)

		var ack ackMessage
		require.NoError(t, readControl(cli, buf, actionAck, &ack))
		assert.False(t, ack.OK)

		require.NoError(t, g.Wait())
		assert.ErrorIs(t, recvErr, ErrVersionMismatch)
	})

	t.Run("client rejects old receiver", func(t *testing.T) {
		t.Parallel()
		cli, srv := pipes(t)

		g := new(errgroup.Group)
		g.Go(func() error {
			buf := make([]byte, 4<<10)
			var hello helloMessage
			if err := readControl(srv, buf, actionHello, &hello); err != nil {
				return err
			}
			return writeControl(srv, &readyMessage{Action: actionReady, Version: 7})
		})

		err := NewClient(cli).WaitReady(context.Background())
		assert.ErrorIs(t, err, ErrVersionMismatch)
		require.NoError(t, g.Wait())
	})
}

func TestReceiveRejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	cli, srv := pipes(t)

	var recvErr error
	g := new(errgroup.Group)
	g.Go(func() error {
		_, recvErr = Receive(context.Background(), srv, &packstream.Capture{})
		return nil
	})

	require.NoError(t, writeControl(cli, &helloMessage{Action: actionHello, Version: ProtocolVersion}))
	buf := make([]byte, 4<<10)
	var ready readyMessage
	require.NoError(t, readControl(cli, buf, actionReady, &ready))

	// An announce where the begin belongs.
	require.NoError(t, writeControl(cli, &announceMessage{Action: actionAnnounce, Name: "x", Size: 1}))

	var ack ackMessage
	require.NoError(t, readControl(cli, buf, actionAck, &ack))
	assert.False(t, ack.OK)

	require.NoError(t, g.Wait())
	assert.ErrorIs(t, recvErr, ErrProtocol)
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, frameControl, []byte("control body")))
	require.NoError(t, writeFrame(&buf, frameData, []byte{0, 0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}))

	scratch := make([]byte, 16)
	typ, body, err := readFrame(&buf, scratch)
	require.NoError(t, err)
	assert.Equal(t, frameControl, typ)
	assert.Equal(t, []byte("control body"), body)

	typ, _, err = readFrame(&buf, scratch)
	require.NoError(t, err)
	assert.Equal(t, frameData, typ)
}

func TestReadFrameRejects(t *testing.T) {
	t.Parallel()

	frame := func(length uint32, typ byte, body []byte) []byte {
		var head [5]byte
		binary.BigEndian.PutUint32(head[:4], length)
		head[4] = typ
		return append(head[:], body...)
	}

	buf := make([]byte, 64)

	t.Run("zero length", func(t *testing.T) {
		_, _, err := readFrame(bytes.NewReader(frame(0, 0, nil)), buf)
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, _, err := readFrame(bytes.NewReader(frame(4, 0x7F, []byte("abc"))), buf)
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("oversized control", func(t *testing.T) {
		_, _, err := readFrame(bytes.NewReader(frame(MaxControlFrame+2, frameControl, nil)), buf)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("truncated body", func(t *testing.T) {
		_, _, err := readFrame(bytes.NewReader(frame(10, frameControl, []byte("ab"))), buf)
		require.Error(t, err)
	})
}

func TestDataFrameCodec(t *testing.T) {
	t.Parallel()

	compressible := bytes.Repeat([]byte("the quick brown fox "), 512)
	incompressible := testutil.Pattern(8<<10, 50)

	for _, tag := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		tag := tag
		t.Run(tag.String(), func(t *testing.T) {
			t.Parallel()

			body, err := encodeDataFrame(tag, compressible, nil)
			require.NoError(t, err)
			if tag != CompressionNone {
				assert.Equal(t, byte(tag), body[0])
				assert.Less(t, len(body), len(compressible), "compressible input must shrink")
			}
			chunk, err := decodeDataFrame(body)
			require.NoError(t, err)
			assert.Equal(t, compressible, chunk)

			// Pseudorandom input falls back to an uncompressed frame.
			body, err = encodeDataFrame(tag, incompressible, nil)
			require.NoError(t, err)
			assert.Equal(t, byte(CompressionNone), body[0])
			chunk, err = decodeDataFrame(body)
			require.NoError(t, err)
			assert.Equal(t, incompressible, chunk)
		})
	}

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()
		_, err := decodeDataFrame([]byte{1, 0})
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("declared size mismatch", func(t *testing.T) {
		t.Parallel()
		body, err := encodeDataFrame(CompressionNone, []byte("abcd"), nil)
		require.NoError(t, err)
		binary.BigEndian.PutUint32(body[1:5], 3)
		_, err = decodeDataFrame(body)
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("declared size over cap", func(t *testing.T) {
		t.Parallel()
		body, err := encodeDataFrame(CompressionNone, []byte("abcd"), nil)
		require.NoError(t, err)
		binary.BigEndian.PutUint32(body[1:5], MaxDataFrame+1)
		_, err = decodeDataFrame(body)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"none", CompressionNone, false},
		{"", CompressionNone, false},
		{"lz4", CompressionLZ4, false},
		{"zstd", CompressionZstd, false},
		{"gzip", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseCompression(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}
