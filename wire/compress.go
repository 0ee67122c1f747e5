package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the per-frame compression algorithm. The
// values are protocol constants.
type Compression uint8

const (
	// CompressionNone sends chunks uncompressed. Right for content
	// that is already compressed.
	CompressionNone Compression = 0

	// CompressionLZ4 applies LZ4 block compression per frame. Cheap
	// on CPU with a modest ratio.
	CompressionLZ4 Compression = 1

	// CompressionZstd applies zstd per frame at the default level.
	// Better ratios for text-like content.
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name as used in configuration
// and CLI flags.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("wire: unknown compression %q", name)
	}
}

// dataFrameOverhead is the data frame body prefix: 1 tag byte and the
// 4-byte uncompressed length.
const dataFrameOverhead = 5

// zstdEncoder and zstdDecoder are shared across all clients and
// receivers; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeDataFrame builds a data frame body for one chunk: tag byte,
// uncompressed length, then the possibly compressed bytes. A chunk the
// algorithm cannot shrink is sent uncompressed; the tag byte makes the
// fallback per frame, not per transfer.
func encodeDataFrame(tag Compression, chunk, scratch []byte) ([]byte, error) {
	body := append(scratch[:0], byte(tag), 0, 0, 0, 0)
	binary.BigEndian.PutUint32(body[1:5], uint32(len(chunk)))

	switch tag {
	case CompressionNone:
		return append(body, chunk...), nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(chunk))
		dst := make([]byte, bound)
		n, err := lz4.CompressBlock(chunk, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(chunk) {
			body[0] = byte(CompressionNone)
			return append(body, chunk...), nil
		}
		return append(body, dst[:n]...), nil

	case CompressionZstd:
		dst := zstdEncoder.EncodeAll(chunk, nil)
		if len(dst) >= len(chunk) {
			body[0] = byte(CompressionNone)
			return append(body, chunk...), nil
		}
		return append(body, dst...), nil

	default:
		return nil, fmt.Errorf("wire: unsupported compression tag %d", tag)
	}
}

// decodeDataFrame unpacks a data frame body into the original chunk.
func decodeDataFrame(body []byte) ([]byte, error) {
	if len(body) < dataFrameOverhead {
		return nil, fmt.Errorf("%d byte data frame: %w", len(body), ErrProtocol)
	}
	tag := Compression(body[0])
	size := binary.BigEndian.Uint32(body[1:5])
	if size > MaxDataFrame {
		return nil, fmt.Errorf("%d byte chunk exceeds %d: %w", size, MaxDataFrame, ErrFrameTooLarge)
	}
	payload := body[dataFrameOverhead:]

	switch tag {
	case CompressionNone:
		if uint32(len(payload)) != size {
			return nil, fmt.Errorf("uncompressed chunk is %d bytes, declared %d: %w",
				len(payload), size, ErrProtocol)
		}
		return payload, nil

	case CompressionLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint32(n) != size {
			return nil, fmt.Errorf("lz4 chunk is %d bytes, declared %d: %w", n, size, ErrProtocol)
		}
		return dst, nil

	case CompressionZstd:
		dst, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint32(len(dst)) != size {
			return nil, fmt.Errorf("zstd chunk is %d bytes, declared %d: %w", len(dst), size, ErrProtocol)
		}
		return dst, nil

	default:
		return nil, fmt.Errorf("compression tag %d: %w", tag, ErrProtocol)
	}
}
