// Content files start with a fixed header: one byte naming the codec of the payload followed by the logical
// (uncompressed) payload size as a big endian uint64. The header lets the recovery pass validate a content file
// against its journal record without decoding the payload.

package storage

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the encoding of a content file payload.
type Codec uint8

const (
	CodecNone Codec = iota // Payload is stored as is.
	CodecZstd              // Payload is a zstd frame.
	CodecLZ4               // Payload is an lz4 frame.
)

// contentHeaderLen is the length of the codec byte plus the logical size.
const contentHeaderLen = 1 + 8

// ParseCodec maps a codec name to its Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return CodecNone, fmt.Errorf("unknown content codec %q", name)
	}
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

func (c Codec) valid() bool {
	return c <= CodecLZ4
}

// nopWriteCloser turns a writer into a WriteCloser whose Close does nothing.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// newWriter wraps `w` with the encoder of the codec. Closing the returned writer flushes the encoder but never
// closes `w`.
func (c Codec) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("can not encode with %s", c)
	}
}

// newReader wraps `r` with the decoder of the codec.
func (c Codec) newReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecZstd:
		decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("can not decode %s", c)
	}
}

// encodeContentHeader builds the header of a content file holding `size` logical bytes.
func encodeContentHeader(codec Codec, size int64) []byte {
	header := make([]byte, contentHeaderLen)
	header[0] = byte(codec)
	binary.BigEndian.PutUint64(header[1:], uint64(size))
	return header
}

// decodeContentHeader parses the header of a content file.
func decodeContentHeader(header []byte) (Codec, int64, error) {
	if len(header) < contentHeaderLen {
		return CodecNone, 0, fmt.Errorf("%w: header is %d bytes long", ErrCorruptEntry, len(header))
	}
	codec := Codec(header[0])
	if !codec.valid() {
		return CodecNone, 0, fmt.Errorf("%w: unknown codec byte %d", ErrCorruptEntry, header[0])
	}
	size := int64(binary.BigEndian.Uint64(header[1:contentHeaderLen]))
	if size < 0 {
		return CodecNone, 0, fmt.Errorf("%w: negative size %d", ErrCorruptEntry, size)
	}
	return codec, size, nil
}
