package storage

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCodec(t *testing.T) {
	for name, expected := range map[string]Codec{"": CodecNone, "none": CodecNone, "zstd": CodecZstd, "lz4": CodecLZ4} {
		codec, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, expected, codec)
	}
	_, err := ParseCodec("snappy")
	assert.Error(t, err)
	assert.Equal(t, "codec(9)", Codec(9).String())
}

func TestCodec_Streams(t *testing.T) {
	payload := bytes.Repeat([]byte("decoded bitmap row "), 1000)
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			var encoded bytes.Buffer
			writer, err := codec.newWriter(&encoded)
			require.NoError(t, err)
			_, err = writer.Write(payload)
			require.NoError(t, err)
			require.NoError(t, writer.Close())
			if codec != CodecNone {
				assert.Less(t, encoded.Len(), len(payload), "A repetitive payload should compress")
			}

			reader, err := codec.newReader(&encoded)
			require.NoError(t, err)
			decoded, err := io.ReadAll(reader)
			require.NoError(t, err)
			require.NoError(t, reader.Close())
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestContentHeader(t *testing.T) {
	codec, size, err := decodeContentHeader(encodeContentHeader(CodecLZ4, 12345))
	require.NoError(t, err)
	assert.Equal(t, CodecLZ4, codec)
	assert.Equal(t, int64(12345), size)

	_, _, err = decodeContentHeader([]byte{0, 1})
	assert.ErrorIs(t, err, ErrCorruptEntry)
	_, _, err = decodeContentHeader(append([]byte{42}, make([]byte, 8)...))
	assert.ErrorIs(t, err, ErrCorruptEntry)
}
