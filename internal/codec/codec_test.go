package codec

import (
	"bytes"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func compressible() []byte {
	return bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 200)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t)
	data := compressible()

	for _, enc := range []Encoding{EncodingGzip, EncodingZstd, EncodingLZ4} {
		t.Run(enc.String(), func(t *testing.T) {
			t.Parallel()

			encoded, err := c.Encode(enc, data)
			require.NoError(t, err)
			assert.Less(t, len(encoded), len(data))

			decoded, err := c.Decode(enc, encoded, uint64(len(data)))
			require.NoError(t, err)
			assert.Equal(t, data, decoded)
		})
	}
}

func TestEncodeNoneIsIdentity(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t)
	data := []byte("abc")

	out, err := c.Encode(EncodingNone, data)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	back, err := c.Decode(EncodingNone, out, 3)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	_, err = c.Decode(EncodingNone, out, 4)
	require.ErrorIs(t, err, ErrSizeOverflow)
}

func TestEncodeIncompressible(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t)
	data := make([]byte, 4096)
	_, err := rand.Read(data)
	require.NoError(t, err)

	for _, enc := range []Encoding{EncodingGzip, EncodingZstd, EncodingLZ4} {
		_, err := c.Encode(enc, data)
		require.ErrorIs(t, err, ErrIncompressible, enc.String())
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t)
	data := compressible()

	for _, enc := range []Encoding{EncodingGzip, EncodingZstd, EncodingLZ4} {
		encoded, err := c.Encode(enc, data)
		require.NoError(t, err)

		_, err = c.Decode(enc, encoded, uint64(len(data)-1))
		require.Error(t, err, enc.String())
	}
}

func TestDecodeCorrupt(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t)
	garbage := []byte("definitely not a compressed stream")

	for _, enc := range []Encoding{EncodingGzip, EncodingZstd} {
		_, err := c.Decode(enc, garbage, 100)
		require.ErrorIs(t, err, ErrDecompression, enc.String())
	}
}

func TestDecodeMaxSize(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t, WithMaxDecodedSize(16))
	_, err := c.Decode(EncodingZstd, nil, 17)
	require.ErrorIs(t, err, ErrSizeOverflow)
}

func TestDecodeHugeRecordedSize(t *testing.T) {
	t.Parallel()

	// No decoded-size limit: the recorded size alone must not drive allocation.
	c := newTestCodec(t)
	data := compressible()

	for _, enc := range []Encoding{EncodingGzip, EncodingZstd, EncodingLZ4} {
		encoded, err := c.Encode(enc, data)
		require.NoError(t, err)

		_, err = c.Decode(enc, encoded, 1<<50)
		require.ErrorIs(t, err, ErrSizeOverflow, enc.String())

		_, err = c.Decode(enc, []byte{1, 2, 3}, 1<<50)
		require.Error(t, err, enc.String())

		_, err = c.Decode(enc, encoded, 1<<63)
		require.ErrorIs(t, err, ErrSizeOverflow, enc.String())
	}
}

func TestDecodeConcurrent(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t)
	data := compressible()
	encoded, err := c.Encode(EncodingZstd, data)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Go(func() {
			got, err := c.Decode(EncodingZstd, encoded, uint64(len(data)))
			if err == nil && !bytes.Equal(got, data) {
				err = assert.AnError
			}
			errs[i] = err
		})
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestEncodeLevels(t *testing.T) {
	t.Parallel()

	fast := newTestCodec(t, WithZstdLevel(zstd.SpeedFastest), WithZlibLevel(zlib.BestSpeed))
	best := newTestCodec(t, WithZstdLevel(zstd.SpeedBestCompression), WithZlibLevel(zlib.BestCompression))
	data := compressible()

	for _, c := range []*Codec{fast, best} {
		for _, enc := range []Encoding{EncodingGzip, EncodingZstd} {
			encoded, err := c.Encode(enc, data)
			require.NoError(t, err)
			got, err := c.Decode(enc, encoded, uint64(len(data)))
			require.NoError(t, err)
			assert.Equal(t, data, got)
		}
	}
}

func TestParseEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Encoding
	}{
		{"application/octet-stream", EncodingNone},
		{"application/x-gzip", EncodingGzip},
		{"application/zlib", EncodingGzip},
		{"application/zstd", EncodingZstd},
		{"application/x-lz4", EncodingLZ4},
		{"ZSTD", EncodingZstd},
		{"none", EncodingNone},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseEncoding("application/x-bzip2")
	require.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestSelect(t *testing.T) {
	t.Parallel()

	skips := []SkipCompressionFunc{DefaultSkipCompression(64)}

	assert.Equal(t, EncodingNone, Select(EncodingZstd, "small.txt", 10, skips))
	assert.Equal(t, EncodingNone, Select(EncodingZstd, "photo.JPG", 1<<20, skips))
	assert.Equal(t, EncodingZstd, Select(EncodingZstd, "big.txt", 1<<20, skips))
	assert.Equal(t, EncodingNone, Select(EncodingNone, "big.txt", 1<<20, skips))
	assert.Equal(t, EncodingLZ4, Select(EncodingLZ4, "big.txt", 1<<20, nil))
}
