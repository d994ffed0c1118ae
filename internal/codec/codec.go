// Package codec implements the byte transforms applied to member payloads
// before they are appended to the heap.
//
// Encodings are tagged: the tag is recorded next to every payload so that
// data written with one default can be decoded after the default changes.
// EncodingNone (store) is always available.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Encoding identifies the transform applied to a payload.
type Encoding uint8

const (
	// EncodingNone stores bytes unchanged.
	EncodingNone Encoding = iota

	// EncodingGzip is zlib-wrapped deflate, tagged application/x-gzip
	// for compatibility with existing xar readers.
	EncodingGzip

	// EncodingZstd is a single zstd frame.
	EncodingZstd

	// EncodingLZ4 is one LZ4 block. The decoded length must be known.
	EncodingLZ4
)

// Default is the encoding used when none is configured.
const Default = EncodingZstd

var (
	// ErrIncompressible is returned by Encode when the encoded form would not
	// be smaller than the input. Callers fall back to EncodingNone.
	ErrIncompressible = errors.New("codec: data is incompressible")

	// ErrDecompression is returned when encoded bytes cannot be decoded.
	ErrDecompression = errors.New("codec: decompression failed")

	// ErrSizeOverflow is returned when a decoded payload would exceed the
	// configured limit or does not match its recorded size.
	ErrSizeOverflow = errors.New("codec: size overflow")

	// ErrUnknownEncoding is returned for unrecognized encoding tags.
	ErrUnknownEncoding = errors.New("codec: unknown encoding")
)

var mediaTypes = map[Encoding]string{
	EncodingNone: "application/octet-stream",
	EncodingGzip: "application/x-gzip",
	EncodingZstd: "application/zstd",
	EncodingLZ4:  "application/x-lz4",
}

var shortNames = map[Encoding]string{
	EncodingNone: "none",
	EncodingGzip: "gzip",
	EncodingZstd: "zstd",
	EncodingLZ4:  "lz4",
}

// String returns the short name of the encoding.
func (e Encoding) String() string {
	if n, ok := shortNames[e]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(e))
}

// MediaType returns the tag recorded in the TOC.
func (e Encoding) MediaType() string {
	return mediaTypes[e]
}

// Valid reports whether e is a known encoding.
func (e Encoding) Valid() bool {
	_, ok := mediaTypes[e]
	return ok
}

// ParseEncoding accepts a media type tag or a short name.
// "application/zlib" is accepted as an alias for EncodingGzip.
func ParseEncoding(s string) (Encoding, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "application/zlib" {
		return EncodingGzip, nil
	}
	for e, mt := range mediaTypes {
		if s == mt || s == shortNames[e] {
			return e, nil
		}
	}
	return EncodingNone, fmt.Errorf("%w: %q", ErrUnknownEncoding, s)
}

// Codec encodes and decodes payloads. A Codec is safe for concurrent use.
type Codec struct {
	zstdEnc          *zstd.Encoder
	decoders         *decoderPool
	zstdLevel        zstd.EncoderLevel
	zlibLevel        int
	maxDecodedSize   uint64
	maxDecoderMemory uint64
}

// Option configures a Codec.
type Option func(*Codec)

// WithZstdLevel sets the zstd encoder level.
func WithZstdLevel(level zstd.EncoderLevel) Option {
	return func(c *Codec) {
		c.zstdLevel = level
	}
}

// WithZlibLevel sets the zlib compression level.
func WithZlibLevel(level int) Option {
	return func(c *Codec) {
		c.zlibLevel = level
	}
}

// WithMaxDecodedSize bounds the size of any decoded payload.
// Zero disables the limit.
func WithMaxDecodedSize(limit uint64) Option {
	return func(c *Codec) {
		c.maxDecodedSize = limit
	}
}

// WithMaxDecoderMemory bounds zstd decoder memory. Zero uses the library default.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(c *Codec) {
		c.maxDecoderMemory = limit
	}
}

// New creates a Codec.
func New(opts ...Option) (*Codec, error) {
	c := &Codec{
		zstdLevel: zstd.SpeedDefault,
		zlibLevel: zlib.BestCompression,
	}
	for _, opt := range opts {
		opt(c)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(c.zstdLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	c.zstdEnc = enc
	c.decoders = newDecoderPool(c.maxDecoderMemory)
	return c, nil
}

// Close releases encoder resources. Pooled decoders are left to the
// garbage collector.
func (c *Codec) Close() {
	if c.zstdEnc != nil {
		_ = c.zstdEnc.Close() //nolint:errcheck // EncodeAll-only encoder has nothing to flush
	}
}

// Encode transforms data with e. For EncodingNone it returns data unchanged
// (no copy). For the compressing encodings it returns ErrIncompressible when
// the result is not smaller than the input.
func (c *Codec) Encode(e Encoding, data []byte) ([]byte, error) {
	switch e {
	case EncodingNone:
		return data, nil
	case EncodingGzip:
		return c.encodeZlib(data)
	case EncodingZstd:
		out := c.zstdEnc.EncodeAll(data, make([]byte, 0, len(data)/2))
		if len(out) >= len(data) {
			return nil, ErrIncompressible
		}
		return out, nil
	case EncodingLZ4:
		return encodeLZ4(data)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownEncoding, e)
}

// Decode reverses Encode. size is the expected decoded length and must
// match exactly. size is taken from the TOC and is not trusted for
// allocation: output buffers grow with the decoded data.
func (c *Codec) Decode(e Encoding, data []byte, size uint64) ([]byte, error) {
	if c.maxDecodedSize > 0 && size > c.maxDecodedSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrSizeOverflow, size, c.maxDecodedSize)
	}
	if size >= math.MaxInt64 || size > uint64(math.MaxInt) {
		return nil, ErrSizeOverflow
	}

	switch e {
	case EncodingNone:
		if uint64(len(data)) != size {
			return nil, fmt.Errorf("%w: stored payload is %d bytes, want %d", ErrSizeOverflow, len(data), size)
		}
		return data, nil
	case EncodingGzip:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrDecompression, err)
		}
		defer zr.Close()
		return readExact("zlib", zr, len(data), size)
	case EncodingZstd:
		dec, release, err := c.decoders.get(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrDecompression, err)
		}
		defer release()
		return readExact("zstd", dec, len(data), size)
	case EncodingLZ4:
		return decodeLZ4(data, size)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownEncoding, e)
}

// initialCap bounds the first allocation for a decoded payload.
const initialCap = 1 << 20

// readExact reads r to the end, requiring exactly size bytes. At most
// size+1 bytes are read.
func readExact(name string, r io.Reader, encodedLen int, size uint64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(size, uint64(initialCap), uint64(encodedLen)*4+512))) //nolint:gosec // bounded by initialCap
	n, err := io.Copy(&buf, io.LimitReader(r, int64(size)+1))            //nolint:gosec // size < MaxInt64
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecompression, name, err)
	}
	if uint64(n) != size { //nolint:gosec // io.Copy never returns a negative count
		return nil, fmt.Errorf("%w: %s produced %d bytes or more, want %d", ErrSizeOverflow, name, n, size)
	}
	return buf.Bytes(), nil
}

func (c *Codec) encodeZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, c.zlibLevel)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	if buf.Len() >= len(data) {
		return nil, ErrIncompressible
	}
	return buf.Bytes(), nil
}

func encodeLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if n == 0 || n >= len(data) {
		return nil, ErrIncompressible
	}
	return dst[:n], nil
}

// maxLZ4Ratio bounds how far one LZ4 block can expand: a match costs at
// least one byte per 255 bytes of output.
const maxLZ4Ratio = 255

func decodeLZ4(data []byte, size uint64) ([]byte, error) {
	if size > uint64(len(data))*maxLZ4Ratio+16 {
		return nil, fmt.Errorf("%w: lz4 block of %d bytes cannot produce %d", ErrSizeOverflow, len(data), size)
	}
	out := make([]byte, size)
	read, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
	}
	if uint64(read) != size { //nolint:gosec // read is non-negative
		return nil, fmt.Errorf("%w: lz4 produced %d bytes, want %d", ErrSizeOverflow, read, size)
	}
	return out, nil
}
