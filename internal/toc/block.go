package toc

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"

	"github.com/mackyle/xar/internal/xartype"
)

// Compress zlib-compresses an encoded TOC document.
func Compress(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}
	if _, err := zw.Write(doc); err != nil {
		return nil, fmt.Errorf("compress toc: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress toc: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a TOC block. The result must be exactly size bytes,
// and size may not exceed limit (zero means no limit). The output grows
// with the inflated data, so a recorded size is never allocated up front.
func Decompress(block []byte, size, limit uint64) ([]byte, error) {
	if limit > 0 && size > limit {
		return nil, fmt.Errorf("%w: toc is %d bytes, limit %d", xartype.ErrSizeOverflow, size, limit)
	}
	if size >= math.MaxInt64 {
		return nil, xartype.ErrSizeOverflow
	}

	zr, err := zlib.NewReader(bytes.NewReader(block))
	if err != nil {
		return nil, fmt.Errorf("%w: toc: %w", ErrFormat, err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(zr, int64(size)+1)); err != nil {
		return nil, fmt.Errorf("%w: toc: %w", ErrFormat, err)
	}
	if uint64(buf.Len()) != size {
		return nil, fmt.Errorf("%w: toc length does not match recorded %d bytes", ErrFormat, size)
	}
	return buf.Bytes(), nil
}
