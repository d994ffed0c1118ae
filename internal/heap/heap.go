// Package heap manages the contiguous payload region of a container.
//
// Offsets are relative to the start of the heap. The first bytes of the
// heap hold the TOC digest; member payloads follow in append order.
package heap

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/mackyle/xar/internal/xartype"
)

// ErrOutOfBounds is returned when a span does not lie within the heap.
var ErrOutOfBounds = errors.New("heap: span out of bounds")

// Writer appends payloads to a temporary file. It is not safe for
// concurrent use.
type Writer struct {
	f    *os.File
	base uint64
	size uint64
}

// NewWriter creates a heap backed by a temp file in dir. The first base
// bytes are reserved and not stored by the Writer.
func NewWriter(dir string, base uint64) (*Writer, error) {
	f, err := os.CreateTemp(dir, ".xar-heap-*")
	if err != nil {
		return nil, fmt.Errorf("create heap file: %w", err)
	}
	return &Writer{f: f, base: base}, nil
}

// Append writes p to the end of the heap and returns its span.
func (w *Writer) Append(p []byte) (offset, length uint64, err error) {
	offset, ok := AddUint64(w.base, w.size)
	if !ok {
		return 0, 0, xartype.ErrSizeOverflow
	}
	length = uint64(len(p))
	next, ok := AddUint64(w.size, length)
	if !ok {
		return 0, 0, xartype.ErrSizeOverflow
	}
	if _, err := w.f.Write(p); err != nil {
		// The file position is unknown after a short write.
		return 0, 0, fmt.Errorf("append to heap: %w", err)
	}
	w.size = next
	return offset, length, nil
}

// Size returns the heap length including the reserved prefix.
func (w *Writer) Size() uint64 {
	return w.base + w.size
}

// WriteTo copies the appended payloads to dst. The reserved prefix is not
// written.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind heap: %w", err)
	}
	n, err := io.Copy(dst, w.f)
	if err != nil {
		return n, fmt.Errorf("copy heap: %w", err)
	}
	if uint64(n) != w.size { //nolint:gosec // io.Copy never returns a negative count
		return n, fmt.Errorf("copy heap: wrote %d of %d bytes", n, w.size)
	}
	if _, err := w.f.Seek(0, io.SeekEnd); err != nil {
		return n, fmt.Errorf("seek heap end: %w", err)
	}
	return n, nil
}

// Close closes and removes the temp file.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	name := w.f.Name()
	closeErr := w.f.Close()
	w.f = nil
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return closeErr
}

// Reader reads spans from a heap stored in a larger ReaderAt.
// It is safe for concurrent use when r is.
type Reader struct {
	r       io.ReaderAt
	start   int64
	size    uint64
	maxSpan uint64
}

// NewReader returns a Reader over the size bytes of r beginning at start.
// Spans longer than maxSpan fail with ErrSizeOverflow; zero disables the limit.
func NewReader(r io.ReaderAt, start int64, size, maxSpan uint64) *Reader {
	return &Reader{r: r, start: start, size: size, maxSpan: maxSpan}
}

// Size returns the heap length.
func (h *Reader) Size() uint64 {
	return h.size
}

// Read returns the length bytes at offset.
func (h *Reader) Read(offset, length uint64) ([]byte, error) {
	end, ok := AddUint64(offset, length)
	if !ok || end > h.size {
		return nil, fmt.Errorf("%w: [%d,+%d) in heap of %d bytes", ErrOutOfBounds, offset, length, h.size)
	}
	if h.maxSpan > 0 && length > h.maxSpan {
		return nil, fmt.Errorf("%w: span of %d bytes exceeds limit %d", xartype.ErrSizeOverflow, length, h.maxSpan)
	}
	n, err := ToInt(length)
	if err != nil {
		return nil, err
	}
	off, err := ToInt64(offset)
	if err != nil {
		return nil, err
	}
	pos := h.start + off
	if pos < h.start {
		return nil, xartype.ErrSizeOverflow
	}

	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	read, err := h.r.ReadAt(buf, pos)
	if read == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("read heap [%d,+%d): %w", offset, length, err)
}

// AddUint64 adds a and b, reporting false on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// ToInt64 converts v to int64 or fails with ErrSizeOverflow.
func ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, xartype.ErrSizeOverflow
	}
	return int64(v), nil
}

// ToInt converts v to int or fails with ErrSizeOverflow.
func ToInt(v uint64) (int, error) {
	if v > math.MaxInt {
		return 0, xartype.ErrSizeOverflow
	}
	return int(v), nil
}
