// Package testutil provides helpers shared by package tests.
package testutil

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// MockByteSource implements an in-memory io.ReaderAt for tests.
type MockByteSource struct {
	data  []byte
	reads atomic.Int64
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	return &MockByteSource{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// Reads returns the number of ReadAt calls made.
func (m *MockByteSource) Reads() int64 {
	return m.reads.Load()
}

// Node describes one entry of a source tree. Exactly one of Data, Dir or
// Link is meaningful.
type Node struct {
	Data []byte
	Dir  bool
	Link string
	Mode os.FileMode

	// ModTime is applied after the tree is written when non-zero.
	ModTime time.Time
}

// File returns a regular file node.
func File(data string) Node {
	return Node{Data: []byte(data), Mode: 0o644}
}

// Dir returns a directory node.
func Dir() Node {
	return Node{Dir: true, Mode: 0o755}
}

// Symlink returns a symlink node.
func Symlink(target string) Node {
	return Node{Link: target}
}

// WriteTree creates the nodes under dir. Keys are slash-separated relative
// paths; parents are created as needed.
func WriteTree(tb testing.TB, dir string, nodes map[string]Node) {
	tb.Helper()

	for name, n := range nodes {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			tb.Fatalf("mkdir %s: %v", name, err)
		}
		switch {
		case n.Dir:
			if err := os.MkdirAll(p, 0o755); err != nil {
				tb.Fatalf("mkdir %s: %v", name, err)
			}
			if n.Mode != 0 {
				if err := os.Chmod(p, n.Mode); err != nil {
					tb.Fatalf("chmod %s: %v", name, err)
				}
			}
		case n.Link != "":
			if err := os.Symlink(n.Link, p); err != nil {
				tb.Fatalf("symlink %s: %v", name, err)
			}
		default:
			mode := n.Mode
			if mode == 0 {
				mode = 0o644
			}
			if err := os.WriteFile(p, n.Data, mode); err != nil {
				tb.Fatalf("write %s: %v", name, err)
			}
			if err := os.Chmod(p, mode); err != nil {
				tb.Fatalf("chmod %s: %v", name, err)
			}
		}
	}

	// Times last, since writing children bumps directory mtimes.
	for name, n := range nodes {
		if n.ModTime.IsZero() || n.Link != "" {
			continue
		}
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.Chtimes(p, n.ModTime, n.ModTime); err != nil {
			tb.Fatalf("chtimes %s: %v", name, err)
		}
	}
}

// FlipByte inverts one byte of the file at path.
func FlipByte(tb testing.TB, path string, offset int64) {
	tb.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		tb.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var b [1]byte
	if _, err := f.ReadAt(b[:], offset); err != nil {
		tb.Fatalf("read %s@%d: %v", path, offset, err)
	}
	b[0] ^= 0xff
	if _, err := f.WriteAt(b[:], offset); err != nil {
		tb.Fatalf("write %s@%d: %v", path, offset, err)
	}
}
