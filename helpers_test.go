package xar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mackyle/xar/internal/testutil"
)

var fixedTime = time.Date(2023, 7, 14, 9, 30, 0, 0, time.UTC)

// compressibleText is long enough to pass the default skip threshold.
var compressibleText = strings.Repeat("the quick brown fox jumps over the lazy dog\n", 8)

// scenarioSource builds src/d/{f1,f2} and src/g and returns src.
func scenarioSource(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]testutil.Node{
		"d":    {Dir: true, Mode: 0o755, ModTime: fixedTime},
		"d/f1": {Data: []byte("first file\n"), Mode: 0o644, ModTime: fixedTime},
		"d/f2": {Data: []byte(compressibleText), Mode: 0o600, ModTime: fixedTime},
		"g":    {Data: []byte("gee"), Mode: 0o644, ModTime: fixedTime},
	})
	return src
}

// writeArchive creates an archive at a fresh path, runs fill and closes it.
func writeArchive(t *testing.T, fill func(w *Writer), opts ...Option) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.xar")
	w, err := Create(path, opts...)
	require.NoError(t, err)
	fill(w)
	require.NoError(t, w.Close())
	return path
}

func openArchive(t *testing.T, path string, opts ...Option) *Reader {
	t.Helper()
	r, err := OpenReader(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// heapFileOffset returns the container file offset of heap offset off.
func heapFileOffset(r *Reader, off uint64) int64 {
	return int64(uint64(r.header.Size) + r.header.TOCCompressed + off) //nolint:gosec // test archives are small
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
