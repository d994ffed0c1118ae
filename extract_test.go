package xar

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mackyle/xar/internal/testutil"
)

func TestExtractSingleMembers(t *testing.T) {
	t.Parallel()

	src := scenarioSource(t)
	path := writeArchive(t, func(w *Writer) {
		require.NoError(t, w.Add(filepath.Join(src, "d"), true))
	})
	r := openArchive(t, path)
	out := t.TempDir()

	dirDest := filepath.Join(out, "nested", "dir")
	require.NoError(t, r.Extract("d", dirDest))
	info, err := os.Stat(dirDest)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, fixedTime.Equal(info.ModTime()))

	m, err := r.Member("d/f2")
	require.NoError(t, err)
	fileDest := filepath.Join(out, "copy.txt")
	require.NoError(t, r.ExtractMember(m, fileDest))
	assert.Equal(t, compressibleText, readFile(t, fileDest))

	err = r.Extract("d/missing", filepath.Join(out, "x"))
	require.ErrorIs(t, err, ErrExtraction)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExtractPreservesMetadata(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}

	src := scenarioSource(t)
	path := writeArchive(t, func(w *Writer) {
		require.NoError(t, w.Add(filepath.Join(src, "d"), true))
	})
	r := openArchive(t, path)

	dest := t.TempDir()
	_, err := r.ExtractAll(dest)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dest, "d", "f2"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
	assert.True(t, fixedTime.Equal(info.ModTime()))

	// Directory times survive the files written into them.
	info, err = os.Stat(filepath.Join(dest, "d"))
	require.NoError(t, err)
	assert.True(t, fixedTime.Equal(info.ModTime()))

	plain := t.TempDir()
	_, err = r.ExtractAll(plain, ExtractWithPreserveMode(false), ExtractWithPreserveTimes(false))
	require.NoError(t, err)
	info, err = os.Stat(filepath.Join(plain, "d", "f2"))
	require.NoError(t, err)
	assert.NotEqual(t, fs.FileMode(0o600), info.Mode().Perm())
	assert.False(t, fixedTime.Equal(info.ModTime()))
}

func TestExtractOverwrite(t *testing.T) {
	t.Parallel()

	src := scenarioSource(t)
	path := writeArchive(t, func(w *Writer) {
		require.NoError(t, w.Add(filepath.Join(src, "d"), true))
		require.NoError(t, w.Add(filepath.Join(src, "g"), false))
	})
	r := openArchive(t, path)

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "g"), []byte("local"), 0o644))

	_, err := r.ExtractAll(dest, ExtractWithOverwrite(false))
	require.ErrorIs(t, err, ErrExtraction)
	require.ErrorIs(t, err, fs.ErrExist)
	assert.Equal(t, "local", readFile(t, filepath.Join(dest, "g")))

	err = r.Extract("g", filepath.Join(dest, "g"), ExtractWithOverwrite(false))
	require.ErrorIs(t, err, fs.ErrExist)

	_, err = r.ExtractAll(dest)
	require.NoError(t, err)
	assert.Equal(t, "gee", readFile(t, filepath.Join(dest, "g")))
}

func TestExtractDetectsPayloadCorruption(t *testing.T) {
	t.Parallel()

	for _, enc := range []Encoding{EncodingNone, EncodingZstd} {
		t.Run(enc.String(), func(t *testing.T) {
			t.Parallel()

			src := scenarioSource(t)
			path := writeArchive(t, func(w *Writer) {
				require.NoError(t, w.Add(filepath.Join(src, "d"), true))
				require.NoError(t, w.Add(filepath.Join(src, "g"), false))
			}, WithCompression(enc))

			r, err := OpenReader(path)
			require.NoError(t, err)
			m, err := r.Member("d/f2")
			require.NoError(t, err)
			off := heapFileOffset(r, m.Offset+m.Length/2)
			require.NoError(t, r.Close())

			testutil.FlipByte(t, path, off)

			// The TOC is intact, so the archive still opens.
			r = openArchive(t, path)
			dest := filepath.Join(t.TempDir(), "f2")
			err = r.Extract("d/f2", dest)
			require.ErrorIs(t, err, ErrExtraction)
			require.ErrorIs(t, err, ErrChecksumMismatch)
			_, statErr := os.Stat(dest)
			require.ErrorIs(t, statErr, fs.ErrNotExist)

			_, err = r.ReadFile("d/f2")
			require.ErrorIs(t, err, ErrChecksumMismatch)

			err = r.Verify()
			require.ErrorIs(t, err, ErrChecksumMismatch)
			assert.Contains(t, err.Error(), "d/f2")
			assert.NotContains(t, err.Error(), "d/f1")

			data, err := r.ReadFile("g")
			require.NoError(t, err)
			assert.Equal(t, "gee", string(data))

			_, err = r.ExtractAll(t.TempDir())
			require.ErrorIs(t, err, ErrChecksumMismatch)
		})
	}
}

func TestExtractAllParallel(t *testing.T) {
	t.Parallel()

	const n = 40
	nodes := make(map[string]testutil.Node, n+1)
	nodes["tree"] = testutil.Dir()
	for i := range n {
		body := strings.Repeat(fmt.Sprintf("line %d of file %d\n", i, i), i+1)
		nodes[fmt.Sprintf("tree/sub%d/file%02d.txt", i%4, i)] = testutil.File(body)
	}
	src := t.TempDir()
	testutil.WriteTree(t, src, nodes)

	path := writeArchive(t, func(w *Writer) {
		require.NoError(t, w.Add(filepath.Join(src, "tree"), true))
	})
	r := openArchive(t, path)

	for _, opts := range [][]ExtractOption{
		{ExtractWithWorkers(4), ExtractWithReadAheadBytes(256)},
		{ExtractWithWorkers(-1)},
		{ExtractWithWorkers(0), ExtractWithReadAheadBytes(1 << 20)},
	} {
		dest := t.TempDir()
		stats, err := r.ExtractAll(dest, opts...)
		require.NoError(t, err)
		assert.Equal(t, n, stats.Files)
		assert.Equal(t, 5, stats.Dirs)

		for name, node := range nodes {
			if node.Dir {
				continue
			}
			assert.Equal(t, string(node.Data), readFile(t, filepath.Join(dest, filepath.FromSlash(name))), name)
		}
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	src := scenarioSource(t)
	path := writeArchive(t, func(w *Writer) {
		require.NoError(t, w.Add(filepath.Join(src, "d"), true))
	}, WithCompression(EncodingLZ4))
	r := openArchive(t, path)

	data, err := r.ReadFile("d/f2")
	require.NoError(t, err)
	assert.Equal(t, compressibleText, string(data))

	_, err = r.ReadFile("d")
	require.ErrorIs(t, err, ErrExtraction)

	_, err = r.ReadFile("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadFileMaxFileSize(t *testing.T) {
	t.Parallel()

	src := scenarioSource(t)
	path := writeArchive(t, func(w *Writer) {
		require.NoError(t, w.Add(filepath.Join(src, "d"), true))
	})
	r := openArchive(t, path, WithMaxFileSize(32))

	_, err := r.ReadFile("d/f2")
	require.ErrorIs(t, err, ErrExtraction)
	require.ErrorIs(t, err, ErrSizeOverflow)

	data, err := r.ReadFile("d/f1")
	require.NoError(t, err)
	assert.Equal(t, "first file\n", string(data))
}
