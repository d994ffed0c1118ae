package xar

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mackyle/xar/internal/checksum"
	"github.com/mackyle/xar/internal/testutil"
	"github.com/mackyle/xar/internal/toc"
)

func TestRoundTripEncodingsAndChecksums(t *testing.T) {
	t.Parallel()

	encodings := []Encoding{EncodingNone, EncodingGzip, EncodingZstd, EncodingLZ4}
	algs := []ChecksumAlgorithm{
		ChecksumMD5, ChecksumSHA1, ChecksumSHA256,
		ChecksumSHA384, ChecksumSHA512, ChecksumBLAKE2b, ChecksumBLAKE3,
	}
	src := scenarioSource(t)

	for _, enc := range encodings {
		for _, alg := range algs {
			t.Run(fmt.Sprintf("%s/%s", enc, alg), func(t *testing.T) {
				t.Parallel()

				path := writeArchive(t, func(w *Writer) {
					require.NoError(t, w.Add(filepath.Join(src, "d"), true))
					require.NoError(t, w.Add(filepath.Join(src, "g"), false))
				}, WithChecksum(alg), WithCompression(enc))

				r := openArchive(t, path)
				assert.Equal(t, alg, r.ChecksumAlgorithm())
				require.NoError(t, r.Verify())

				m, err := r.Member("d/f2")
				require.NoError(t, err)
				assert.Equal(t, enc, m.Encoding)
				assert.Equal(t, alg, m.Checksum.Algorithm)

				dest := t.TempDir()
				stats, err := r.ExtractAll(dest)
				require.NoError(t, err)
				assert.Equal(t, ExtractStats{Dirs: 1, Files: 3, Bytes: uint64(11 + len(compressibleText) + 3)}, stats)

				assert.Equal(t, "first file\n", readFile(t, filepath.Join(dest, "d", "f1")))
				assert.Equal(t, compressibleText, readFile(t, filepath.Join(dest, "d", "f2")))
				assert.Equal(t, "gee", readFile(t, filepath.Join(dest, "g")))
			})
		}
	}
}

func TestHeaderLayout(t *testing.T) {
	t.Parallel()

	legacy := writeArchive(t, func(w *Writer) {
		require.NoError(t, w.AddFromBuffer("a", []byte("a"), 0o644))
	}, WithChecksum(ChecksumSHA1), WithCompression(EncodingGzip))
	r := openArchive(t, legacy)
	assert.Equal(t, uint16(toc.HeaderSize), r.header.Size)
	assert.Equal(t, checksum.HeaderSHA1, r.header.ChecksumID)

	modern := writeArchive(t, func(*Writer) {}, WithChecksum(ChecksumBLAKE3))
	r = openArchive(t, modern)
	assert.Equal(t, uint16(toc.HeaderSizeExtended), r.header.Size)
	assert.Equal(t, checksum.HeaderOther, r.header.ChecksumID)
	assert.Equal(t, "blake3", r.header.ChecksumName)
}

func TestTOCXML(t *testing.T) {
	t.Parallel()

	src := scenarioSource(t)
	path := writeArchive(t, func(w *Writer) {
		require.NoError(t, w.Add(filepath.Join(src, "d"), true))
	})
	r := openArchive(t, path)

	doc, err := r.TOCXML()
	require.NoError(t, err)
	require.NoError(t, toc.CheckDocument(doc))
	assert.Contains(t, string(doc), "<xar>")
	assert.Contains(t, string(doc), "<name>d/f1</name>")
	assert.Contains(t, string(doc), `style="application/zstd"`)
}

func TestOpenReaderErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		_, err := OpenReader(filepath.Join(dir, "missing.xar"))
		require.ErrorIs(t, err, ErrArchive)
		require.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("not a container", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "junk.xar")
		require.NoError(t, os.WriteFile(path, []byte("this is not an archive at all, not even close"), 0o644))
		_, err := OpenReader(path)
		require.ErrorIs(t, err, ErrFormat)
		require.ErrorIs(t, err, ErrArchive)
	})

	t.Run("empty file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "empty.xar")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		_, err := OpenReader(path)
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()
		path := writeArchive(t, func(w *Writer) {
			require.NoError(t, w.AddFromBuffer("a", []byte(compressibleText), 0o644))
		})
		require.NoError(t, os.Truncate(path, toc.HeaderSizeExtended+5))
		_, err := OpenReader(path)
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("malformed toc", func(t *testing.T) {
		t.Parallel()
		doc := []byte("<notxar/>")
		block, err := toc.Compress(doc)
		require.NoError(t, err)
		header, err := toc.NewHeader(checksum.None, uint64(len(block)), uint64(len(doc))).MarshalBinary()
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "bad.xar")
		require.NoError(t, os.WriteFile(path, append(header, block...), 0o644))
		_, err = OpenReader(path)
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("huge recorded toc size without limit", func(t *testing.T) {
		t.Parallel()
		doc := []byte("<xar><toc/></xar>")
		block, err := toc.Compress(doc)
		require.NoError(t, err)
		header, err := toc.NewHeader(checksum.None, uint64(len(block)), 1<<50).MarshalBinary()
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "huge.xar")
		require.NoError(t, os.WriteFile(path, append(header, block...), 0o644))
		_, err = OpenReader(path, WithMaxTOCSize(0))
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("toc too large", func(t *testing.T) {
		t.Parallel()
		src := scenarioSource(t)
		path := writeArchive(t, func(w *Writer) {
			require.NoError(t, w.Add(filepath.Join(src, "d"), true))
		})
		_, err := OpenReader(path, WithMaxTOCSize(16))
		require.ErrorIs(t, err, ErrFormat)
		require.ErrorIs(t, err, ErrSizeOverflow)
	})
}

func TestOpenReaderDetectsTOCCorruption(t *testing.T) {
	t.Parallel()

	src := scenarioSource(t)
	path := writeArchive(t, func(w *Writer) {
		require.NoError(t, w.Add(filepath.Join(src, "d"), true))
	})

	r, err := OpenReader(path)
	require.NoError(t, err)
	sumOffset := heapFileOffset(r, 0)
	require.NoError(t, r.Close())

	testutil.FlipByte(t, path, sumOffset)
	_, err = OpenReader(path)
	require.ErrorIs(t, err, ErrFormat)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestReaderGetSubdocByteExact(t *testing.T) {
	t.Parallel()

	content := []byte("<meta kind=\"build\">\r\n\t<note>a &amp; b</note>\n  <empty/>\r\n</meta>")
	path := writeArchive(t, func(w *Writer) {
		s, err := NewSubdoc("meta", content)
		require.NoError(t, err)
		require.NoError(t, w.AddSubdoc(s))
	})

	r := openArchive(t, path)
	got, err := r.GetSubdoc("meta")
	require.NoError(t, err)
	assert.Equal(t, content, got.Content)

	_, err = r.GetSubdoc("other")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsChecksumNone(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.xar")
	_, err := Create(path, WithChecksum(ChecksumNone))
	require.ErrorIs(t, err, ErrCreation)
	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, fs.ErrNotExist)
}

// legacyArchive writes a container without digests holding g = "gee".
func legacyArchive(t *testing.T) string {
	t.Helper()

	payload := []byte("gee")
	tc := &toc.TOC{
		CreationTime: fixedTime,
		Checksum:     checksum.None,
		Members: []Member{{
			Path: "g", Type: TypeFile, Mode: 0o644, ModTime: fixedTime,
			Size: uint64(len(payload)), Offset: 0, Length: uint64(len(payload)),
			Encoding: EncodingNone,
		}},
	}
	doc, err := tc.Marshal()
	require.NoError(t, err)
	block, err := toc.Compress(doc)
	require.NoError(t, err)
	header, err := toc.NewHeader(checksum.None, uint64(len(block)), uint64(len(doc))).MarshalBinary()
	require.NoError(t, err)

	var file []byte
	for _, part := range [][]byte{header, block, payload} {
		file = append(file, part...)
	}
	path := filepath.Join(t.TempDir(), "legacy.xar")
	require.NoError(t, os.WriteFile(path, file, 0o644))
	return path
}

func TestReadLegacyArchiveWithoutChecksums(t *testing.T) {
	t.Parallel()

	r := openArchive(t, legacyArchive(t))
	assert.Equal(t, ChecksumNone, r.ChecksumAlgorithm())

	data, err := r.ReadFile("g")
	require.NoError(t, err)
	assert.Equal(t, "gee", string(data))

	sigs, err := r.Signatures()
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestDefaultArchiveDetectsStoredCorruption(t *testing.T) {
	t.Parallel()

	// Stored payloads have no decoder to trip over, so only the digest
	// catches a flipped byte.
	path := writeArchive(t, func(w *Writer) {
		require.NoError(t, w.AddFromBuffer("g", []byte("gee"), 0o644))
	}, WithCompression(EncodingNone))

	r, err := OpenReader(path)
	require.NoError(t, err)
	m, err := r.Member("g")
	require.NoError(t, err)
	require.NotEqual(t, ChecksumNone, m.Checksum.Algorithm)
	off := heapFileOffset(r, m.Offset)
	require.NoError(t, r.Close())

	testutil.FlipByte(t, path, off)
	r = openArchive(t, path)
	_, err = r.ReadFile("g")
	require.ErrorIs(t, err, ErrChecksumMismatch)
}
