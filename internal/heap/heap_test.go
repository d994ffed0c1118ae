package heap

import (
	"bytes"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mackyle/xar/internal/testutil"
	"github.com/mackyle/xar/internal/xartype"
)

func TestWriterAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWriter(dir, 20)
	require.NoError(t, err)

	off, n, err := w.Append([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), off)
	assert.Equal(t, uint64(5), n)

	off, n, err = w.Append([]byte("world!"))
	require.NoError(t, err)
	assert.Equal(t, uint64(25), off)
	assert.Equal(t, uint64(6), n)

	off, n, err = w.Append(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(31), off)
	assert.Zero(t, n)
	assert.Equal(t, uint64(31), w.Size())

	var buf bytes.Buffer
	written, err := w.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(11), written)
	assert.Equal(t, "helloworld!", buf.String())

	// Appending after WriteTo continues at the end.
	off, _, err = w.Append([]byte("!"))
	require.NoError(t, err)
	assert.Equal(t, uint64(31), off)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should be removed")
}

func TestReaderRead(t *testing.T) {
	t.Parallel()

	src := testutil.NewMockByteSource([]byte("HEADERpayload-bytes"))
	r := NewReader(src, 6, 13, 0)

	got, err := r.Read(0, 7)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	got, err = r.Read(8, 5)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(got))

	assert.Equal(t, int64(2), src.Reads())

	got, err = r.Read(13, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int64(2), src.Reads(), "empty spans should not touch the source")
}

func TestReaderBounds(t *testing.T) {
	t.Parallel()

	src := testutil.NewMockByteSource(make([]byte, 64))
	r := NewReader(src, 0, 64, 16)

	tests := []struct {
		name   string
		offset uint64
		length uint64
		want   error
	}{
		{"past end", 60, 5, ErrOutOfBounds},
		{"offset past end", 65, 0, ErrOutOfBounds},
		{"overflow", math.MaxUint64, 2, ErrOutOfBounds},
		{"over span limit", 0, 17, xartype.ErrSizeOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := r.Read(tt.offset, tt.length)
			require.ErrorIs(t, err, tt.want)
		})
	}
	t.Cleanup(func() {
		assert.Zero(t, src.Reads(), "rejected spans should not touch the source")
	})
}

func TestReaderTruncatedSource(t *testing.T) {
	t.Parallel()

	// The recorded heap size claims more bytes than the source holds.
	src := testutil.NewMockByteSource([]byte("short"))
	r := NewReader(src, 0, 100, 0)

	_, err := r.Read(2, 10)
	require.Error(t, err)
}

func TestSizeHelpers(t *testing.T) {
	t.Parallel()

	_, ok := AddUint64(math.MaxUint64, 1)
	assert.False(t, ok)
	sum, ok := AddUint64(2, 3)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), sum)

	_, err := ToInt64(math.MaxInt64 + 1)
	require.ErrorIs(t, err, xartype.ErrSizeOverflow)
	v, err := ToInt(42)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
