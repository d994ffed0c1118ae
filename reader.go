package xar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mackyle/xar/internal/checksum"
	"github.com/mackyle/xar/internal/codec"
	"github.com/mackyle/xar/internal/heap"
	"github.com/mackyle/xar/internal/toc"
)

// Reader provides access to an existing container. The header and TOC are
// parsed when the Reader is opened; payloads are read from the heap when a
// member is extracted.
//
// Query and extraction methods may be called from multiple goroutines;
// Close must not run concurrently with them.
type Reader struct {
	archive

	f       *os.File
	heap    *heap.Reader
	codec   *codec.Codec
	header  toc.Header
	alg     checksum.Algorithm
	created time.Time
	tocXML  []byte

	signatures []Signature
}

// OpenReader opens the container at path. Missing, unreadable and malformed
// containers return ErrArchive; malformed ones also match ErrFormat.
func OpenReader(path string, opts ...Option) (*Reader, error) {
	cfg := newConfig(opts)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrArchive, path, err)
	}

	r := &Reader{archive: newArchive(path, cfg), f: f}
	if err := r.load(); err != nil {
		f.Close()
		return nil, err
	}
	r.log().Info("opened archive", "path", path,
		"members", len(r.members.list), "subdocs", len(r.subdocs.list), "checksum", r.alg.String())
	return r, nil
}

func (r *Reader) load() error {
	info, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrArchive, r.path, err)
	}
	fileSize := uint64(info.Size()) //nolint:gosec // file sizes are non-negative

	h, err := toc.ReadHeader(io.NewSectionReader(r.f, 0, info.Size()))
	if err != nil {
		return r.formatError(err)
	}
	alg, err := h.Algorithm()
	if err != nil {
		return r.formatError(err)
	}
	if limit := r.cfg.maxTOCSize; limit > 0 && (h.TOCCompressed > limit || h.TOCUncompressed > limit) {
		return r.formatError(fmt.Errorf("toc of %d bytes exceeds limit %d: %w", max(h.TOCCompressed, h.TOCUncompressed), limit, ErrSizeOverflow))
	}

	heapStart, ok := heap.AddUint64(uint64(h.Size), h.TOCCompressed)
	if !ok || heapStart > fileSize {
		return r.formatError(fmt.Errorf("toc extends past end of file: %w", ErrOutOfBounds))
	}
	blockLen, err := heap.ToInt(h.TOCCompressed)
	if err != nil {
		return r.formatError(err)
	}
	block := make([]byte, blockLen)
	if _, err := r.f.ReadAt(block, int64(h.Size)); err != nil {
		return r.formatError(fmt.Errorf("read toc: %w", err))
	}
	doc, err := toc.Decompress(block, h.TOCUncompressed, r.cfg.maxTOCSize)
	if err != nil {
		return r.formatError(err)
	}
	t, err := toc.Parse(doc)
	if err != nil {
		return r.formatError(err)
	}

	start, err := heap.ToInt64(heapStart)
	if err != nil {
		return r.formatError(err)
	}
	r.heap = heap.NewReader(r.f, start, fileSize-heapStart, r.cfg.maxFileSize)

	// The stored digest and signatures are not member payloads and ignore
	// the size limit.
	whole := heap.NewReader(r.f, start, fileSize-heapStart, 0)
	stored, err := verifyTOC(whole, block, alg, t)
	if err != nil {
		return r.formatError(err)
	}
	sigs, err := readSignatures(whole, t, stored)
	if err != nil {
		return r.formatError(err)
	}

	cd, err := codec.New(
		codec.WithMaxDecodedSize(r.cfg.maxFileSize),
		codec.WithMaxDecoderMemory(r.cfg.maxDecoderMemory),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchive, err)
	}

	r.codec = cd
	r.header = h
	r.alg = alg
	r.created = t.CreationTime
	r.tocXML = doc
	r.signatures = sigs
	for _, m := range t.Members {
		r.members.add(m)
	}
	for _, s := range t.Subdocs {
		r.subdocs.put(s)
	}
	return nil
}

// verifyTOC checks the stored digest of the compressed TOC block and
// returns it. Legacy archives without a digest return nil.
func verifyTOC(hr *heap.Reader, block []byte, alg checksum.Algorithm, t *toc.TOC) ([]byte, error) {
	if alg == checksum.None {
		return nil, nil
	}
	if t.Checksum != alg {
		return nil, fmt.Errorf("toc checksum style %s does not match header %s", t.Checksum, alg)
	}
	if t.ChecksumSize != uint64(alg.Size()) { //nolint:gosec // digest sizes are small positive constants
		return nil, fmt.Errorf("toc checksum size %d, want %d", t.ChecksumSize, alg.Size())
	}
	stored, err := hr.Read(t.ChecksumOffset, t.ChecksumSize)
	if err != nil {
		return nil, fmt.Errorf("read toc checksum: %w", err)
	}
	if !checksum.Verify(block, checksum.Checksum{Algorithm: alg, Sum: stored}) {
		return nil, fmt.Errorf("toc: %w", ErrChecksumMismatch)
	}
	return stored, nil
}

func (r *Reader) formatError(err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFormat, r.path, err)
}

// Mode returns ModeRead.
func (r *Reader) Mode() Mode {
	return ModeRead
}

// ChecksumAlgorithm returns the archive-wide digest algorithm.
func (r *Reader) ChecksumAlgorithm() ChecksumAlgorithm {
	return r.alg
}

// CreationTime returns the time recorded when the archive was written.
// It is zero if the archive did not record one.
func (r *Reader) CreationTime() time.Time {
	return r.created
}

// TOCXML returns a copy of the decoded TOC document.
func (r *Reader) TOCXML() ([]byte, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return bytes.Clone(r.tocXML), nil
}

// Add is not supported in read mode and returns ErrArchive.
func (r *Reader) Add(fsPath string, _ bool) error {
	return r.readOnly("add " + fsPath)
}

// AddSubdoc is not supported in read mode and returns ErrArchive.
func (r *Reader) AddSubdoc(s Subdoc) error {
	return r.readOnly("add subdoc " + s.Name)
}

// RemoveSubdoc is not supported in read mode and returns ErrArchive.
func (r *Reader) RemoveSubdoc(name string) error {
	return r.readOnly("remove subdoc " + name)
}

// readOnly is the single guard for mutators called in read mode.
func (r *Reader) readOnly(op string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s: archive is open for reading", ErrArchive, op)
}

// Close releases the file handle. Calling Close again returns nil.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.codec.Close()
	if err := r.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: close %s: %w", ErrArchive, r.path, err)
	}
	r.log().Debug("closed archive", "path", r.path)
	return nil
}
