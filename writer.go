package xar

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/mackyle/xar/internal/checksum"
	"github.com/mackyle/xar/internal/codec"
	"github.com/mackyle/xar/internal/heap"
	"github.com/mackyle/xar/internal/toc"
)

// Writer builds a new container. Members and subdocuments are staged in
// memory and payloads in a temp heap next to the target. Close writes the
// finished container to a temp file in the target's directory and renames
// it into place, so an existing target is untouched until Close succeeds.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	archive

	f          *os.File
	heap       *heap.Writer
	codec      *codec.Codec
	signatures []toc.Signature
}

// Create prepares a new container at path and returns a Writer. With
// WithOverwrite(false) an existing file is an error, both here and when
// Close renames the finished container into place. All failures wrap
// ErrCreation.
//
// ChecksumNone is rejected: every new archive records digests. Archives
// without them can still be read.
func Create(path string, opts ...Option) (*Writer, error) {
	cfg := newConfig(opts)
	if cfg.checksum == checksum.None {
		return nil, fmt.Errorf("%w: archives must record a checksum", ErrCreation)
	}
	if !cfg.checksum.Valid() {
		return nil, fmt.Errorf("%w: unknown checksum algorithm %s", ErrCreation, cfg.checksum)
	}
	if !cfg.compression.Valid() {
		return nil, fmt.Errorf("%w: unknown encoding %s", ErrCreation, cfg.compression)
	}
	plan, err := planSignatures(cfg.signers, cfg.checksum)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreation, err)
	}
	if !cfg.overwrite {
		if err := checkAbsent(path); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCreation, err)
		}
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".xar-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreation, err)
	}
	discard := func() {
		f.Close()
		os.Remove(f.Name())
	}

	hw, err := heap.NewWriter(dir, reservedHeap(cfg.checksum, plan))
	if err != nil {
		discard()
		return nil, fmt.Errorf("%w: %w", ErrCreation, err)
	}

	cd, err := codec.New(codecOptions(cfg)...)
	if err != nil {
		hw.Close()
		discard()
		return nil, fmt.Errorf("%w: %w", ErrCreation, err)
	}

	w := &Writer{
		archive:    newArchive(path, cfg),
		f:          f,
		heap:       hw,
		codec:      cd,
		signatures: plan,
	}
	w.log().Info("creating archive", "path", path,
		"checksum", cfg.checksum.String(), "compression", cfg.compression.String())
	return w, nil
}

// checkAbsent fails with fs.ErrExist when anything exists at path.
func checkAbsent(path string) error {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return fmt.Errorf("%s: %w", path, fs.ErrExist)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return err
	}
}

// codecOptions maps the configured compression level onto each encoder.
func codecOptions(cfg config) []codec.Option {
	opts := []codec.Option{codec.WithMaxDecoderMemory(cfg.maxDecoderMemory)}
	if level := cfg.compressionLevel; level != 0 {
		opts = append(opts,
			codec.WithZlibLevel(min(max(level, zlib.BestSpeed), zlib.BestCompression)),
			codec.WithZstdLevel(zstd.EncoderLevelFromZstd(level)),
		)
	}
	return opts
}

// Mode returns ModeWrite.
func (w *Writer) Mode() Mode {
	return ModeWrite
}

// AddFromBuffer records a regular file member at path with data as its
// content. path is normalized with NormalizePath.
func (w *Writer) AddFromBuffer(path string, data []byte, mode fs.FileMode) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	p := NormalizePath(path)
	if !toc.ValidPath(p) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if w.members.has(p) {
		return fmt.Errorf("%w: duplicate member %q", ErrArchive, p)
	}
	if w.cfg.maxFileSize > 0 && uint64(len(data)) > w.cfg.maxFileSize {
		return fmt.Errorf("%w: %s: %w", ErrEngine, p, ErrSizeOverflow)
	}

	uid, gid := currentOwner()
	m := Member{
		Path:    p,
		Type:    TypeFile,
		Mode:    mode & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky),
		ModTime: time.Now(),
		UID:     uid,
		GID:     gid,
	}
	if err := w.storePayload(&m, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEngine, p, err)
	}
	w.members.add(m)
	w.reportProgress(StageCompressing, p, m.Size, m.Size, len(w.members.list), 0)
	return nil
}

// storePayload digests, encodes and appends data, filling in the member's
// data fields. Incompressible payloads fall back to EncodingNone.
func (w *Writer) storePayload(m *Member, data []byte) error {
	alg := w.cfg.checksum
	m.Size = uint64(len(data))
	m.Checksum = checksum.Digest(alg, data)

	enc := codec.Select(w.cfg.compression, m.Path, int64(len(data)), w.cfg.skipCompression)
	encoded, err := w.codec.Encode(enc, data)
	if errors.Is(err, codec.ErrIncompressible) {
		w.log().Debug("stored uncompressed", "path", m.Path, "encoding", enc.String())
		enc, encoded, err = codec.EncodingNone, data, nil
	}
	if err != nil {
		return err
	}

	m.Encoding = enc
	m.ArchivedChecksum = m.Checksum
	if enc != codec.EncodingNone {
		m.ArchivedChecksum = checksum.Digest(alg, encoded)
	}

	offset, length, err := w.heap.Append(encoded)
	if err != nil {
		return err
	}
	m.Offset = offset
	m.Length = length
	return nil
}

// AddSubdoc stores s, replacing any subdocument with the same name in place.
// s is validated as by NewSubdoc.
func (w *Writer) AddSubdoc(s Subdoc) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	sd, err := NewSubdoc(s.Name, s.Content)
	if err != nil {
		return err
	}
	w.subdocs.put(sd)
	return nil
}

// RemoveSubdoc deletes the named subdocument. A missing name is ErrNotFound
// and leaves the archive unchanged.
func (w *Writer) RemoveSubdoc(name string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if !w.subdocs.remove(name) {
		return fmt.Errorf("%w: subdoc %q", ErrNotFound, name)
	}
	return nil
}

// Extract is not supported in write mode and returns ErrArchive.
func (w *Writer) Extract(path, _ string, _ ...ExtractOption) error {
	return w.writeOnly("extract " + path)
}

// ExtractMember is not supported in write mode and returns ErrArchive.
func (w *Writer) ExtractMember(m Member, _ string, _ ...ExtractOption) error {
	return w.writeOnly("extract " + m.Path)
}

func (w *Writer) writeOnly(op string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s: archive is open for writing", ErrArchive, op)
}

// Close writes the header, TOC, TOC digest, signatures and heap, moves the
// container into place and releases all resources. On failure the target
// is left as it was. The Writer cannot be used afterwards. Calling Close
// again returns nil.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.codec.Close()

	tmp := w.f.Name()
	err := w.finalize()
	if herr := w.heap.Close(); herr != nil && err == nil {
		err = herr
	}
	if cerr := w.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err == nil && !w.cfg.overwrite {
		err = checkAbsent(w.path)
	}
	if err == nil {
		err = os.Rename(tmp, w.path)
	}
	if err != nil {
		os.Remove(tmp)
		w.log().Error("finalizing archive failed", "path", w.path, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrCreation, w.path, err)
	}
	w.log().Info("archive written", "path", w.path,
		"members", len(w.members.list), "subdocs", len(w.subdocs.list), "heap_size", w.heap.Size())
	return nil
}

func (w *Writer) finalize() error {
	alg := w.cfg.checksum
	w.reportProgress(StageWritingTOC, "", 0, w.heap.Size(), len(w.members.list), len(w.members.list))

	t := &toc.TOC{
		CreationTime:   time.Now().UTC(),
		Checksum:       alg,
		ChecksumOffset: 0,
		ChecksumSize:   uint64(alg.Size()), //nolint:gosec // digest sizes are small positive constants
		Signatures:     w.signatures,
		Members:        w.members.list,
		Subdocs:        w.subdocs.list,
	}
	doc, err := t.Marshal()
	if err != nil {
		return err
	}
	block, err := toc.Compress(doc)
	if err != nil {
		return err
	}
	sum := checksum.Digest(alg, block)
	sigs, err := sign(w.cfg.signers, w.signatures, sum)
	if err != nil {
		return err
	}

	header, err := toc.NewHeader(alg, uint64(len(block)), uint64(len(doc))).MarshalBinary()
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(w.f, 256<<10)
	parts := append([][]byte{header, block, sum.Sum}, sigs...)
	for _, part := range parts {
		if _, err := bw.Write(part); err != nil {
			return fmt.Errorf("write container: %w", err)
		}
	}
	if _, err := w.heap.WriteTo(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write container: %w", err)
	}
	if err := w.f.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod container: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync container: %w", err)
	}
	return nil
}
