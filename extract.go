package xar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mackyle/xar/internal/checksum"
	"github.com/mackyle/xar/internal/codec"
	"github.com/mackyle/xar/internal/heap"
	"github.com/mackyle/xar/internal/toc"
)

// ExtractStats summarizes an ExtractAll call.
type ExtractStats struct {
	Dirs     int
	Files    int
	Symlinks int

	// Bytes is the total decoded payload size of extracted files.
	Bytes uint64
}

// Extract writes the member at path to dest. Parent directories of dest
// are created as needed. Files are decoded, verified against both recorded
// digests and written atomically; directories are created; symlinks are
// created with their recorded target. Every failure wraps ErrExtraction.
func (r *Reader) Extract(path, dest string, opts ...ExtractOption) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	m, err := r.members.lookup(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return r.extractTo(m, dest, newExtractConfig(opts))
}

// ExtractMember is like Extract for a member obtained from Members or Member.
func (r *Reader) ExtractMember(m Member, dest string, opts ...ExtractOption) error {
	return r.Extract(m.Path, dest, opts...)
}

func (r *Reader) extractTo(m *Member, dest string, cfg extractConfig) error {
	abs, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err)
	}
	parent, base := filepath.Dir(abs), filepath.Base(abs)
	if parent == abs {
		return fmt.Errorf("%w: %s: invalid destination %q", ErrExtraction, m.Path, dest)
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err)
	}
	root, err := os.OpenRoot(parent)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err)
	}
	defer root.Close()

	sink := newFileSink(root, &cfg)
	r.reportProgress(StageExtracting, m.Path, 0, m.Size, 0, 1)
	if err := r.extractInto(sink, base, m); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err)
	}
	if m.IsDir() {
		if err := sink.applyMetadata(base, m); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err)
		}
	}
	r.reportProgress(StageExtracting, m.Path, m.Size, m.Size, 1, 1)
	r.log().Debug("extracted", "member", m.Path, "dest", dest)
	return nil
}

// extractInto writes one member at name. Directory metadata is left to the caller.
func (r *Reader) extractInto(sink *fileSink, name string, m *Member) error {
	switch m.Type {
	case TypeDirectory:
		return sink.mkdir(name)
	case TypeSymlink:
		target, err := r.readPayload(m)
		if err != nil {
			return err
		}
		return sink.symlink(name, string(target))
	default:
		data, err := r.readPayload(m)
		if err != nil {
			return err
		}
		return sink.writeFile(name, m, data)
	}
}

// ReadFile returns the verified content of the file or symlink at path.
func (r *Reader) ReadFile(path string) ([]byte, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	m, err := r.members.lookup(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	data, err := r.readPayload(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err)
	}
	return data, nil
}

// readPayload reads, verifies and decodes a member's heap span. The
// archived digest is checked before decoding and the extracted digest after.
func (r *Reader) readPayload(m *Member) ([]byte, error) {
	if !m.HasData() {
		return nil, errors.New("is a directory")
	}
	raw, err := r.heap.Read(m.Offset, m.Length)
	if err != nil {
		return nil, err
	}
	if !m.ArchivedChecksum.IsZero() && !checksum.Verify(raw, m.ArchivedChecksum) {
		return nil, fmt.Errorf("archived data: %w", ErrChecksumMismatch)
	}
	data, err := r.codec.Decode(m.Encoding, raw, m.Size)
	if err != nil {
		return nil, decodeError(err)
	}
	if !checksum.Verify(data, m.Checksum) {
		return nil, fmt.Errorf("extracted data: %w", ErrChecksumMismatch)
	}
	return data, nil
}

func decodeError(err error) error {
	switch {
	case errors.Is(err, codec.ErrSizeOverflow):
		return fmt.Errorf("%w: %w", ErrSizeOverflow, err)
	case errors.Is(err, codec.ErrDecompression), errors.Is(err, codec.ErrUnknownEncoding):
		return fmt.Errorf("%w: %w", ErrDecompression, err)
	default:
		return err
	}
}

// Verify checks every payload against both recorded digests without
// writing anything. All failures are reported, joined.
func (r *Reader) Verify() error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	var errs []error
	total := len(r.members.list)
	for i := range r.members.list {
		m := &r.members.list[i]
		if m.HasData() {
			if _, err := r.readPayload(m); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err))
			}
		}
		r.reportProgress(StageVerifying, m.Path, 0, 0, i+1, total)
	}
	return errors.Join(errs...)
}

// ExtractAll extracts every member below destDir, which is created if
// needed. Directories are created first, then file payloads are decoded and
// written (in parallel per ExtractWithWorkers), then symlinks, and finally
// directory modes and times are applied deepest first. All writes go
// through an os.Root, so no member can be written outside destDir.
func (r *Reader) ExtractAll(destDir string, opts ...ExtractOption) (ExtractStats, error) {
	if err := r.checkOpen(); err != nil {
		return ExtractStats{}, err
	}
	cfg := newExtractConfig(opts)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return ExtractStats{}, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return ExtractStats{}, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	defer root.Close()
	sink := newFileSink(root, &cfg)

	var dirs, files, links []*Member
	var totalBytes uint64
	for i := range r.members.list {
		m := &r.members.list[i]
		if !toc.ValidPath(m.Path) {
			return ExtractStats{}, fmt.Errorf("%w: %w: %q", ErrExtraction, ErrInvalidPath, m.Path)
		}
		switch m.Type {
		case TypeDirectory:
			dirs = append(dirs, m)
		case TypeSymlink:
			links = append(links, m)
		default:
			files = append(files, m)
			totalBytes += m.Size
		}
	}
	r.log().Info("extracting archive", "path", r.path, "dest", destDir,
		"dirs", len(dirs), "files", len(files), "symlinks", len(links))

	var stats ExtractStats
	for _, m := range dirs {
		if err := sink.mkdir(filepath.FromSlash(m.Path)); err != nil {
			return stats, fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err)
		}
		stats.Dirs++
	}

	bytesDone, err := r.extractFiles(sink, files, totalBytes, &cfg)
	if err != nil {
		return stats, err
	}
	stats.Files = len(files)
	stats.Bytes = bytesDone

	for _, m := range links {
		if err := r.extractInto(sink, filepath.FromSlash(m.Path), m); err != nil {
			return stats, fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err)
		}
		stats.Symlinks++
	}

	// Deepest first, so restoring a parent's mtime is not undone by a child
	// and a read-only parent does not block its children.
	for _, m := range slices.Backward(dirs) {
		if err := sink.applyMetadata(filepath.FromSlash(m.Path), m); err != nil {
			return stats, fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err)
		}
	}
	return stats, nil
}

func (r *Reader) extractFiles(sink *fileSink, files []*Member, totalBytes uint64, cfg *extractConfig) (uint64, error) {
	workers := cfg.workers
	switch {
	case workers == 0:
		workers = runtime.GOMAXPROCS(0)
	case workers < 0:
		workers = 1
	}

	var budget *semaphore.Weighted
	if cfg.readAheadBytes > 0 {
		limit, err := heap.ToInt64(cfg.readAheadBytes)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrExtraction, err)
		}
		budget = semaphore.NewWeighted(limit)
	}

	var bytesDone atomic.Uint64
	var filesDone atomic.Int64
	eg, ctx := errgroup.WithContext(context.Background())
	eg.SetLimit(workers)

	for _, m := range files {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if budget != nil {
				// A payload larger than the budget takes all of it.
				weight := int64(min(m.Size, cfg.readAheadBytes)) //nolint:gosec // readAheadBytes fits in int64
				if err := budget.Acquire(ctx, weight); err != nil {
					return err
				}
				defer budget.Release(weight)
			}
			if err := r.extractInto(sink, filepath.FromSlash(m.Path), m); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrExtraction, m.Path, err)
			}
			done := bytesDone.Add(m.Size)
			n := filesDone.Add(1)
			r.reportProgress(StageExtracting, m.Path, done, totalBytes, int(n), len(files))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return bytesDone.Load(), err
	}
	return bytesDone.Load(), nil
}
