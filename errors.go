package xar

import (
	"errors"
	"fmt"

	"github.com/mackyle/xar/internal/heap"
	"github.com/mackyle/xar/internal/xartype"
)

// Error kinds.
var (
	// ErrCreation is returned when a container cannot be created or finalized.
	ErrCreation = errors.New("xar: cannot create archive")

	// ErrExtraction is returned when a member cannot be read back or written out.
	ErrExtraction = errors.New("xar: extraction failed")

	// ErrArchive is returned for operations invalid in the archive's mode or
	// state, and for containers that cannot be opened.
	ErrArchive = errors.New("xar: archive error")

	// ErrEngine is returned for other failures, such as a missing source path
	// or a malformed subdocument.
	ErrEngine = errors.New("xar: error")

	// ErrNotFound is returned when a member or subdocument does not exist.
	ErrNotFound = errors.New("xar: not found")
)

// Refinements of the kinds above.
var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = fmt.Errorf("%w: archive is closed", ErrArchive)

	// ErrFormat is returned when a container is malformed.
	ErrFormat = fmt.Errorf("%w: malformed container", ErrArchive)

	// ErrInvalidSubdoc is returned for subdocuments that are not well-formed XML.
	ErrInvalidSubdoc = fmt.Errorf("%w: invalid subdocument", ErrEngine)

	// ErrInvalidPath is returned for member paths that cannot be recorded.
	ErrInvalidPath = fmt.Errorf("%w: invalid member path", ErrEngine)

	// ErrInvalidSignature is returned when a recorded signature does not
	// verify against its certificate.
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrArchive)
)

// Causes re-exported from internal packages.
var (
	// ErrChecksumMismatch is returned when payload bytes do not match their digest.
	ErrChecksumMismatch = xartype.ErrChecksumMismatch

	// ErrDecompression is returned when a payload cannot be decoded.
	ErrDecompression = xartype.ErrDecompression

	// ErrSizeOverflow is returned when byte counts exceed configured or supported limits.
	ErrSizeOverflow = xartype.ErrSizeOverflow

	// ErrOutOfBounds is returned when a member's span lies outside the heap.
	ErrOutOfBounds = heap.ErrOutOfBounds
)
