// Package xartype holds the types shared by the archive engine and its
// internal packages.
package xartype

import (
	"io/fs"
	"time"

	"github.com/mackyle/xar/internal/checksum"
	"github.com/mackyle/xar/internal/codec"
)

// Type is the kind of filesystem object a member records.
type Type uint8

const (
	TypeFile Type = iota
	TypeDirectory
	TypeSymlink
)

// String returns the name recorded in the TOC.
func (t Type) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// ParseType parses a TOC type name.
func ParseType(s string) (Type, bool) {
	switch s {
	case "file":
		return TypeFile, true
	case "directory":
		return TypeDirectory, true
	case "symlink":
		return TypeSymlink, true
	}
	return 0, false
}

// Member describes one archived filesystem object.
type Member struct {
	// Path is slash-separated and relative, with no leading separator.
	Path string

	Type Type

	// Size is the uncompressed payload length.
	Size uint64

	// Mode holds permission and special bits only.
	Mode fs.FileMode

	ModTime time.Time
	UID     uint32
	GID     uint32

	// LinkTarget is set for symlinks.
	LinkTarget string

	// Checksum is the digest of the uncompressed payload.
	Checksum checksum.Checksum

	// ArchivedChecksum is the digest of the encoded bytes in the heap.
	ArchivedChecksum checksum.Checksum

	// Offset and Length locate the encoded payload in the heap.
	Offset uint64
	Length uint64

	Encoding codec.Encoding
}

// HasData reports whether the member owns a heap span.
func (m *Member) HasData() bool {
	return m.Type != TypeDirectory
}

// IsDir reports whether the member is a directory.
func (m *Member) IsDir() bool {
	return m.Type == TypeDirectory
}
