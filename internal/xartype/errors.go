package xartype

import "errors"

// Sentinel causes shared by the engine and its internal packages.
var (
	// ErrChecksumMismatch is returned when payload bytes do not match their recorded digest.
	ErrChecksumMismatch = errors.New("xar: checksum mismatch")

	// ErrDecompression is returned when a payload cannot be decoded.
	ErrDecompression = errors.New("xar: decompression failed")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("xar: size overflow")
)
