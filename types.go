package xar

import (
	"github.com/mackyle/xar/internal/checksum"
	"github.com/mackyle/xar/internal/codec"
	"github.com/mackyle/xar/internal/xartype"
)

// Re-export types from internal packages for the public API.
type (
	// Member describes one archived file, directory or symlink.
	Member = xartype.Member

	// Type is the kind of filesystem object a member records.
	Type = xartype.Type

	// Subdoc is a named XML document stored at archive level.
	// Construct one with NewSubdoc.
	Subdoc = xartype.Subdoc

	// Checksum is a digest tagged with its algorithm.
	Checksum = checksum.Checksum

	// ChecksumAlgorithm identifies a digest algorithm.
	ChecksumAlgorithm = checksum.Algorithm

	// Encoding identifies the transform applied to a member payload.
	Encoding = codec.Encoding

	// SkipCompressionFunc reports whether a payload should be stored
	// uncompressed. It is called once per member and should be inexpensive.
	SkipCompressionFunc = codec.SkipCompressionFunc

	// ProgressEvent represents a progress update.
	ProgressEvent = xartype.ProgressEvent

	// ProgressStage identifies the phase of an operation.
	ProgressStage = xartype.ProgressStage

	// ProgressFunc receives progress updates. It must be safe for concurrent calls.
	ProgressFunc = xartype.ProgressFunc
)

// Member types.
const (
	TypeFile      = xartype.TypeFile
	TypeDirectory = xartype.TypeDirectory
	TypeSymlink   = xartype.TypeSymlink
)

// Checksum algorithms. ChecksumNone is only found in legacy archives;
// Create rejects it.
const (
	ChecksumNone    = checksum.None
	ChecksumMD5     = checksum.MD5
	ChecksumSHA1    = checksum.SHA1
	ChecksumSHA256  = checksum.SHA256
	ChecksumSHA384  = checksum.SHA384
	ChecksumSHA512  = checksum.SHA512
	ChecksumBLAKE2b = checksum.BLAKE2b
	ChecksumBLAKE3  = checksum.BLAKE3
)

// Payload encodings.
const (
	EncodingNone = codec.EncodingNone
	EncodingGzip = codec.EncodingGzip
	EncodingZstd = codec.EncodingZstd
	EncodingLZ4  = codec.EncodingLZ4
)

// Progress stages.
const (
	StageEnumerating = xartype.StageEnumerating
	StageCompressing = xartype.StageCompressing
	StageWritingTOC  = xartype.StageWritingTOC
	StageExtracting  = xartype.StageExtracting
	StageVerifying   = xartype.StageVerifying
)

// DefaultSkipCompression returns a SkipCompressionFunc that stores payloads
// smaller than minSize and files with already-compressed extensions.
var DefaultSkipCompression = codec.DefaultSkipCompression

// ParseChecksumAlgorithm parses an algorithm name such as "sha256".
var ParseChecksumAlgorithm = checksum.ParseAlgorithm

// ParseEncoding parses an encoding name or media type.
var ParseEncoding = codec.ParseEncoding
