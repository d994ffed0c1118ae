package toc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mackyle/xar/internal/checksum"
)

// Magic is "xar!" read as a big-endian uint32.
const Magic uint32 = 0x78617221

// Version is the newest container version understood.
const Version uint16 = 1

const (
	// HeaderSize is the length of the fixed header.
	HeaderSize = 28

	// HeaderSizeExtended is the header length when the algorithm name follows.
	HeaderSizeExtended = HeaderSize + checksumNameLen

	checksumNameLen = 36
)

// Header is the fixed-size container header.
type Header struct {
	Size            uint16
	Version         uint16
	TOCCompressed   uint64
	TOCUncompressed uint64
	ChecksumID      uint32

	// ChecksumName is set when ChecksumID is checksum.HeaderOther.
	ChecksumName string
}

// NewHeader returns the header for a TOC block of the given lengths.
func NewHeader(alg checksum.Algorithm, compressed, uncompressed uint64) Header {
	id, name := alg.HeaderID()
	h := Header{
		Size:            HeaderSize,
		Version:         Version,
		TOCCompressed:   compressed,
		TOCUncompressed: uncompressed,
		ChecksumID:      id,
		ChecksumName:    name,
	}
	if id == checksum.HeaderOther {
		h.Size = HeaderSizeExtended
	}
	return h
}

// Algorithm resolves the header checksum id.
func (h Header) Algorithm() (checksum.Algorithm, error) {
	alg, err := checksum.FromHeader(h.ChecksumID, h.ChecksumName)
	if err != nil {
		return checksum.None, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return alg, nil
}

// MarshalBinary encodes the header.
func (h Header) MarshalBinary() ([]byte, error) {
	if len(h.ChecksumName) >= checksumNameLen {
		return nil, fmt.Errorf("%w: checksum name %q too long", ErrFormat, h.ChecksumName)
	}
	buf := make([]byte, h.Size)
	binary.BigEndian.PutUint32(buf[0:], Magic)
	binary.BigEndian.PutUint16(buf[4:], h.Size)
	binary.BigEndian.PutUint16(buf[6:], h.Version)
	binary.BigEndian.PutUint64(buf[8:], h.TOCCompressed)
	binary.BigEndian.PutUint64(buf[16:], h.TOCUncompressed)
	binary.BigEndian.PutUint32(buf[24:], h.ChecksumID)
	if h.Size >= HeaderSizeExtended {
		copy(buf[HeaderSize:], h.ChecksumName)
	}
	return buf, nil
}

// ReadHeader reads a header from r, consuming exactly Size bytes. Header
// bytes past the known fields are skipped.
func ReadHeader(r io.Reader) (Header, error) {
	var fixed [HeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Header{}, fmt.Errorf("%w: read header: %w", ErrFormat, err)
	}
	if m := binary.BigEndian.Uint32(fixed[0:]); m != Magic {
		return Header{}, fmt.Errorf("%w: bad magic %#08x", ErrFormat, m)
	}

	h := Header{
		Size:            binary.BigEndian.Uint16(fixed[4:]),
		Version:         binary.BigEndian.Uint16(fixed[6:]),
		TOCCompressed:   binary.BigEndian.Uint64(fixed[8:]),
		TOCUncompressed: binary.BigEndian.Uint64(fixed[16:]),
		ChecksumID:      binary.BigEndian.Uint32(fixed[24:]),
	}
	if h.Size < HeaderSize {
		return Header{}, fmt.Errorf("%w: header size %d", ErrFormat, h.Size)
	}
	if h.Version > Version {
		return Header{}, fmt.Errorf("%w: bad version: %d > %d", ErrFormat, h.Version, Version)
	}

	rest := make([]byte, int(h.Size)-HeaderSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Header{}, fmt.Errorf("%w: read header: %w", ErrFormat, err)
	}
	if h.ChecksumID == checksum.HeaderOther {
		if len(rest) < checksumNameLen {
			return Header{}, fmt.Errorf("%w: missing checksum name", ErrFormat)
		}
		name := rest[:checksumNameLen]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		h.ChecksumName = string(name)
	}
	return h, nil
}
