// Package checksum computes and verifies the digests recorded for archive
// members and for the table of contents.
//
// Every digest carries its algorithm so that an archive written with one
// default can still be verified after the default changes.
package checksum

import (
	"crypto"
	"crypto/md5"  //nolint:gosec // legacy xar archives use md5
	"crypto/sha1" //nolint:gosec // legacy xar archives use sha1
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Algorithm identifies a digest algorithm.
type Algorithm uint8

// Supported algorithms. The numeric values are not written to disk; the
// header uses HeaderID and the TOC uses String.
const (
	None Algorithm = iota
	MD5
	SHA1
	SHA256
	SHA384
	SHA512
	BLAKE2b
	BLAKE3
)

// Default is the algorithm used when none is configured.
const Default = SHA256

// Header ids for the fixed container header.
const (
	HeaderNone  uint32 = 0
	HeaderSHA1  uint32 = 1
	HeaderMD5   uint32 = 2
	HeaderOther uint32 = 3
)

var (
	// ErrUnknownAlgorithm is returned when an algorithm name or id is not recognized.
	ErrUnknownAlgorithm = errors.New("checksum: unknown algorithm")

	// ErrInvalidChecksum is returned when a recorded digest cannot be decoded.
	ErrInvalidChecksum = errors.New("checksum: invalid digest")
)

// digestAlgorithms maps the SHA-2 family onto go-digest so those digests
// can be exchanged with OCI tooling unchanged.
var digestAlgorithms = map[Algorithm]digest.Algorithm{
	SHA256: digest.SHA256,
	SHA384: digest.SHA384,
	SHA512: digest.SHA512,
}

var names = map[Algorithm]string{
	None:    "none",
	MD5:     "md5",
	SHA1:    "sha1",
	SHA256:  "sha256",
	SHA384:  "sha384",
	SHA512:  "sha512",
	BLAKE2b: "blake2b",
	BLAKE3:  "blake3",
}

var sizes = map[Algorithm]int{
	None:    0,
	MD5:     md5.Size,
	SHA1:    sha1.Size,
	SHA256:  32,
	SHA384:  48,
	SHA512:  64,
	BLAKE2b: blake2b.Size,
	BLAKE3:  32,
}

// String returns the style name used in the TOC.
func (a Algorithm) String() string {
	if n, ok := names[a]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(a))
}

// Valid reports whether a is a known algorithm.
func (a Algorithm) Valid() bool {
	_, ok := names[a]
	return ok
}

// Size returns the digest length in bytes.
func (a Algorithm) Size() int {
	return sizes[a]
}

// New returns a fresh hash for the algorithm.
// It panics for unknown algorithms and returns nil for None.
func (a Algorithm) New() hash.Hash {
	if da, ok := digestAlgorithms[a]; ok {
		return da.Hash()
	}
	switch a {
	case None:
		return nil
	case MD5:
		return md5.New() //nolint:gosec // legacy xar compatibility
	case SHA1:
		return sha1.New() //nolint:gosec // legacy xar compatibility
	case BLAKE2b:
		h, err := blake2b.New512(nil)
		if err != nil {
			panic(err)
		}
		return h
	case BLAKE3:
		return blake3.New()
	}
	panic(fmt.Sprintf("checksum: no hash for %s", a))
}

// CryptoHash returns the crypto.Hash used to sign digests of this
// algorithm. BLAKE digests and None cannot be signed.
func (a Algorithm) CryptoHash() (crypto.Hash, bool) {
	switch a {
	case MD5:
		return crypto.MD5, true
	case SHA1:
		return crypto.SHA1, true
	case SHA256:
		return crypto.SHA256, true
	case SHA384:
		return crypto.SHA384, true
	case SHA512:
		return crypto.SHA512, true
	}
	return 0, false
}

// HeaderID returns the id stored in the container header, and the name to
// record in the extended header when the id is HeaderOther.
func (a Algorithm) HeaderID() (id uint32, name string) {
	switch a {
	case None:
		return HeaderNone, ""
	case SHA1:
		return HeaderSHA1, ""
	case MD5:
		return HeaderMD5, ""
	default:
		return HeaderOther, a.String()
	}
}

// FromHeader resolves a header id (and extended name) to an algorithm.
func FromHeader(id uint32, name string) (Algorithm, error) {
	switch id {
	case HeaderNone:
		return None, nil
	case HeaderSHA1:
		return SHA1, nil
	case HeaderMD5:
		return MD5, nil
	case HeaderOther:
		return ParseAlgorithm(name)
	}
	return None, fmt.Errorf("%w: header id %d", ErrUnknownAlgorithm, id)
}

// ParseAlgorithm parses a style name. Matching is case-insensitive and
// accepts the hyphenated SHA spellings some writers use ("sha-256").
func ParseAlgorithm(name string) (Algorithm, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "")
	for a, s := range names {
		if s == n {
			return a, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

// Checksum is a digest tagged with the algorithm that produced it.
type Checksum struct {
	Algorithm Algorithm
	Sum       []byte
}

// Digest computes the checksum of data with algorithm a.
func Digest(a Algorithm, data []byte) Checksum {
	h := a.New()
	if h == nil {
		return Checksum{Algorithm: None}
	}
	_, _ = h.Write(data) //nolint:errcheck // hash writes never fail
	return Checksum{Algorithm: a, Sum: h.Sum(nil)}
}

// Verify reports whether data matches c. A None checksum always verifies.
func Verify(data []byte, c Checksum) bool {
	if c.Algorithm == None {
		return true
	}
	if !c.Algorithm.Valid() || len(c.Sum) != c.Algorithm.Size() {
		return false
	}
	got := Digest(c.Algorithm, data)
	return subtle.ConstantTimeCompare(got.Sum, c.Sum) == 1
}

// IsZero reports whether no digest is recorded.
func (c Checksum) IsZero() bool {
	return c.Algorithm == None && len(c.Sum) == 0
}

// Hex returns the lowercase hex encoding of the sum.
func (c Checksum) Hex() string {
	return hex.EncodeToString(c.Sum)
}

// Equal reports whether two checksums have the same algorithm and sum.
func (c Checksum) Equal(o Checksum) bool {
	return c.Algorithm == o.Algorithm && subtle.ConstantTimeCompare(c.Sum, o.Sum) == 1
}

// String renders the checksum as "algorithm:hex".
func (c Checksum) String() string {
	if d, ok := c.Digest(); ok {
		return d.String()
	}
	return c.Algorithm.String() + ":" + c.Hex()
}

// Digest returns the OCI digest form of the checksum. ok is false for
// algorithms outside the SHA-2 family.
func (c Checksum) Digest() (d digest.Digest, ok bool) {
	da, ok := digestAlgorithms[c.Algorithm]
	if !ok || len(c.Sum) != c.Algorithm.Size() {
		return "", false
	}
	return digest.NewDigestFromBytes(da, c.Sum), true
}

// Parse decodes a checksum recorded as a style name and hex value.
func Parse(style, value string) (Checksum, error) {
	a, err := ParseAlgorithm(style)
	if err != nil {
		return Checksum{}, err
	}
	if a == None {
		return Checksum{Algorithm: None}, nil
	}
	value = strings.ToLower(strings.TrimSpace(value))
	if da, ok := digestAlgorithms[a]; ok {
		d := digest.NewDigestFromEncoded(da, value)
		if err := d.Validate(); err != nil {
			return Checksum{}, fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
		}
	}
	sum, err := hex.DecodeString(value)
	if err != nil {
		return Checksum{}, fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	if len(sum) != a.Size() {
		return Checksum{}, fmt.Errorf("%w: %s digest is %d bytes, want %d", ErrInvalidChecksum, a, len(sum), a.Size())
	}
	return Checksum{Algorithm: a, Sum: sum}, nil
}
