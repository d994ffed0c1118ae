package xar

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mackyle/xar/internal/toc"
)

// NewSubdoc validates content and returns a subdocument. content must be a
// well-formed XML document with a single root element; it is stored byte
// for byte. Malformed input returns ErrInvalidSubdoc.
func NewSubdoc(name string, content []byte) (Subdoc, error) {
	if name == "" || !utf8.ValidString(name) || strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return Subdoc{}, fmt.Errorf("%w: invalid name %q", ErrInvalidSubdoc, name)
	}
	if err := toc.CheckDocument(content); err != nil {
		return Subdoc{}, fmt.Errorf("%w: %q: %w", ErrInvalidSubdoc, name, err)
	}
	return Subdoc{Name: name, Content: bytes.Clone(content)}, nil
}
