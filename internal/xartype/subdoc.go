package xartype

import "bytes"

// Subdoc is a named XML document stored at archive level.
type Subdoc struct {
	Name    string
	Content []byte
}

// Equal reports whether both name and content match byte for byte.
func (s Subdoc) Equal(o Subdoc) bool {
	return s.Name == o.Name && bytes.Equal(s.Content, o.Content)
}

// Clone returns a copy that shares no memory with s.
func (s Subdoc) Clone() Subdoc {
	return Subdoc{Name: s.Name, Content: bytes.Clone(s.Content)}
}
