package xar

import "strings"

// NormalizePath converts a caller-supplied member path to the form stored in
// the TOC: slash runs collapse, leading and trailing slashes are dropped,
// and an empty result becomes ".".
//
//	"/d//f1/" → "d/f1"
//
// Dot segments are kept as is. No recorded member contains one, so such a
// path never matches.
func NormalizePath(p string) string {
	parts := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}
