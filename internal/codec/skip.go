package codec

import (
	"path"
	"strings"
)

// SkipCompressionFunc reports whether a payload should be stored without
// compression. name is the member path and size the payload length.
// It is called once per member and should be inexpensive.
type SkipCompressionFunc func(name string, size int64) bool

// DefaultSkipCompression returns a SkipCompressionFunc that stores payloads
// shorter than minSize and files whose extension marks them as already
// compressed.
func DefaultSkipCompression(minSize int64) SkipCompressionFunc {
	return func(name string, size int64) bool {
		if minSize > 0 && size < minSize {
			return true
		}
		_, ok := compressedExts[strings.ToLower(path.Ext(name))]
		return ok
	}
}

// Select returns the encoding to use for a payload: EncodingNone if any
// predicate asks to skip, preferred otherwise.
func Select(preferred Encoding, name string, size int64, skips []SkipCompressionFunc) Encoding {
	if preferred == EncodingNone {
		return EncodingNone
	}
	for _, fn := range skips {
		if fn != nil && fn(name, size) {
			return EncodingNone
		}
	}
	return preferred
}

var compressedExts = map[string]struct{}{
	".7z":    {},
	".aac":   {},
	".avif":  {},
	".br":    {},
	".bz2":   {},
	".dmg":   {},
	".flac":  {},
	".gif":   {},
	".gz":    {},
	".heic":  {},
	".jpeg":  {},
	".jpg":   {},
	".lz4":   {},
	".mkv":   {},
	".mov":   {},
	".mp3":   {},
	".mp4":   {},
	".ogg":   {},
	".pkg":   {},
	".png":   {},
	".rar":   {},
	".tgz":   {},
	".webm":  {},
	".webp":  {},
	".woff2": {},
	".xar":   {},
	".xip":   {},
	".xz":    {},
	".zip":   {},
	".zst":   {},
}
