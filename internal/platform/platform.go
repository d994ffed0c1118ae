// Package platform wraps the OS-specific pieces of reading source trees.
package platform

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrSymlink is returned when a payload read reaches a symbolic link.
	ErrSymlink = errors.New("platform: refusing to follow symbolic link")

	// ErrTooLarge is returned when a file exceeds the read limit.
	ErrTooLarge = errors.New("platform: file too large")
)

// ReadFileNoFollow reads a regular file under root without following a
// final symlink. Files longer than limit bytes fail with ErrTooLarge;
// a zero limit disables the check.
func ReadFileNoFollow(root *os.Root, name string, limit uint64) ([]byte, error) {
	f, err := OpenFileNoFollow(root, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", name)
	}
	if limit > 0 && uint64(info.Size()) > limit { //nolint:gosec // size of a regular file is non-negative
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, name, info.Size(), limit)
	}

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, int64(min(limit, uint64(1<<62)))+1) //nolint:gosec // bounded above
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && uint64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s grew past %d bytes", ErrTooLarge, name, limit)
	}
	return data, nil
}
