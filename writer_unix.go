//go:build unix

package xar

import "os"

// currentOwner returns the process UID and GID for members added from memory.
func currentOwner() (uid, gid uint32) {
	return uint32(os.Getuid()), uint32(os.Getgid()) //nolint:gosec // ids are non-negative on unix
}
