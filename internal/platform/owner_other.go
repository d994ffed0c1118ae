//go:build !unix

package platform

import "io/fs"

// FileOwner returns zero UID/GID where ownership is not exposed.
func FileOwner(fs.FileInfo) (uid, gid uint32) {
	return 0, 0
}
