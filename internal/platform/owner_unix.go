//go:build unix

package platform

import (
	"io/fs"
	"syscall"
)

// FileOwner returns the UID and GID recorded in info.
func FileOwner(info fs.FileInfo) (uid, gid uint32) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Uid, stat.Gid
	}
	return 0, 0
}
