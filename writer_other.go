//go:build !unix

package xar

// currentOwner returns zero UID/GID where the platform has no numeric owners.
func currentOwner() (uid, gid uint32) {
	return 0, 0
}
