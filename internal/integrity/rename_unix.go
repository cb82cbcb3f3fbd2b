//go:build !windows

package integrity

import "os"

// atomicRename uses POSIX rename, which atomically replaces dst.
func atomicRename(src, dst string) error {
	return os.Rename(src, dst)
}
